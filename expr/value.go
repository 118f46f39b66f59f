package expr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// truthy converts a value to boolean.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}

// toNumber attempts to convert a value to float64.
func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// compare evaluates a comparison. nil orders below any non-nil value;
// two nils are equal. Numbers compare numerically, everything else by
// string rendering.
func compare(left any, op string, right any) bool {
	if left == nil && right == nil {
		return op == "==" || op == ">=" || op == "<="
	}
	if left == nil || right == nil {
		switch op {
		case "!=":
			return true
		case "==":
			return false
		}
		if left == nil {
			return op == "<" || op == "<="
		}
		return op == ">" || op == ">="
	}

	lf, lok := toNumber(left)
	rf, rok := toNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

// fieldAccess resolves a dot access on a map value. Only map keys are
// reachable; there is deliberately no method or struct-field access.
func fieldAccess(v any, field string) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot access field %q on value of type %T", field, v)
	}
	val, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	return val, nil
}

// indexAccess resolves list indexing and map key lookup.
func indexAccess(v any, index any) (any, error) {
	switch container := v.(type) {
	case []any:
		f, ok := toNumber(index)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("list index must be an integer, got %v", index)
		}
		i := int(f)
		if i < 0 || i >= len(container) {
			return nil, fmt.Errorf("list index %d out of range [0, %d)", i, len(container))
		}
		return container[i], nil
	case map[string]any:
		key, ok := index.(string)
		if !ok {
			return nil, fmt.Errorf("map key must be a string, got %T", index)
		}
		val, ok := container[key]
		if !ok {
			return nil, fmt.Errorf("unknown key %q", key)
		}
		return val, nil
	default:
		return nil, fmt.Errorf("cannot index value of type %T", v)
	}
}

func numericFn1(name string, fn func(float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes 1 argument, got %d", name, len(args))
		}
		f, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("%s needs a numeric argument, got %T", name, args[0])
		}
		return fn(f), nil
	}
}

func numericFn2(name string, fn func(float64, float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s takes 2 arguments, got %d", name, len(args))
		}
		a, aok := toNumber(args[0])
		b, bok := toNumber(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("%s needs numeric arguments", name)
		}
		return fn(a, b), nil
	}
}

func reduceFn(name string, fn func(float64, float64) float64) func([]any) (any, error) {
	return func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s takes at least 1 argument", name)
		}
		acc, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("%s needs numeric arguments, got %T", name, args[0])
		}
		for _, arg := range args[1:] {
			f, ok := toNumber(arg)
			if !ok {
				return nil, fmt.Errorf("%s needs numeric arguments, got %T", name, arg)
			}
			acc = fn(acc, f)
		}
		return acc, nil
	}
}

func fnLen(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len takes 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case string:
		return float64(len(v)), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		rv := reflect.ValueOf(args[0])
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.String:
			return float64(rv.Len()), nil
		}
		return nil, fmt.Errorf("len does not apply to %T", args[0])
	}
}

func fnStr(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("str takes 1 argument, got %d", len(args))
	}
	if f, ok := args[0].(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return fmt.Sprintf("%v", args[0]), nil
}

func fnInt(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("int takes 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as int", v)
		}
		return math.Trunc(f), nil
	default:
		f, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("cannot convert %T to int", args[0])
		}
		return math.Trunc(f), nil
	}
}

func fnFloat(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("float takes 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", v)
		}
		return f, nil
	default:
		f, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("cannot convert %T to float", args[0])
		}
		return f, nil
	}
}
