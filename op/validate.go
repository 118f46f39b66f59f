package op

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/flowforge/flowforge/types"
)

// Point is a small 2D value type used to exercise the Convert hook:
// a "x,y" string is coerced into a Point before the type check.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// ParsePoint converts a raw value into a Point. Accepts a Point, a
// *Point, or a "x,y" string.
func ParsePoint(raw any) (any, error) {
	switch v := raw.(type) {
	case Point:
		return v, nil
	case *Point:
		return *v, nil
	case string:
		parts := strings.Split(v, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("cannot parse %q as point, want \"x,y\"", v)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as point: %w", v, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as point: %w", v, err)
		}
		return Point{X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to point", raw)
	}
}

// HistoryCarrier is implemented by values that can carry provenance
// annotations appended by the registry after a successful invocation.
type HistoryCarrier interface {
	AppendHistory(entry string)
}

// Tracked wraps a value with an attached provenance history.
type Tracked struct {
	Value   any      `json:"value" yaml:"value"`
	History []string `json:"history,omitempty" yaml:"history,omitempty"`
}

// AppendHistory implements HistoryCarrier.
func (t *Tracked) AppendHistory(entry string) {
	t.History = append(t.History, entry)
}

// validateInput checks a bound value against an input spec. The Convert
// hook runs first; nil is accepted only when the spec allows it; an
// integer is accepted where a float is declared.
func validateInput(opName string, spec *InputSpec, value any) (any, error) {
	if spec.Convert != nil && value != nil {
		converted, err := spec.Convert(value)
		if err != nil {
			return nil, types.Errorf(types.ErrValidation, "cannot convert value: %v", err).
				WithOperation(opName).WithInput(spec.Name)
		}
		value = converted
	}

	if value == nil {
		if spec.Nullable || (spec.HasDefault && spec.Default == nil) || containsValue(spec.ValueSet, nil) {
			return nil, nil
		}
		return nil, types.NewError(types.ErrValidation, "value must not be nil").
			WithOperation(opName).WithInput(spec.Name)
	}

	if err := checkType(spec.DataType, value); err != nil {
		return nil, types.Errorf(types.ErrValidation, "%v", err).
			WithOperation(opName).WithInput(spec.Name)
	}

	if len(spec.ValueSet) > 0 && !containsValue(spec.ValueSet, value) {
		return nil, types.Errorf(types.ErrValidation, "value %v is not in the allowed set", value).
			WithOperation(opName).WithInput(spec.Name)
	}

	if spec.ValueRange != nil {
		f, ok := asFloat(value)
		if !ok {
			return nil, types.Errorf(types.ErrValidation, "value %v is not numeric, cannot check range", value).
				WithOperation(opName).WithInput(spec.Name)
		}
		if f < spec.ValueRange.Min || f > spec.ValueRange.Max {
			return nil, types.Errorf(types.ErrValidation, "value %v is out of range [%v, %v]",
				value, spec.ValueRange.Min, spec.ValueRange.Max).
				WithOperation(opName).WithInput(spec.Name)
		}
	}

	return value, nil
}

// validateOutput checks a computed value against an output spec.
func validateOutput(opName string, spec *OutputSpec, value any) error {
	if value == nil {
		return nil
	}
	if err := checkType(spec.DataType, value); err != nil {
		return types.Errorf(types.ErrValidation, "output: %v", err).
			WithOperation(opName).WithInput(spec.Name)
	}
	return nil
}

// checkType verifies a non-nil value against a declared data type tag.
func checkType(dt DataType, value any) error {
	switch dt {
	case TypeAny, "":
		return nil
	case TypeBool:
		if _, ok := value.(bool); ok {
			return nil
		}
	case TypeInt:
		if isInt(value) {
			return nil
		}
	case TypeFloat:
		// Numeric widening: an integer is accepted where a float is declared.
		if _, ok := asFloat(value); ok {
			return nil
		}
	case TypeStr:
		if _, ok := value.(string); ok {
			return nil
		}
	case TypeList:
		if reflect.ValueOf(value).Kind() == reflect.Slice {
			return nil
		}
	case TypeMap:
		if reflect.ValueOf(value).Kind() == reflect.Map {
			return nil
		}
	case TypePoint:
		if _, ok := value.(Point); ok {
			return nil
		}
	case TypeMonitor:
		if _, ok := value.(types.Monitor); ok {
			return nil
		}
	default:
		return fmt.Errorf("unknown data type tag %q", dt)
	}
	return fmt.Errorf("value of type %T is not compatible with declared type %q", value, dt)
}

func isInt(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// containsValue reports set membership, comparing numbers by value.
func containsValue(set []any, v any) bool {
	for _, item := range set {
		if item == nil && v == nil {
			return true
		}
		if item == nil || v == nil {
			continue
		}
		fi, iok := asFloat(item)
		fv, vok := asFloat(v)
		if iok && vok {
			if fi == fv {
				return true
			}
			continue
		}
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}
