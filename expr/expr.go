package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Eval evaluates an expression against the given variable bindings.
// Identifiers resolve only from vars; functions resolve only from the
// fixed allow-list. Anything else is an error, by construction.
func Eval(expression string, vars map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}

	tokens, err := tokenize(expression)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, vars: vars}
	val, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		return nil, fmt.Errorf("unexpected token %q at position %d", t.value, t.pos)
	}
	return val, nil
}

// Validate parses the expression without evaluating it.
func Validate(expression string) error {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return fmt.Errorf("empty expression")
	}
	tokens, err := tokenize(expression)
	if err != nil {
		return err
	}
	p := &parser{tokens: tokens, parseOnly: true}
	if _, err := p.parseOr(); err != nil {
		return err
	}
	if p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		return fmt.Errorf("unexpected token %q at position %d", t.value, t.pos)
	}
	return nil
}

// functions is the fixed allow-list callable from expressions.
var functions = map[string]func(args []any) (any, error){
	"abs":   numericFn1("abs", math.Abs),
	"sqrt":  numericFn1("sqrt", math.Sqrt),
	"floor": numericFn1("floor", math.Floor),
	"ceil":  numericFn1("ceil", math.Ceil),
	"round": numericFn1("round", math.Round),
	"pow":   numericFn2("pow", math.Pow),
	"min":   reduceFn("min", math.Min),
	"max":   reduceFn("max", math.Max),
	"len":   fnLen,
	"str":   fnStr,
	"int":   fnInt,
	"float": fnFloat,
}

type parser struct {
	tokens    []token
	pos       int
	vars      map[string]any
	parseOnly bool
}

func (p *parser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t == nil {
		return token{}, fmt.Errorf("unexpected end of expression, expected %s", what)
	}
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %q at position %d", what, t.value, t.pos)
	}
	return p.advance(), nil
}

// parseOr handles: expr || expr
func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() != nil && p.peek().kind == tkOp && p.peek().value == "||" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

// parseAnd handles: expr && expr
func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek() != nil && p.peek().kind == tkOp && p.peek().value == "&&" {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

// parseComparison handles: expr (==|!=|>|<|>=|<=) expr
func (p *parser) parseComparison() (any, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil && t.kind == tkOp {
		switch t.value {
		case "==", "!=", ">", "<", ">=", "<=":
			op := p.advance().value
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return compare(left, op, right), nil
		}
	}
	return left, nil
}

// parseAdditive handles: expr (+|-) expr
func (p *parser) parseAdditive() (any, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t != nil && t.kind == tkOp && (t.value == "+" || t.value == "-"); t = p.peek() {
		op := p.advance().value
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left, err = p.arith(left, op, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

// parseMultiplicative handles: expr (*|/|%) expr
func (p *parser) parseMultiplicative() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t != nil && t.kind == tkOp && (t.value == "*" || t.value == "/" || t.value == "%"); t = p.peek() {
		op := p.advance().value
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = p.arith(left, op, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

// parseUnary handles: !expr, -expr
func (p *parser) parseUnary() (any, error) {
	if t := p.peek(); t != nil && t.kind == tkOp {
		switch t.value {
		case "!":
			p.advance()
			val, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return !truthy(val), nil
		case "-":
			p.advance()
			val, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			if p.parseOnly {
				return nil, nil
			}
			f, ok := toNumber(val)
			if !ok {
				return nil, fmt.Errorf("cannot negate value of type %T", val)
			}
			return -f, nil
		}
	}
	return p.parsePostfix()
}

// parsePostfix handles calls, indexing, and dot-field access.
func (p *parser) parsePostfix() (any, error) {
	// A call only applies to a bare allow-listed identifier.
	if t := p.peek(); t != nil && t.kind == tkIdent {
		if next := p.pos + 1; next < len(p.tokens) && p.tokens[next].kind == tkLParen {
			if !isKeyword(t.value) {
				return p.parseCall()
			}
		}
	}

	val, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		t := p.peek()
		if t == nil {
			return val, nil
		}
		switch t.kind {
		case tkDot:
			p.advance()
			field, err := p.expect(tkIdent, "field name")
			if err != nil {
				return nil, err
			}
			if p.parseOnly {
				continue
			}
			val, err = fieldAccess(val, field.value)
			if err != nil {
				return nil, err
			}
		case tkLBracket:
			p.advance()
			index, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tkRBracket, "]"); err != nil {
				return nil, err
			}
			if p.parseOnly {
				continue
			}
			val, err = indexAccess(val, index)
			if err != nil {
				return nil, err
			}
		default:
			return val, nil
		}
	}
}

func (p *parser) parseCall() (any, error) {
	name := p.advance().value
	fn, ok := functions[name]
	if !ok {
		return nil, fmt.Errorf("function %q is not allowed", name)
	}
	if _, err := p.expect(tkLParen, "("); err != nil {
		return nil, err
	}

	var args []any
	if t := p.peek(); t != nil && t.kind != tkRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			t := p.peek()
			if t == nil {
				return nil, fmt.Errorf("unexpected end of expression in call to %q", name)
			}
			if t.kind == tkComma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(tkRParen, ")"); err != nil {
		return nil, err
	}
	if p.parseOnly {
		return nil, nil
	}
	return fn(args)
}

func (p *parser) parsePrimary() (any, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		return strconv.ParseFloat(t.value, 64)

	case tkString:
		p.advance()
		return t.value, nil

	case tkIdent:
		p.advance()
		switch t.value {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil", "null":
			return nil, nil
		}
		if p.parseOnly {
			return nil, nil
		}
		val, ok := p.vars[t.value]
		if !ok {
			return nil, fmt.Errorf("unknown name %q", t.value)
		}
		return val, nil

	case tkLParen:
		p.advance()
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, ")"); err != nil {
			return nil, err
		}
		return val, nil

	case tkLBracket:
		return p.parseList()

	case tkLBrace:
		return p.parseDict()

	default:
		return nil, fmt.Errorf("unexpected token %q at position %d", t.value, t.pos)
	}
}

func (p *parser) parseList() (any, error) {
	p.advance() // [
	list := make([]any, 0)
	for {
		t := p.peek()
		if t == nil {
			return nil, fmt.Errorf("unterminated list literal")
		}
		if t.kind == tkRBracket {
			p.advance()
			return list, nil
		}
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
		t = p.peek()
		if t != nil && t.kind == tkComma {
			p.advance()
		}
	}
}

func (p *parser) parseDict() (any, error) {
	p.advance() // {
	dict := make(map[string]any)
	for {
		t := p.peek()
		if t == nil {
			return nil, fmt.Errorf("unterminated dict literal")
		}
		if t.kind == tkRBrace {
			p.advance()
			return dict, nil
		}
		var key string
		switch t.kind {
		case tkString, tkIdent:
			key = t.value
			p.advance()
		default:
			return nil, fmt.Errorf("expected dict key, got %q at position %d", t.value, t.pos)
		}
		if _, err := p.expect(tkColon, ":"); err != nil {
			return nil, err
		}
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		dict[key] = value
		t = p.peek()
		if t != nil && t.kind == tkComma {
			p.advance()
		}
	}
}

// arith applies a binary arithmetic operator. "+" also concatenates strings.
func (p *parser) arith(left any, opr string, right any) (any, error) {
	if p.parseOnly {
		return nil, nil
	}
	if opr == "+" {
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}
	lf, lok := toNumber(left)
	rf, rok := toNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q needs numeric operands, got %T and %T", opr, left, right)
	}
	switch opr {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown operator %q", opr)
}

func isKeyword(s string) bool {
	switch s {
	case "true", "false", "nil", "null":
		return true
	}
	return false
}
