package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/fluxwire-io/fluxwire/internal/adapters/template"
	"github.com/fluxwire-io/fluxwire/internal/domain"
)

// evalConditionParam evaluates a condition node's resolved expression
// parameter. Template resolution may already have produced a typed
// value (a bare {{flag}} token), in which case truthiness applies
// directly; strings go through the expression parser.
func evalConditionParam(param domain.Value, vars map[string]domain.Value) (bool, error) {
	switch v := param.(type) {
	case nil:
		return false, fmt.Errorf("missing expression")
	case string:
		return evalCondition(v, vars)
	default:
		b, ok := domain.AsBool(v)
		if !ok {
			return false, fmt.Errorf("expression value %v is not boolean", v)
		}
		return b, nil
	}
}

// evalCondition parses and evaluates a boolean expression over the
// variable context. Supported: literals (numbers, single- or
// double-quoted strings, true/false/null), identifiers, comparisons
// (== != < <= > >=), boolean operators (&& || !) and parentheses.
func evalCondition(expr string, vars map[string]domain.Value) (bool, error) {
	p := &condParser{input: expr, vars: vars}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return false, fmt.Errorf("unexpected trailing input at %q", p.input[p.pos:])
	}
	b, ok := domain.AsBool(v)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

type condParser struct {
	input string
	pos   int
	vars  map[string]domain.Value
}

func (p *condParser) parseOr() (domain.Value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.consume("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, _ := domain.AsBool(left)
		rb, _ := domain.AsBool(right)
		left = lb || rb
	}
	return left, nil
}

func (p *condParser) parseAnd() (domain.Value, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.consume("&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lb, _ := domain.AsBool(left)
		rb, _ := domain.AsBool(right)
		left = lb && rb
	}
	return left, nil
}

func (p *condParser) parseComparison() (domain.Value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.consume(op) {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return compare(op, left, right)
		}
	}
	return left, nil
}

func (p *condParser) parseUnary() (domain.Value, error) {
	if p.consume("!") {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, _ := domain.AsBool(v)
		return !b, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (domain.Value, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch c := p.input[p.pos]; {
	case c == '(':
		p.pos++
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.consume(")") {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return v, nil

	case c == '\'' || c == '"':
		return p.parseString(c)

	case c == '-' || unicode.IsDigit(rune(c)):
		return p.parseNumber()

	default:
		return p.parseIdentifier()
	}
}

func (p *condParser) parseString(quote byte) (domain.Value, error) {
	end := strings.IndexByte(p.input[p.pos+1:], quote)
	if end < 0 {
		return nil, fmt.Errorf("unterminated string literal")
	}
	s := p.input[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return s, nil
}

func (p *condParser) parseNumber() (domain.Value, error) {
	start := p.pos
	if p.input[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.input) && (unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
		p.pos++
	}
	f, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return f, nil
}

func (p *condParser) parseIdentifier() (domain.Value, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return nil, fmt.Errorf("unexpected character %q", p.input[p.pos])
	}
	name := p.input[start:p.pos]

	switch name {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if v, ok := template.Lookup(name, p.vars); ok {
		return v, nil
	}
	return nil, fmt.Errorf("undefined identifier %q", name)
}

func (p *condParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

// consume matches tok at the cursor, with one guard: a bare "<" or ">"
// never matches when it is the head of "<=" or ">=", and "!" never
// matches "!=".
func (p *condParser) consume(tok string) bool {
	p.skipSpace()
	if !strings.HasPrefix(p.input[p.pos:], tok) {
		return false
	}
	rest := p.input[p.pos+len(tok):]
	if (tok == "<" || tok == ">" || tok == "!") && strings.HasPrefix(rest, "=") {
		return false
	}
	p.pos += len(tok)
	return true
}

// compare applies a comparison operator. Numbers compare numerically,
// strings lexicographically; equality also covers booleans and null.
func compare(op string, left, right domain.Value) (domain.Value, error) {
	lf, lok := domain.AsFloat(left)
	rf, rok := domain.AsFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	switch op {
	case "==":
		return domain.Stringify(left) == domain.Stringify(right), nil
	case "!=":
		return domain.Stringify(left) != domain.Stringify(right), nil
	case "<":
		return domain.Stringify(left) < domain.Stringify(right), nil
	case "<=":
		return domain.Stringify(left) <= domain.Stringify(right), nil
	case ">":
		return domain.Stringify(left) > domain.Stringify(right), nil
	case ">=":
		return domain.Stringify(left) >= domain.Stringify(right), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}
