package template

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition expressions are a closed boolean/comparison grammar over the
// compile-time condition-variable set: identifiers, string/number/bool
// literals, !, &&, ||, the six comparison operators, and parentheses.
// There is deliberately no function call, indexing, or assignment form,
// so a condition can never execute code or reach render-time state.
//
// Values are nil (absent), bool, float64, or string. An identifier that
// is not in the variable set evaluates to nil: falsy, equal only to
// another absent value, and an error operand for ordering comparisons.

type condToken int

const (
	tokEOF condToken = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokNot
	tokAnd
	tokOr
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
)

type condParser struct {
	input string
	pos   int
	tok   condToken
	lit   string  // identifier or string literal text
	num   float64 // number literal value
	vars  map[string]any
	check bool // syntax-only mode: comparisons are parsed, not evaluated
}

// evalCondition evaluates expr against vars and reports its truth value.
func evalCondition(expr string, vars map[string]any) (bool, error) {
	p := &condParser{input: expr, vars: vars}
	if err := p.next(); err != nil {
		return false, err
	}
	v, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if p.tok != tokEOF {
		return false, fmt.Errorf("unexpected %q after expression", p.lit)
	}
	return truthyCond(v), nil
}

// checkCondition reports whether expr is a well-formed condition without
// evaluating it against any variable set. Value-dependent failures, such
// as ordering a string against a number, are not detected here.
func checkCondition(expr string) bool {
	p := &condParser{input: expr, check: true}
	if err := p.next(); err != nil {
		return false
	}
	if _, err := p.parseOr(); err != nil {
		return false
	}
	return p.tok == tokEOF
}

func (p *condParser) next() error {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\r' || p.input[p.pos] == '\n') {
		p.pos++
	}
	if p.pos >= len(p.input) {
		p.tok, p.lit = tokEOF, ""
		return nil
	}
	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		p.tok, p.lit = tokLParen, "("
	case c == ')':
		p.pos++
		p.tok, p.lit = tokRParen, ")"
	case c == '&':
		if !strings.HasPrefix(p.input[p.pos:], "&&") {
			return fmt.Errorf("single '&' in expression")
		}
		p.pos += 2
		p.tok, p.lit = tokAnd, "&&"
	case c == '|':
		if !strings.HasPrefix(p.input[p.pos:], "||") {
			return fmt.Errorf("single '|' in expression")
		}
		p.pos += 2
		p.tok, p.lit = tokOr, "||"
	case c == '!':
		if strings.HasPrefix(p.input[p.pos:], "!=") {
			p.pos += 2
			p.tok, p.lit = tokNe, "!="
		} else {
			p.pos++
			p.tok, p.lit = tokNot, "!"
		}
	case c == '=':
		if !strings.HasPrefix(p.input[p.pos:], "==") {
			return fmt.Errorf("single '=' in expression (use ==)")
		}
		p.pos += 2
		p.tok, p.lit = tokEq, "=="
	case c == '<':
		if strings.HasPrefix(p.input[p.pos:], "<=") {
			p.pos += 2
			p.tok, p.lit = tokLe, "<="
		} else {
			p.pos++
			p.tok, p.lit = tokLt, "<"
		}
	case c == '>':
		if strings.HasPrefix(p.input[p.pos:], ">=") {
			p.pos += 2
			p.tok, p.lit = tokGe, ">="
		} else {
			p.pos++
			p.tok, p.lit = tokGt, ">"
		}
	case c == '\'' || c == '"':
		end := strings.IndexByte(p.input[p.pos+1:], c)
		if end < 0 {
			return fmt.Errorf("unterminated string literal")
		}
		p.lit = p.input[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		p.tok = tokString
	case c >= '0' && c <= '9' || c == '.' || c == '-':
		start := p.pos
		if c == '-' {
			p.pos++
		}
		for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
			p.pos++
		}
		n, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", p.input[start:p.pos])
		}
		p.tok, p.num, p.lit = tokNumber, n, p.input[start:p.pos]
	case isIdentByte(c, true):
		start := p.pos
		for p.pos < len(p.input) && isIdentByte(p.input[p.pos], false) {
			p.pos++
		}
		p.tok, p.lit = tokIdent, p.input[start:p.pos]
	default:
		return fmt.Errorf("unexpected character %q in expression", c)
	}
	return nil
}

func isIdentByte(c byte, first bool) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' {
		return true
	}
	return !first && (c >= '0' && c <= '9')
}

func (p *condParser) parseOr() (any, error) {
	v, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	res := truthyCond(v)
	for p.tok == tokOr {
		if err = p.next(); err != nil {
			return nil, err
		}
		v, err = p.parseAnd()
		if err != nil {
			return nil, err
		}
		res = res || truthyCond(v)
	}
	return res, nil
}

func (p *condParser) parseAnd() (any, error) {
	v, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	res := truthyCond(v)
	for p.tok == tokAnd {
		if err = p.next(); err != nil {
			return nil, err
		}
		v, err = p.parseCmp()
		if err != nil {
			return nil, err
		}
		res = res && truthyCond(v)
	}
	return res, nil
}

func (p *condParser) parseCmp() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op := p.tok
	if op != tokEq && op != tokNe && op != tokLt && op != tokLe && op != tokGt && op != tokGe {
		return left, nil
	}
	opLit := p.lit
	if err = p.next(); err != nil {
		return nil, err
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.check {
		return false, nil
	}
	return compareCond(op, opLit, left, right)
}

func (p *condParser) parseUnary() (any, error) {
	if p.tok == tokNot {
		if err := p.next(); err != nil {
			return nil, err
		}
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthyCond(v), nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (any, error) {
	switch p.tok {
	case tokLParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return v, p.next()
	case tokString:
		v := p.lit
		return v, p.next()
	case tokNumber:
		v := p.num
		return v, p.next()
	case tokIdent:
		name := p.lit
		if err := p.next(); err != nil {
			return nil, err
		}
		switch name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		v, ok := p.vars[name]
		if !ok {
			return nil, nil
		}
		return condValue(v)
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected %q in expression", p.lit)
	}
}

// condValue normalizes a caller-supplied condition-variable value into
// the evaluator's value set. Only booleans, strings, and numbers are
// legal condition-variable types.
func condValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x, nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case float32:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("unsupported condition variable type %T", v)
	}
}

func truthyCond(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return false
	}
}

func compareCond(op condToken, opLit string, left, right any) (any, error) {
	if op == tokEq || op == tokNe {
		eq := equalCond(left, right)
		if op == tokNe {
			return !eq, nil
		}
		return eq, nil
	}

	// Ordering comparisons require two numbers or two strings.
	switch l := left.(type) {
	case float64:
		r, ok := right.(float64)
		if !ok {
			return nil, fmt.Errorf("cannot compare %s with '%s'", typeName(left), opLit)
		}
		return orderCond(op, l < r, l == r), nil
	case string:
		r, ok := right.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare %s with '%s'", typeName(left), opLit)
		}
		return orderCond(op, l < r, l == r), nil
	default:
		return nil, fmt.Errorf("cannot compare %s with '%s'", typeName(left), opLit)
	}
}

func equalCond(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	switch l := left.(type) {
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case float64:
		r, ok := right.(float64)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	}
	return false
}

func orderCond(op condToken, lt, eq bool) bool {
	switch op {
	case tokLt:
		return lt
	case tokLe:
		return lt || eq
	case tokGt:
		return !lt && !eq
	default: // tokGe
		return !lt
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "an absent value"
	case bool:
		return "a boolean"
	case float64:
		return "a number"
	case string:
		return "a string"
	}
	return fmt.Sprintf("%T", v)
}
