package expressions

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vetgate/vetgate/pkg/schema"
)

// The arithmetic evaluator is a deliberately small tokenizer plus
// recursive-descent parser. It exposes no names, no calls and no side
// effects: by the time it runs, every datasource reference has already been
// substituted by a literal. Operators: + - * / % ** and parentheses. Strings
// support + (concatenation) only.

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	op   string
	num  float64
	str  string
	pos  int
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.input) && (l.input[l.pos] == ' ' || l.input[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case c >= '0' && c <= '9' || c == '.':
		end := l.pos
		for end < len(l.input) && (l.input[end] >= '0' && l.input[end] <= '9' || l.input[end] == '.') {
			end++
		}
		n, err := strconv.ParseFloat(l.input[l.pos:end], 64)
		if err != nil {
			return token{}, schema.NewErrorf(schema.ErrCodeExpression,
				"invalid number %q at position %d", l.input[l.pos:end], start)
		}
		l.pos = end
		return token{kind: tokNumber, num: n, pos: start}, nil

	case c == '"' || c == '\'':
		quote := c
		end := l.pos + 1
		var sb strings.Builder
		for end < len(l.input) {
			if l.input[end] == '\\' && end+1 < len(l.input) {
				sb.WriteByte(l.input[end+1])
				end += 2
				continue
			}
			if l.input[end] == quote {
				l.pos = end + 1
				return token{kind: tokString, str: sb.String(), pos: start}, nil
			}
			sb.WriteByte(l.input[end])
			end++
		}
		return token{}, schema.NewErrorf(schema.ErrCodeExpression,
			"unterminated string literal at position %d", start)

	case c == '(':
		l.pos++
		return token{kind: tokLParen, pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, pos: start}, nil

	case c == '*':
		if l.pos+1 < len(l.input) && l.input[l.pos+1] == '*' {
			l.pos += 2
			return token{kind: tokOp, op: "**", pos: start}, nil
		}
		l.pos++
		return token{kind: tokOp, op: "*", pos: start}, nil

	case c == '+' || c == '-' || c == '/' || c == '%':
		l.pos++
		return token{kind: tokOp, op: string(c), pos: start}, nil
	}

	return token{}, schema.NewErrorf(schema.ErrCodeExpression,
		"unexpected character %q at position %d", string(c), start)
}

type parser struct {
	lex  lexer
	tok  token
	peek *token
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// evalArithmetic parses and evaluates a fully literal scalar expression.
// It returns float64 or string.
func evalArithmetic(input string) (any, error) {
	p := &parser{lex: lexer{input: input}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	v, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"unexpected trailing input at position %d", p.tok.pos)
	}
	return v, nil
}

func (p *parser) parseAddSub() (any, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.op == "+" || p.tok.op == "-") {
		op := p.tok.op
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}
		left, err = applyAdditive(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) parseMulDiv() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.op == "*" || p.tok.op == "/" || p.tok.op == "%") {
		op := p.tok.op
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = applyMultiplicative(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	if p.tok.kind == tokOp && (p.tok.op == "-" || p.tok.op == "+") {
		op := p.tok.op
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		n, ok := v.(float64)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"unary %s applied to non-numeric operand", op)
		}
		if op == "-" {
			return -n, nil
		}
		return n, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (any, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp && p.tok.op == "**" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		// Right-associative; the exponent may carry its own unary sign.
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, bok := base.(float64)
		e, eok := exp.(float64)
		if !bok || !eok {
			return nil, schema.NewError(schema.ErrCodeExpression,
				"operator ** requires numeric operands")
		}
		return math.Pow(b, e), nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (any, error) {
	switch p.tok.kind {
	case tokNumber:
		v := p.tok.num
		if err := p.advance(); err != nil {
			return nil, err
		}
		return v, nil
	case tokString:
		v := p.tok.str
		if err := p.advance(); err != nil {
			return nil, err
		}
		return v, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseAddSub()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"expected ')' at position %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return v, nil
	case tokEOF:
		return nil, schema.NewError(schema.ErrCodeExpression, "unexpected end of expression")
	}
	return nil, schema.NewErrorf(schema.ErrCodeExpression,
		"unexpected token at position %d", p.tok.pos)
}

func applyAdditive(op string, left, right any) (any, error) {
	ln, lnum := left.(float64)
	rn, rnum := right.(float64)
	if lnum && rnum {
		if op == "+" {
			return ln + rn, nil
		}
		return ln - rn, nil
	}

	ls, lstr := left.(string)
	rs, rstr := right.(string)
	if lstr && rstr && op == "+" {
		return ls + rs, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeExpression,
		"operator %s not defined for %s and %s", op, typeName(left), typeName(right))
}

func applyMultiplicative(op string, left, right any) (any, error) {
	ln, lnum := left.(float64)
	rn, rnum := right.(float64)
	if !lnum || !rnum {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"operator %s requires numeric operands, got %s and %s", op, typeName(left), typeName(right))
	}

	switch op {
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return nil, schema.NewError(schema.ErrCodeDivisionByZero, "division by zero")
		}
		return ln / rn, nil
	case "%":
		if rn == 0 {
			return nil, schema.NewError(schema.ErrCodeDivisionByZero, "modulo by zero")
		}
		return math.Mod(ln, rn), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeExpression, "unknown operator %s", op)
}

func typeName(v any) string {
	switch v.(type) {
	case float64:
		return "number"
	case string:
		return "string"
	default:
		return fmt.Sprintf("%T", v)
	}
}
