package expressions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vetgate/vetgate/pkg/schema"
)

// DataSourceCaller is the slice of the datasource registry the evaluator
// needs. Satisfied by *datasources.Registry and test fakes.
type DataSourceCaller interface {
	Has(name string) bool
	Call(ctx context.Context, name string, params map[string]any) (any, error)
}

// Evaluator parses and evaluates scalar expressions against externally
// supplied datasource values. It holds no per-run state: the datasource
// resolution cache lives inside a single Evaluate call and never outlives it.
type Evaluator struct {
	sources DataSourceCaller
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator backed by the given datasource caller.
func NewEvaluator(sources DataSourceCaller, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{sources: sources, logger: logger}
}

// Evaluate resolves every datasource reference in the expression, substitutes
// the results back into the text and evaluates the now-fully-literal
// expression with the restricted arithmetic evaluator. params maps datasource
// name to its per-call parameter map; a missing entry means no parameters.
//
// The returned value is a float64 or string, except when the expression is a
// single bare reference, in which case the datasource's value is returned
// untouched.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, params map[string]map[string]any) (any, error) {
	original := expression
	expr := strings.TrimSpace(ToInternal(expression))
	if expr == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expression")
	}

	if err := lexicalGate(expr); err != nil {
		return nil, wrapExprErr(err, original)
	}

	// Per-call resolution cache: the same datasource is invoked at most once
	// within one Evaluate call.
	cache := make(map[string]any)
	resolve := func(name string) (any, error) {
		if v, ok := cache[name]; ok {
			return v, nil
		}
		v, err := e.sources.Call(ctx, name, params[name])
		if err != nil {
			return nil, err
		}
		cache[name] = v
		return v, nil
	}

	// A bare single reference returns the datasource value untouched,
	// preserving its exact type (including booleans).
	if m := internalToken.FindStringIndex(expr); m != nil && m[0] == 0 && m[1] == len(expr) {
		name := expr[len("datasource:"):]
		return resolve(name)
	}

	substituted, err := substituteReferences(expr, resolve)
	if err != nil {
		return nil, err
	}

	out, err := evalArithmetic(substituted)
	if err != nil {
		return nil, wrapExprErr(err, original)
	}
	return out, nil
}

// lexicalGate rejects the expression if, after replacing every reference with
// a neutral placeholder and stripping quoted literals, any disallowed
// character remains or the parentheses are unbalanced.
func lexicalGate(expr string) error {
	neutral := internalToken.ReplaceAllString(expr, "0")
	stripped, err := stripQuoted(neutral)
	if err != nil {
		return err
	}

	depth := 0
	for _, r := range stripped {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ' ', r == '\t':
		case r == '+', r == '-', r == '*', r == '/', r == '%':
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return schema.NewError(schema.ErrCodeExpression, "unbalanced parentheses")
			}
		default:
			return schema.NewErrorf(schema.ErrCodeExpression,
				"disallowed character %q in expression", string(r))
		}
	}
	if depth != 0 {
		return schema.NewError(schema.ErrCodeExpression, "unbalanced parentheses")
	}
	return nil
}

// stripQuoted removes quoted string literals so the gate only inspects the
// structural remainder.
func stripQuoted(s string) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '"' && c != '\'' {
			sb.WriteByte(c)
			i++
			continue
		}
		quote := c
		i++
		closed := false
		for i < len(s) {
			if s[i] == '\\' && i+1 < len(s) {
				i += 2
				continue
			}
			if s[i] == quote {
				i++
				closed = true
				break
			}
			i++
		}
		if !closed {
			return "", schema.NewError(schema.ErrCodeExpression, "unterminated string literal")
		}
	}
	return sb.String(), nil
}

// substituteReferences replaces each datasource:<name> token with the literal
// form of its resolved value, quoting strings.
func substituteReferences(expr string, resolve func(string) (any, error)) (string, error) {
	var sb strings.Builder
	last := 0
	for _, loc := range internalToken.FindAllStringSubmatchIndex(expr, -1) {
		sb.WriteString(expr[last:loc[0]])
		name := expr[loc[2]:loc[3]]

		val, err := resolve(name)
		if err != nil {
			return "", err
		}
		lit, err := literalFor(name, val)
		if err != nil {
			return "", err
		}
		sb.WriteString(lit)
		last = loc[1]
	}
	sb.WriteString(expr[last:])
	return sb.String(), nil
}

// literalFor renders a resolved datasource value as a source-text literal.
func literalFor(name string, val any) (string, error) {
	switch v := val.(type) {
	case string:
		return strconv.Quote(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case bool:
		return "", schema.NewErrorf(schema.ErrCodeExpression,
			"boolean datasource %q cannot appear in a compound expression", name)
	case nil:
		return "", schema.NewErrorf(schema.ErrCodeExpression,
			"datasource %q resolved to nil", name)
	}
	return "", schema.NewErrorf(schema.ErrCodeExpression,
		"datasource %q resolved to unsupported type %T", name, val)
}

// wrapExprErr ensures the error carries the original expression text. Division
// by zero keeps its distinct code.
func wrapExprErr(err error, expression string) error {
	ee, ok := err.(*schema.EngineError)
	if !ok {
		ee = schema.NewError(schema.ErrCodeExpression, err.Error()).WithCause(err)
	}
	if ee.Details == nil {
		ee.Details = map[string]any{}
	}
	ee.Details["expression"] = expression
	return ee
}
