package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/pkg/schema"
)

// fakeCaller is a minimal DataSourceCaller recording invocation counts.
type fakeCaller struct {
	values map[string]any
	errs   map[string]error
	calls  map[string]int
}

func newFakeCaller(values map[string]any) *fakeCaller {
	return &fakeCaller{values: values, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeCaller) Has(name string) bool {
	_, ok := f.values[name]
	return ok
}

func (f *fakeCaller) Call(_ context.Context, name string, _ map[string]any) (any, error) {
	f.calls[name]++
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	v, ok := f.values[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDataSourceNotFound, "datasource %q not registered", name)
	}
	return v, nil
}

func TestEvaluate_NumericLiteral(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	out, err := e.Evaluate(context.Background(), "42", nil)
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)
}

func TestEvaluate_Arithmetic(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	cases := []struct {
		expr string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 - 4 - 3", 3},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"2 ** 10", 1024},
		{"2 ** 3 ** 2", 512}, // right-associative
		{"-2 ** 2", -4},
		{"-(3 + 4)", -7},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tc.expr, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestEvaluate_StringLiteral(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	out, err := e.Evaluate(context.Background(), `"hello"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestEvaluate_StringConcatenation(t *testing.T) {
	e := NewEvaluator(newFakeCaller(map[string]any{"Prefix": "INV-"}), nil)

	out, err := e.Evaluate(context.Background(), `datasource:Prefix + "001"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "INV-001", out)
}

func TestEvaluate_DivisionByZero(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	_, err := e.Evaluate(context.Background(), "1 / 0", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDivisionByZero, schema.CodeOf(err))

	_, err = e.Evaluate(context.Background(), "5 % 0", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDivisionByZero, schema.CodeOf(err))
}

func TestEvaluate_LexicalGate(t *testing.T) {
	e := NewEvaluator(newFakeCaller(map[string]any{"A": 1.0}), nil)

	rejected := []string{
		"1 + x",
		"os.exit(1)",
		"(1 + 2",
		"1 + 2)",
		"datasource:A; 1",
		"a && b",
	}
	for _, expr := range rejected {
		t.Run(expr, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), expr, nil)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
		})
	}
}

func TestEvaluate_GateRejectsUnterminatedLiteral(t *testing.T) {
	e := NewEvaluator(newFakeCaller(map[string]any{"A": 1.0}), nil)

	for _, expr := range []string{`"abc`, `'abc`, `datasource:A + "tail`, `"a\"`} {
		t.Run(expr, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), expr, nil)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
			assert.Contains(t, err.Error(), "unterminated string literal")
		})
	}
}

func TestEvaluate_GateIgnoresQuotedContent(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	// Letters inside quoted literals must not trip the character gate.
	out, err := e.Evaluate(context.Background(), `"abc!@#" + "def"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc!@#def", out)
}

func TestEvaluate_BareReferenceReturnsRawValue(t *testing.T) {
	caller := newFakeCaller(map[string]any{
		"Amount":  1500.0,
		"Enabled": true,
		"Status":  "active",
	})
	e := NewEvaluator(caller, nil)

	out, err := e.Evaluate(context.Background(), "datasource:Amount", nil)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, out)

	out, err = e.Evaluate(context.Background(), "datasource:Enabled", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "{{Status}}", nil)
	require.NoError(t, err)
	assert.Equal(t, "active", out)
}

func TestEvaluate_ReferenceSubstitution(t *testing.T) {
	caller := newFakeCaller(map[string]any{"Amount": 100, "Rate": 0.19})
	e := NewEvaluator(caller, nil)

	out, err := e.Evaluate(context.Background(), "datasource:Amount * (1 + datasource:Rate)", nil)
	require.NoError(t, err)
	assert.InDelta(t, 119.0, out, 1e-9)
}

func TestEvaluate_PerCallCache(t *testing.T) {
	caller := newFakeCaller(map[string]any{"Amount": 10.0})
	e := NewEvaluator(caller, nil)

	_, err := e.Evaluate(context.Background(), "datasource:Amount + datasource:Amount * 2", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, caller.calls["Amount"], "datasource invoked once per Evaluate call")

	// A second call resolves again: the cache never outlives one call.
	_, err = e.Evaluate(context.Background(), "datasource:Amount", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls["Amount"])
}

func TestEvaluate_UnknownDataSource(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	_, err := e.Evaluate(context.Background(), "datasource:Missing + 1", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDataSourceNotFound, schema.CodeOf(err))
}

func TestEvaluate_BooleanInCompoundExpression(t *testing.T) {
	e := NewEvaluator(newFakeCaller(map[string]any{"Flag": true}), nil)

	_, err := e.Evaluate(context.Background(), "datasource:Flag + 1", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExpression, schema.CodeOf(err))
}

func TestEvaluate_EmptyExpression(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	_, err := e.Evaluate(context.Background(), "   ", nil)
	require.Error(t, err)
}

func TestEvaluate_ErrorCarriesExpressionText(t *testing.T) {
	e := NewEvaluator(newFakeCaller(nil), nil)

	_, err := e.Evaluate(context.Background(), "1 +* 2", nil)
	require.Error(t, err)
	ee, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, "1 +* 2", ee.Details["expression"])
}
