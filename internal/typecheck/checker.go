package typecheck

import (
	"fmt"
	"reflect"

	"github.com/vetgate/vetgate/pkg/schema"
)

// Category buckets a runtime value for compatibility checking.
type Category string

const (
	CategoryNumeric  Category = "numeric"
	CategoryString   Category = "string"
	CategoryBoolean  Category = "boolean"
	CategoryNull     Category = "null"
	CategorySequence Category = "sequence"
	CategoryMapping  Category = "mapping"
	CategoryOther    Category = "other"
)

// CategoryOf reports the compatibility category of a value. Booleans are never
// numeric here, even though the host language may treat them as integers.
func CategoryOf(v any) Category {
	switch v.(type) {
	case nil:
		return CategoryNull
	case bool:
		return CategoryBoolean
	case string:
		return CategoryString
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return CategoryNumeric
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return CategorySequence
	case reflect.Map:
		return CategoryMapping
	}
	return CategoryOther
}

// IsNumeric reports whether v is a numeric, non-boolean value.
func IsNumeric(v any) bool { return CategoryOf(v) == CategoryNumeric }

// IsNull reports whether v counts as null for the null-check operations:
// the absence value, an empty string, numeric zero, or an empty
// sequence/mapping.
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return false
	}
	if n, ok := AsFloat(v); ok {
		return n == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// AsFloat converts any numeric non-boolean value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Check validates operand types for the given operation before evaluation
// proceeds. It returns non-fatal warnings (only ever produced by ==/!= across
// mismatched categories) or a TYPE_MISMATCH error naming the step, the
// operation and the offending operand types. Null-check operations are not
// checked here; the engine skips the checker for them.
func Check(left, right any, op schema.Operation, stepName string) ([]string, error) {
	switch op {
	case schema.OpIn, schema.OpNotIn,
		schema.OpInContain, schema.OpNotInContain,
		schema.OpInStartsWith, schema.OpNotInStartsWith:
		if CategoryOf(right) != CategorySequence {
			return nil, mismatch(stepName, op,
				"right operand must be a sequence, got %s", CategoryOf(right))
		}
		return nil, nil

	case schema.OpBetween:
		seq, ok := asSequence(right)
		if !ok || len(seq) != 2 {
			return nil, mismatch(stepName, op,
				"right operand must be a 2-element numeric sequence")
		}
		for i, bound := range seq {
			if !IsNumeric(bound) {
				return nil, mismatch(stepName, op,
					"bound %d is %s, want numeric", i, CategoryOf(bound))
			}
		}
		if !IsNumeric(left) {
			return nil, mismatch(stepName, op,
				"left operand is %s, want numeric", CategoryOf(left))
		}
		return nil, nil

	case schema.OpContains, schema.OpStartsWith, schema.OpEndsWith:
		if CategoryOf(left) != CategoryString || CategoryOf(right) != CategoryString {
			return nil, mismatch(stepName, op,
				"both operands must be strings, got %s and %s", CategoryOf(left), CategoryOf(right))
		}
		return nil, nil

	case schema.OpEqual, schema.OpNotEqual:
		lc, rc := CategoryOf(left), CategoryOf(right)
		if lc != rc {
			return []string{fmt.Sprintf(
				"step %q: comparing %s against %s with %s; result may always be false",
				stepName, lc, rc, op)}, nil
		}
		return nil, nil

	case schema.OpGreater, schema.OpLess, schema.OpGreaterEqual, schema.OpLessEqual:
		if IsNumeric(left) && IsNumeric(right) {
			return nil, nil
		}
		if CategoryOf(left) == CategoryString && CategoryOf(right) == CategoryString {
			return nil, nil
		}
		return nil, mismatch(stepName, op,
			"operands must both be numeric or both strings, got %s and %s",
			CategoryOf(left), CategoryOf(right))

	case schema.OpIsNull, schema.OpIsNotNull:
		return nil, nil
	}

	return nil, mismatch(stepName, op, "unknown operation")
}

// asSequence normalizes any slice or array value into []any.
func asSequence(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// AsSequence is the exported form used by the engine for sequence operations.
func AsSequence(v any) ([]any, bool) { return asSequence(v) }

func mismatch(stepName string, op schema.Operation, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeTypeMismatch,
		"step %q, operation %s: %s", stepName, op, fmt.Sprintf(format, args...))
}
