package engine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/vetgate/vetgate/internal/typecheck"
	"github.com/vetgate/vetgate/pkg/schema"
)

// applyOperation computes the boolean outcome of a step's comparison. The
// type checker has already run; an unknown operation here is an authoring
// defect.
func applyOperation(op schema.Operation, left, right any) (bool, error) {
	switch op {
	case schema.OpEqual:
		return looseEqual(left, right), nil
	case schema.OpNotEqual:
		return !looseEqual(left, right), nil

	case schema.OpGreater, schema.OpLess, schema.OpGreaterEqual, schema.OpLessEqual:
		return ordered(op, left, right)

	case schema.OpIn:
		return inSequence(left, right), nil
	case schema.OpNotIn:
		return !inSequence(left, right), nil

	case schema.OpInContain:
		return anyElement(left, right, strings.Contains), nil
	case schema.OpNotInContain:
		return !anyElement(left, right, strings.Contains), nil
	case schema.OpInStartsWith:
		return anyElement(left, right, strings.HasPrefix), nil
	case schema.OpNotInStartsWith:
		return !anyElement(left, right, strings.HasPrefix), nil

	case schema.OpContains:
		return strings.Contains(stringify(left), stringify(right)), nil
	case schema.OpStartsWith:
		return strings.HasPrefix(stringify(left), stringify(right)), nil
	case schema.OpEndsWith:
		return strings.HasSuffix(stringify(left), stringify(right)), nil

	case schema.OpBetween:
		return betweenInclusive(left, right)

	case schema.OpIsNull:
		return typecheck.IsNull(left), nil
	case schema.OpIsNotNull:
		return !typecheck.IsNull(left), nil
	}

	return false, schema.NewErrorf(schema.ErrCodeConfiguration, "unknown operation %q", op)
}

// looseEqual compares values with numeric coercion: 5 and 5.0 are equal,
// regardless of the concrete integer or float type. A category mismatch is
// never equal; the type checker has already warned about it. Everything else
// goes through reflect.DeepEqual, which tolerates uncomparable kinds like
// slices and maps where a plain == would panic.
func looseEqual(left, right any) bool {
	ln, lok := typecheck.AsFloat(left)
	rn, rok := typecheck.AsFloat(right)
	if lok && rok {
		return ln == rn
	}
	if lok != rok {
		return false
	}
	return reflect.DeepEqual(left, right)
}

func ordered(op schema.Operation, left, right any) (bool, error) {
	ln, lok := typecheck.AsFloat(left)
	rn, rok := typecheck.AsFloat(right)
	if lok && rok {
		switch op {
		case schema.OpGreater:
			return ln > rn, nil
		case schema.OpLess:
			return ln < rn, nil
		case schema.OpGreaterEqual:
			return ln >= rn, nil
		case schema.OpLessEqual:
			return ln <= rn, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case schema.OpGreater:
			return ls > rs, nil
		case schema.OpLess:
			return ls < rs, nil
		case schema.OpGreaterEqual:
			return ls >= rs, nil
		case schema.OpLessEqual:
			return ls <= rs, nil
		}
	}

	return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
		"operation %s: incomparable operands %T and %T", op, left, right)
}

func inSequence(needle, haystack any) bool {
	seq, ok := typecheck.AsSequence(haystack)
	if !ok {
		return false
	}
	for _, e := range seq {
		if looseEqual(needle, e) {
			return true
		}
	}
	return false
}

// anyElement reports whether match(left, element) holds for any element of
// the right-side sequence, comparing stringified forms.
func anyElement(left, right any, match func(s, substr string) bool) bool {
	seq, ok := typecheck.AsSequence(right)
	if !ok {
		return false
	}
	ls := stringify(left)
	for _, e := range seq {
		if match(ls, stringify(e)) {
			return true
		}
	}
	return false
}

// betweenInclusive is true iff lower <= left <= upper, inclusive on both ends.
func betweenInclusive(left, bounds any) (bool, error) {
	seq, ok := typecheck.AsSequence(bounds)
	if !ok || len(seq) != 2 {
		return false, schema.NewError(schema.ErrCodeTypeMismatch,
			"between requires a 2-element bounds sequence")
	}
	ln, lok := typecheck.AsFloat(left)
	lo, look := typecheck.AsFloat(seq[0])
	hi, hiok := typecheck.AsFloat(seq[1])
	if !lok || !look || !hiok {
		return false, schema.NewError(schema.ErrCodeTypeMismatch,
			"between requires numeric operands")
	}
	return lo <= ln && ln <= hi, nil
}

// stringify renders an operand for step-execution records and string
// operations. Floats that carry integral values print without a decimal
// point, so a datasource returning 1500 records as "1500".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	}
	if n, ok := typecheck.AsFloat(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
