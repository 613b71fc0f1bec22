package typecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetgate/vetgate/pkg/schema"
)

func TestIsNull(t *testing.T) {
	null := []any{
		nil,
		"",
		0,
		0.0,
		int64(0),
		[]any{},
		map[string]any{},
	}
	for _, v := range null {
		assert.True(t, IsNull(v), "%#v should count as null", v)
	}

	notNull := []any{
		"x",
		1,
		-0.5,
		false, // booleans are never null
		true,
		[]any{1},
		map[string]any{"k": 1},
	}
	for _, v := range notNull {
		assert.False(t, IsNull(v), "%#v should not count as null", v)
	}
}

func TestCheck_SequenceOperations(t *testing.T) {
	for _, op := range []schema.Operation{
		schema.OpIn, schema.OpNotIn,
		schema.OpInContain, schema.OpNotInContain,
		schema.OpInStartsWith, schema.OpNotInStartsWith,
	} {
		t.Run(string(op), func(t *testing.T) {
			_, err := Check("a", []any{"a", "b"}, op, "s1")
			assert.NoError(t, err)

			_, err = Check("a", "not a sequence", op, "s1")
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeTypeMismatch, schema.CodeOf(err))
		})
	}
}

func TestCheck_Between(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		_, err := Check(5.0, []any{1.0, 10.0}, schema.OpBetween, "s1")
		assert.NoError(t, err)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := Check(5.0, []any{1.0}, schema.OpBetween, "s1")
		require.Error(t, err)
	})

	t.Run("non-numeric bound", func(t *testing.T) {
		_, err := Check(5.0, []any{1.0, "ten"}, schema.OpBetween, "s1")
		require.Error(t, err)
	})

	t.Run("boolean left rejected", func(t *testing.T) {
		_, err := Check(true, []any{0.0, 1.0}, schema.OpBetween, "s1")
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeTypeMismatch, schema.CodeOf(err))
	})
}

func TestCheck_StringOperations(t *testing.T) {
	for _, op := range []schema.Operation{schema.OpContains, schema.OpStartsWith, schema.OpEndsWith} {
		t.Run(string(op), func(t *testing.T) {
			_, err := Check("abc", "b", op, "s1")
			assert.NoError(t, err)

			_, err = Check("abc", 1, op, "s1")
			require.Error(t, err)

			_, err = Check(1, "b", op, "s1")
			require.Error(t, err)
		})
	}
}

func TestCheck_EqualityMismatchWarnsOnly(t *testing.T) {
	warnings, err := Check(1.0, "1", schema.OpEqual, "s1")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "s1")

	warnings, err = Check("a", "b", schema.OpNotEqual, "s1")
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestCheck_Ordering(t *testing.T) {
	t.Run("numeric pair", func(t *testing.T) {
		_, err := Check(1, 2.0, schema.OpGreater, "s1")
		assert.NoError(t, err)
	})

	t.Run("string pair", func(t *testing.T) {
		_, err := Check("a", "b", schema.OpLessEqual, "s1")
		assert.NoError(t, err)
	})

	t.Run("mixed rejected", func(t *testing.T) {
		_, err := Check(1, "b", schema.OpGreater, "s1")
		require.Error(t, err)
	})

	t.Run("boolean rejected", func(t *testing.T) {
		_, err := Check(true, 1, schema.OpGreaterEqual, "s1")
		require.Error(t, err)
	})
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryNumeric, CategoryOf(1))
	assert.Equal(t, CategoryNumeric, CategoryOf(1.5))
	assert.Equal(t, CategoryBoolean, CategoryOf(true))
	assert.Equal(t, CategoryString, CategoryOf("x"))
	assert.Equal(t, CategoryNull, CategoryOf(nil))
	assert.Equal(t, CategorySequence, CategoryOf([]any{1}))
	assert.Equal(t, CategoryMapping, CategoryOf(map[string]any{}))
}
