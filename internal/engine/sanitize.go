package engine

import (
	"fmt"
	"time"
)

// Identifiable lets host entities collapse to their identifier in the
// persisted context snapshot instead of serializing the whole object.
type Identifiable interface {
	Identity() string
}

// sanitizeContext produces a persistable snapshot of caller-supplied context
// data: scalars pass through, entity references become their identifier, and
// anything else becomes an opaque type reference.
func sanitizeContext(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	case Identifiable:
		return t.Identity()
	case map[string]any:
		return sanitizeContext(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e)
		}
		return out
	}
	return fmt.Sprintf("<%T>", v)
}
