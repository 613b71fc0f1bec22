package engine

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parseSequence interprets a right expression as a literal sequence for the
// in/not_in/between family: a bracketed JSON array, a comma-separated list,
// or a single-element fallback.
func parseSequence(text string) []any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
			return arr
		}
		// Malformed JSON falls through to comma splitting with the brackets
		// shaved off, matching how authors commonly write "[a, b, c]".
		trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
	}

	if strings.Contains(trimmed, ",") {
		parts := strings.Split(trimmed, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, parseScalarLiteral(p))
		}
		return out
	}

	return []any{parseScalarLiteral(trimmed)}
}

// parseScalarLiteral interprets one sequence element: number, quoted string,
// boolean, or the raw trimmed text.
func parseScalarLiteral(text string) any {
	s := strings.TrimSpace(text)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return s
}
