package expressions

import (
	"regexp"
	"sort"
)

// Workflow authors write {{Name}}; the engine operates on datasource:Name.
// The two forms map 1:1, losslessly and idempotently, at the read/write
// boundary of the store and any authoring surface.

var (
	authoringToken = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)
	internalToken  = regexp.MustCompile(`datasource:(\w+)`)
)

// ToInternal rewrites every {{Name}} token into datasource:Name. Text already
// in internal form is returned unchanged.
func ToInternal(expression string) string {
	return authoringToken.ReplaceAllString(expression, "datasource:$1")
}

// ToAuthoring rewrites every datasource:Name token into {{Name}}. Text already
// in authoring form is returned unchanged.
func ToAuthoring(expression string) string {
	return internalToken.ReplaceAllString(expression, "{{$1}}")
}

// ReferencedDataSources extracts the set of datasource names referenced by an
// expression, in either authoring or internal form, without invoking any of
// them. The result is sorted and free of duplicates.
func ReferencedDataSources(expression string) []string {
	normalized := ToInternal(expression)
	seen := make(map[string]struct{})
	var names []string
	for _, m := range internalToken.FindAllStringSubmatch(normalized, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
