package convert

import (
	"strconv"

	"shopexport/internal/colpath"
)

// Flatten is the inverse of Convert: it walks a document and emits one
// (flat column name, value) pair per leaf, joining path segments with the
// delimiter and encoding array positions as numeric segments.
//
// Used by tests to check the round-trip property and by operators debugging
// a feed; it is not on the conversion hot path.
func Flatten(doc map[string]any, delimiter string) map[string]any {
	out := make(map[string]any)
	flattenInto(out, nil, doc, delimiter)
	return out
}

func flattenInto(out map[string]any, prefix []string, v any, delimiter string) {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(t) {
			flattenInto(out, extend(prefix, k), t[k], delimiter)
		}
	case []any:
		for i, elem := range t {
			flattenInto(out, extend(prefix, strconv.Itoa(i)), elem, delimiter)
		}
	default:
		if len(prefix) == 0 {
			return
		}
		out[colpath.Join(prefix, delimiter)] = t
	}
}

// extend copies prefix before appending so sibling branches never share a
// backing array.
func extend(prefix []string, seg string) []string {
	next := make([]string, len(prefix)+1)
	copy(next, prefix)
	next[len(prefix)] = seg
	return next
}
