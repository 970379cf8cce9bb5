// Package colpath splits flat, delimiter-encoded CSV column names into
// ordered key paths used to build nested documents.
//
// A column name like "images__0__url" with delimiter "__" denotes the path
// ["images", "0", "url"]. Two columns sharing a path prefix are sibling
// fields nested under the same object.
package colpath

import (
	"errors"
	"strings"
)

// ErrInvalidColumnName is returned for nil-equivalent column names: empty
// strings and strings consisting only of delimiters.
var ErrInvalidColumnName = errors.New("colpath: invalid column name")

// DefaultDelimiter matches the upstream feed convention for nested fields.
const DefaultDelimiter = "__"

// Split breaks a flat column name into its ordered path segments.
//
// Segment order is preserved exactly. Consecutive delimiters produce empty
// segments rather than being collapsed; downstream array inference treats an
// empty segment as a structural signal, so swallowing it here would corrupt
// the document shape. A name containing no delimiter is a single top-level
// key.
//
// Errors:
//   - ErrInvalidColumnName when name is empty, when delimiter is empty, or
//     when every produced segment is empty (e.g. name == delimiter).
func Split(name, delimiter string) ([]string, error) {
	if name == "" {
		return nil, ErrInvalidColumnName
	}
	if delimiter == "" {
		return nil, ErrInvalidColumnName
	}

	segs := strings.Split(name, delimiter)

	allEmpty := true
	for _, s := range segs {
		if s != "" {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return nil, ErrInvalidColumnName
	}

	return segs, nil
}

// Join is the inverse of Split. Used when flattening documents back to
// column names (round-trip checks, ledger labels).
func Join(segments []string, delimiter string) string {
	return strings.Join(segments, delimiter)
}

// Leaf returns the final segment of a path, or "" for an empty path.
// Type hints are keyed by leaf name.
func Leaf(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
