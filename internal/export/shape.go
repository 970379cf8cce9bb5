package export

import (
	"strings"

	"shopexport/internal/config"
)

// Identifier columns shared by both table shapes. They are excluded from
// document conversion and used only for output placement.
const (
	colPartition = "shop_id"
	colSub       = "slug"
	colJSON      = "json"
)

// shape fixes, per table format, the set of required columns and the name
// of the document each row produces inside its <shop_id>/<slug>/ location.
type shape struct {
	name     string
	required []string
	docName  string

	// passthroughJSON marks shapes whose payload arrives pre-encoded in a
	// "json" column instead of spread across flat columns.
	passthroughJSON bool
}

func shapeFor(format string) (shape, error) {
	switch format {
	case config.FormatPriceHistory:
		return shape{
			name:            config.FormatPriceHistory,
			required:        []string{colPartition, colSub, colJSON},
			docName:         "price-history.json",
			passthroughJSON: true,
		}, nil
	case config.FormatMetadata:
		return shape{
			name:     config.FormatMetadata,
			required: []string{colPartition, colSub},
			docName:  "meta.json",
		}, nil
	}
	return shape{}, Userf("unknown format %q (viable: %s, %s)",
		format, config.FormatPriceHistory, config.FormatMetadata)
}

// checkRequired verifies every required column is present, reporting all
// missing columns in one message so the operator fixes the table once.
func (s shape) checkRequired(columns []string) error {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[c] = true
	}

	var missing []string
	for _, c := range s.required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return Userf("format %s: missing required columns: [%s]", s.name, strings.Join(missing, "; "))
	}
	return nil
}

// columnIndex locates a column in the header, -1 when absent.
func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

// payloadColumns returns the columns to convert (everything except the
// required identifier columns) together with their indexes in the full row.
func (s shape) payloadColumns(columns []string) (names []string, idx []int) {
	skip := make(map[string]bool, len(s.required))
	for _, c := range s.required {
		skip[c] = true
	}
	for i, c := range columns {
		if skip[c] {
			continue
		}
		names = append(names, c)
		idx = append(idx, i)
	}
	return names, idx
}
