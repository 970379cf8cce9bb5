// Package convert builds one nested JSON-compatible document per CSV row
// from flat, delimiter-encoded column names.
//
// Column names are split into key paths ("images__0__url" -> images, 0, url)
// and each (path, value) pair is inserted into a tree of objects and arrays.
// Sibling paths whose segment at a given depth is purely numeric are grouped
// into an ordered array at that depth instead of an object keyed by digit
// strings. Gaps in a numeric sequence are preserved as JSON nulls so that
// positional data keeps its positions.
package convert

import (
	"fmt"
	"sort"
	"strconv"

	"shopexport/internal/colpath"
)

// maxArrayIndex bounds array inference so a stray column like "tags__999999999"
// cannot allocate an absurd slice. Real feeds top out at a few hundred.
const maxArrayIndex = 100000

// SchemaMismatchError reports a row or header that cannot produce a coherent
// document: misaligned value counts, duplicate columns, or sibling columns
// that disagree about whether their parent is an object or an array.
//
// These abort the run; silently skipping would leave a structurally corrupt
// output set, which is worse than a halted job.
type SchemaMismatchError struct {
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return "convert: schema mismatch: " + e.Reason
}

// Converter turns positional rows into nested documents.
// The zero value is not usable; set Delimiter (and usually Infer).
type Converter struct {
	// Delimiter splits flat column names into path segments.
	Delimiter string

	// Hints maps a path's leaf segment to a coercion type (TypeString,
	// TypeNumber, TypeInteger, TypeBoolean). A hint always overrides
	// inference and fails hard when the raw value cannot be coerced.
	Hints map[string]string

	// Infer enables type inference for unhinted columns. When false,
	// unhinted values stay strings (empty string included).
	Infer bool
}

// Plan is the per-table compilation of column headers: paths split once and
// hints resolved once, so the per-row hot path does no string splitting.
type Plan struct {
	cols []planCol
}

type planCol struct {
	name string
	path []string
	hint string // "" when unhinted
}

// Columns returns the original flat column names in plan order.
func (p *Plan) Columns() []string {
	out := make([]string, len(p.cols))
	for i, c := range p.cols {
		out[i] = c.name
	}
	return out
}

// Compile splits every column name and resolves its hint. Call once per
// table; the plan is immutable and safe to share across rows.
//
// Errors:
//   - colpath.ErrInvalidColumnName (wrapped) for empty/delimiter-only names.
//   - an error for hints naming an unknown coercion type, so a typo in the
//     hint table fails at startup rather than mid-run.
func (c *Converter) Compile(columns []string) (*Plan, error) {
	p := &Plan{cols: make([]planCol, 0, len(columns))}

	for _, name := range columns {
		path, err := colpath.Split(name, c.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}

		hint := ""
		if c.Hints != nil {
			hint = c.Hints[colpath.Leaf(path)]
		}
		switch hint {
		case "", TypeString, TypeNumber, TypeInteger, TypeBoolean:
		default:
			return nil, fmt.Errorf("convert: column %q: unknown type hint %q", name, hint)
		}

		p.cols = append(p.cols, planCol{name: name, path: path, hint: hint})
	}

	return p, nil
}

// Convert builds one document from a positional row aligned to the plan.
//
// The returned tree contains only map[string]any, []any, and the scalar
// types produced by coercion (nil, bool, int64, float64, string), so it
// serializes to JSON without surprises.
func (c *Converter) Convert(p *Plan, values []string) (map[string]any, error) {
	if len(values) != len(p.cols) {
		return nil, &SchemaMismatchError{
			Reason: fmt.Sprintf("row has %d values for %d columns", len(values), len(p.cols)),
		}
	}

	root := &node{}
	for i, col := range p.cols {
		v, err := c.coerce(col, values[i])
		if err != nil {
			return nil, err
		}
		if err := root.insert(col.path, v, col.name); err != nil {
			return nil, err
		}
	}

	doc, ok := root.materialize().(map[string]any)
	if !ok {
		// Root is forced to object shape in insert; this is unreachable for
		// any non-empty plan, but an empty plan materializes to nil.
		return map[string]any{}, nil
	}
	return doc, nil
}

func (c *Converter) coerce(col planCol, raw string) (any, error) {
	if col.hint != "" {
		return coerceHinted(col.name, col.hint, raw)
	}
	if !c.Infer {
		return raw, nil
	}
	return coerceInferred(raw), nil
}

// node is the mutable build tree. Exactly one of obj/arr/leaf is populated;
// a node observed in two roles means the header is self-contradictory.
type node struct {
	obj     map[string]*node
	arr     map[int]*node
	leaf    any
	leafSet bool
}

// insert walks/creates intermediate nodes for every segment except the last,
// then sets the leaf. A purely numeric segment below the root selects an
// array slot; the root itself is always an object so that a row materializes
// as one JSON object even when top-level column names are numeric.
func (n *node) insert(path []string, value any, column string) error {
	cur := n
	for depth, seg := range path {
		last := depth == len(path)-1

		idx, isIndex := arrayIndex(seg)
		if depth == 0 {
			isIndex = false
		}

		if cur.leafSet {
			return &SchemaMismatchError{
				Reason: fmt.Sprintf("column %q nests under a column already holding a value", column),
			}
		}

		var next *node
		if isIndex {
			if cur.obj != nil {
				return &SchemaMismatchError{
					Reason: fmt.Sprintf("column %q mixes numeric and named keys under one parent", column),
				}
			}
			if cur.arr == nil {
				cur.arr = make(map[int]*node)
			}
			next = cur.arr[idx]
			if next == nil {
				next = &node{}
				cur.arr[idx] = next
			}
		} else {
			if cur.arr != nil {
				return &SchemaMismatchError{
					Reason: fmt.Sprintf("column %q mixes numeric and named keys under one parent", column),
				}
			}
			if cur.obj == nil {
				cur.obj = make(map[string]*node)
			}
			next = cur.obj[seg]
			if next == nil {
				next = &node{}
				cur.obj[seg] = next
			}
		}

		if last {
			if next.leafSet || next.obj != nil || next.arr != nil {
				return &SchemaMismatchError{
					Reason: fmt.Sprintf("duplicate or conflicting column %q", column),
				}
			}
			next.leaf = value
			next.leafSet = true
			return nil
		}
		cur = next
	}

	return &SchemaMismatchError{Reason: fmt.Sprintf("column %q has an empty path", column)}
}

// materialize converts the build tree into plain JSON-ready values. Array
// buckets become a dense []any sized by the highest index, with missing
// indices preserved as nil.
func (n *node) materialize() any {
	switch {
	case n.leafSet:
		return n.leaf

	case n.arr != nil:
		max := -1
		for i := range n.arr {
			if i > max {
				max = i
			}
		}
		out := make([]any, max+1)
		for i, child := range n.arr {
			out[i] = child.materialize()
		}
		return out

	case n.obj != nil:
		out := make(map[string]any, len(n.obj))
		for k, child := range n.obj {
			out[k] = child.materialize()
		}
		return out
	}

	return nil
}

// arrayIndex reports whether seg is a purely numeric array selector.
// Leading zeros are allowed ("00" -> 0); anything beyond maxArrayIndex is
// treated as a named key rather than an index.
func arrayIndex(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil || n > maxArrayIndex {
		return 0, false
	}
	return n, true
}

// sortedKeys is shared by Flatten for deterministic output.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
