// Package record defines the pooled row container passed from the CSV
// reader to the conversion loop, reducing heap churn on large exports.
package record

import "sync"

// Row is a pooled container holding one raw CSV row aligned to the header
// order. Values are raw strings; coercion happens downstream in convert.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - A Row may be handed downstream via a channel (ownership transfer).
//   - The final consumer calls Free() once it is fully done with the Row.
//
// On cancellation paths use Drop() instead of Free(): a canceled consumer
// may still be reading the slice while the reader goroutine unwinds, and
// re-pooling at that point lets the reader reuse the backing array under it.
type Row struct {
	V    []string
	Line int // 1-based physical CSV record number
}

var rowPool sync.Pool

// Get returns a pooled Row with length colCount and all fields cleared.
func Get(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]string, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = ""
		}
		r.Line = 0
		return r
	}
	return &Row{V: make([]string, colCount)}
}

// Free returns the Row to the pool. Call only when no other goroutine can
// observe r or r.V.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without re-pooling. Use on cancellation paths.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
