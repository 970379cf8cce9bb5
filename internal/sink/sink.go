// Package sink persists converted documents into the local staging area,
// either as loose JSON files or as one zip archive per partition.
//
// The staging area has a strict two-phase life: the row loop is its only
// writer, the upload batcher its only reader, and the chunk boundary is the
// hand-off between the two. Clear() empties it after a successful flush.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteError is an I/O failure while persisting an artifact. It always
// aborts the run: a silently missing artifact would corrupt the output set.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sink: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Sink writes one document per (partition, sub) pair.
//
// Write must only be called between chunk boundaries; Finalize closes any
// open resources (zip archives) and must be called at every chunk boundary
// and at end of run, including error paths.
type Sink interface {
	Write(partition, sub, name string, doc any) error
	Finalize() error
}

// New selects a sink strategy by kind ("dir" or "zip") rooted at stagingRoot.
func New(kind, stagingRoot string) (Sink, error) {
	switch kind {
	case "dir":
		return NewDir(stagingRoot), nil
	case "zip":
		return NewZip(stagingRoot), nil
	}
	return nil, fmt.Errorf("sink: unknown kind %q", kind)
}

// Clear removes everything under stagingRoot while keeping the root itself,
// so the next chunk can start staging immediately.
func Clear(stagingRoot string) error {
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sink: clear staging: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(stagingRoot, e.Name())); err != nil {
			return fmt.Errorf("sink: clear staging: %w", err)
		}
	}
	return nil
}
