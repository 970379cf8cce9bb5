package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Dir writes each document as a loose file at
// <root>/<partition>/<sub>/<name>, creating parent directories as needed.
//
// Writes are atomic (temp file in the target directory, then rename), so a
// crash mid-write never leaves a truncated document visible at its final
// path. MkdirAll is idempotent, which keeps Write safe for repeated calls
// on the same partition.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Write(partition, sub, name string, doc any) error {
	dir := filepath.Join(d.root, partition, sub)
	final := filepath.Join(dir, name)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: dir, Err: err}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return &WriteError{Path: final, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-")
	if err != nil {
		return &WriteError{Path: final, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &WriteError{Path: final, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &WriteError{Path: final, Err: err}
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return &WriteError{Path: final, Err: err}
	}
	return nil
}

// Finalize is a no-op: every Write is already durable at its final path.
func (d *Dir) Finalize() error { return nil }
