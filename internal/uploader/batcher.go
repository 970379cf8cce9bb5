// Package uploader turns the staging area into transfer tasks and drains
// them to object storage over a bounded worker pool.
package uploader

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Task is one (local source, remote destination) transfer. Remote keys use
// "/" separators regardless of the local OS.
type Task struct {
	Local  string
	Remote string
}

// NormalizePrefix canonicalizes a remote key prefix: no leading slash, a
// trailing slash when non-empty, empty maps to the bucket root.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// Enumerate walks stagingRoot and produces one Task per regular file, with
// the remote key = normalized prefix + the file's slash-separated path
// relative to the root.
//
// The task list is exhaustive and duplicate-free for a given staging
// snapshot. WalkDir visits lexically, so the order is also deterministic,
// though callers must not rely on it: transfers complete in any order.
func Enumerate(stagingRoot, remotePrefix string) ([]Task, error) {
	prefix := NormalizePrefix(remotePrefix)

	var tasks []Task
	err := filepath.WalkDir(stagingRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(stagingRoot, p)
		if err != nil {
			return err
		}
		tasks = append(tasks, Task{
			Local:  p,
			Remote: prefix + filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("uploader: enumerate %s: %w", stagingRoot, err)
	}
	return tasks, nil
}
