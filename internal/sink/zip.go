package sink

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// Zip maintains one archive per partition key, created lazily on the
// partition's first document. Documents become entries at <sub>/<name>
// inside the partition's archive.
//
// Invariant: an archive, once closed by Finalize, is never reopened for
// appends. If the same partition produces documents again in a later chunk,
// a new segment file is started: <partition>.zip, <partition>-2.zip, ...
// (appending to a finished zip would require rewriting its central
// directory in place, exactly the kind of corruption-on-crash the sink has
// to rule out).
type Zip struct {
	root string

	open     map[string]*zipArchive
	segments map[string]int // partition -> segments started so far
}

type zipArchive struct {
	f  *os.File
	zw *zip.Writer
}

func NewZip(root string) *Zip {
	return &Zip{
		root:     root,
		open:     make(map[string]*zipArchive),
		segments: make(map[string]int),
	}
}

func (z *Zip) archiveName(partition string) string {
	seg := z.segments[partition]
	if seg <= 1 {
		return partition + ".zip"
	}
	return fmt.Sprintf("%s-%d.zip", partition, seg)
}

func (z *Zip) archiveFor(partition string) (*zipArchive, error) {
	if a, ok := z.open[partition]; ok {
		return a, nil
	}

	z.segments[partition]++
	p := filepath.Join(z.root, z.archiveName(partition))

	if err := os.MkdirAll(z.root, 0o755); err != nil {
		return nil, &WriteError{Path: z.root, Err: err}
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, &WriteError{Path: p, Err: err}
	}

	a := &zipArchive{f: f, zw: zip.NewWriter(f)}
	z.open[partition] = a
	return a, nil
}

func (z *Zip) Write(partition, sub, name string, doc any) error {
	a, err := z.archiveFor(partition)
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return &WriteError{Path: path.Join(partition, sub, name), Err: err}
	}

	entry := path.Join(sub, name)
	w, err := a.zw.Create(entry)
	if err != nil {
		return &WriteError{Path: entry, Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return &WriteError{Path: entry, Err: err}
	}
	return nil
}

// Finalize closes every open archive and forgets the handles. It runs at
// every chunk boundary and at end of run (error paths included), so no
// archive can leak an unwritten central directory.
//
// All archives are closed even when one fails; the first error wins.
func (z *Zip) Finalize() error {
	// Deterministic close order keeps failure logs stable.
	parts := make([]string, 0, len(z.open))
	for p := range z.open {
		parts = append(parts, p)
	}
	sort.Strings(parts)

	var firstErr error
	for _, p := range parts {
		a := z.open[p]
		if err := a.zw.Close(); err != nil && firstErr == nil {
			firstErr = &WriteError{Path: a.f.Name(), Err: err}
		}
		if err := a.f.Close(); err != nil && firstErr == nil {
			firstErr = &WriteError{Path: a.f.Name(), Err: err}
		}
		delete(z.open, p)
	}
	return firstErr
}
