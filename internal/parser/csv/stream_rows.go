// Package csv streams input tables into pooled record rows for the export
// pipeline.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"shopexport/internal/config"
	"shopexport/internal/record"
)

// decoderFor maps an input_encoding option value to a charset decoder.
// UTF-8 input needs no transcoding and returns nil.
func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1250", "cp1250":
		return charmap.Windows1250.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2.NewDecoder(), nil
	}
	return nil, fmt.Errorf("csv: unsupported input_encoding %q", name)
}

// StreamRows reads a headered CSV from src and streams every data record
// into out as a pooled *record.Row aligned to the header order.
//
// The header is cleaned (BOM strip on the first cell, edge-space trim,
// optional header_map renames) and handed to onHeader before any row is
// read; onHeader returning an error aborts the stream, which is how callers
// reject tables missing required columns before processing starts.
//
// Unlike lenient samplers, a malformed record aborts the stream: a skipped
// row here would silently drop an output document. onErr (optional) observes
// the failure with its 1-based record number before the error is returned.
//
// NOTE on cancellation: in-flight rows are Drop()ed, not Free()d, so a
// draining consumer never races with pool reuse.
//
// parserOpts:
//   - comma: field delimiter rune (default ",")
//   - trim_space: trim cell edge whitespace (default true)
//   - lazy_quotes: tolerate bare quotes (default false)
//   - input_encoding: utf-8 (default), windows-1250/1252, iso-8859-1/2
//   - header_map: map original header name -> canonical column name
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	parserOpts config.Options,
	onHeader func(columns []string) error,
	out chan<- *record.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	comma := parserOpts.Rune("comma", ',')
	trim := parserOpts.Bool("trim_space", true)
	lazy := parserOpts.Bool("lazy_quotes", false)
	headerMap := parserOpts.StringMap("header_map")

	fail := func(line int, err error) error {
		if onErr != nil {
			onErr(line, err)
		}
		return err
	}

	var r io.Reader = src
	dec, err := decoderFor(parserOpts.String("input_encoding", ""))
	if err != nil {
		return fail(0, err)
	}
	if dec != nil {
		r = transform.NewReader(r, dec)
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = 0 // every record must match the header width

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err != nil {
		return fail(line, fmt.Errorf("read header: %w", err))
	}

	columns := make([]string, len(hdr))
	for i, h := range hdr {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if mapped, ok := headerMap[h]; ok {
			h = mapped
		}
		columns[i] = h
	}

	if onHeader != nil {
		if err := onHeader(columns); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fail(line, fmt.Errorf("csv read: %w", err))
		}

		row := record.Get(len(columns))
		row.Line = line

		for i, v := range rec {
			if trim {
				v = strings.TrimSpace(v)
			}
			row.V[i] = v
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}
