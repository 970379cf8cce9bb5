// Package config defines the JSON pipeline configuration for the export
// job and its validation. The file shape mirrors the job sections:
//
//	{
//	  "job": "shop-export",
//	  "source": {"kind": "file", "file": {"path": "data/in/tables/products.csv"}},
//	  "format": "metadata",
//	  "parser": {"options": {"trim_space": true}},
//	  "convert": {"delimiter": "__", "infer_types": true, "type_hints": {"price": "number"}},
//	  "sink": {"kind": "dir", "staging_dir": "data/out/files"},
//	  "upload": {"bucket": "exports", "prefix": "v2/", "workers": 4, "chunk_size": 5000,
//	             "access_key_id": "${AWS_ACCESS_KEY_ID}", "secret_access_key": "${AWS_SECRET_ACCESS_KEY}"},
//	  "ledger": {"kind": "sqlite", "dsn": "file:runs.db"}
//	}
//
// Credential and DSN fields support ${VAR} environment expansion.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Table shape selectors. Each shape fixes the set of required identifier
// columns and the output document name.
const (
	FormatPriceHistory = "pricehistory"
	FormatMetadata     = "metadata"
)

// Sink strategies.
const (
	SinkDir = "dir"
	SinkZip = "zip"
)

// Defaults applied by Normalize.
const (
	DefaultDelimiter  = "__"
	DefaultChunkSize  = 5000
	DefaultWorkers    = 1
	DefaultLedgerKind = "none"
)

type Pipeline struct {
	Job     string        `json:"job"`
	Source  Source        `json:"source"`
	Format  string        `json:"format"`
	Parser  Parser        `json:"parser"`
	Convert ConvertConfig `json:"convert"`
	Sink    SinkConfig    `json:"sink"`
	Upload  UploadConfig  `json:"upload"`
	Ledger  LedgerConfig  `json:"ledger"`
	Runtime RuntimeConfig `json:"runtime"`
}

type Source struct {
	Kind string      `json:"kind"`
	File *FileSource `json:"file,omitempty"`
}

type FileSource struct {
	Path string `json:"path"`
}

type Parser struct {
	// Options: comma, trim_space, lazy_quotes, input_encoding, header_map.
	Options Options `json:"options"`
}

type ConvertConfig struct {
	Delimiter string `json:"delimiter"`

	// InferTypes defaults to true; a pointer distinguishes "absent" from
	// an explicit false.
	InferTypes *bool `json:"infer_types,omitempty"`

	// TypeHints maps a column path's leaf name to string|number|integer|boolean.
	TypeHints map[string]string `json:"type_hints"`
}

// Infer resolves the InferTypes default.
func (c ConvertConfig) Infer() bool {
	if c.InferTypes == nil {
		return true
	}
	return *c.InferTypes
}

type SinkConfig struct {
	// Kind: "dir" writes loose JSON files, "zip" one archive per partition.
	Kind       string `json:"kind"`
	StagingDir string `json:"staging_dir"`
}

type UploadConfig struct {
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"` // non-AWS endpoints (minio etc); implies path-style addressing
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Workers         int    `json:"workers"`
	ChunkSize       int    `json:"chunk_size"`

	// FailOnError makes any failed transfer fail the whole run. Default is
	// to finish the batch, log the failures, and exit zero.
	FailOnError bool `json:"fail_on_error"`
}

type LedgerConfig struct {
	// Kind: "none" (default), "sqlite", "postgres", "mssql".
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

type RuntimeConfig struct {
	ChannelBuffer int `json:"channel_buffer"`
}

// Load reads, decodes, normalizes, and env-expands a pipeline config.
// Validation is a separate step so callers can render all issues at once.
func Load(r io.Reader) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	p.Normalize()
	return p, nil
}

// Normalize fills defaults and expands environment references in fields
// that conventionally carry secrets or paths.
func (p *Pipeline) Normalize() {
	if p.Convert.Delimiter == "" {
		p.Convert.Delimiter = DefaultDelimiter
	}
	if p.Sink.Kind == "" {
		p.Sink.Kind = SinkDir
	}
	if p.Upload.ChunkSize <= 0 {
		p.Upload.ChunkSize = DefaultChunkSize
	}
	if p.Upload.Workers <= 0 {
		p.Upload.Workers = DefaultWorkers
	}
	if p.Ledger.Kind == "" {
		p.Ledger.Kind = DefaultLedgerKind
	}
	if p.Runtime.ChannelBuffer <= 0 {
		p.Runtime.ChannelBuffer = 256
	}

	p.Upload.AccessKeyID = os.ExpandEnv(p.Upload.AccessKeyID)
	p.Upload.SecretAccessKey = os.ExpandEnv(p.Upload.SecretAccessKey)
	p.Ledger.DSN = os.ExpandEnv(p.Ledger.DSN)
	if p.Source.File != nil {
		p.Source.File.Path = os.ExpandEnv(p.Source.File.Path)
	}
}
