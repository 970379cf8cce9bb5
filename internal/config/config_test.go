package config

import (
	"strings"
	"testing"
)

const sampleConfig = `{
  "job": "shop-export",
  "source": {"kind": "file", "file": {"path": "data/in/tables/products.csv"}},
  "format": "metadata",
  "parser": {"options": {"trim_space": true, "comma": ";"}},
  "convert": {"type_hints": {"price": "number"}},
  "sink": {"kind": "zip", "staging_dir": "data/out/files"},
  "upload": {
    "bucket": "exports",
    "prefix": "v2",
    "workers": 4,
    "access_key_id": "AKIA",
    "secret_access_key": "secret"
  }
}`

func TestLoad_Defaults(t *testing.T) {
	p, err := Load(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Convert.Delimiter != "__" {
		t.Fatalf("delimiter = %q, want __", p.Convert.Delimiter)
	}
	if !p.Convert.Infer() {
		t.Fatalf("infer should default to true")
	}
	if p.Upload.ChunkSize != DefaultChunkSize {
		t.Fatalf("chunk_size = %d, want %d", p.Upload.ChunkSize, DefaultChunkSize)
	}
	if p.Upload.Workers != 4 {
		t.Fatalf("workers = %d, want 4", p.Upload.Workers)
	}
	if p.Ledger.Kind != "none" {
		t.Fatalf("ledger.kind = %q, want none", p.Ledger.Kind)
	}
	if got := p.Parser.Options.Rune("comma", ','); got != ';' {
		t.Fatalf("parser comma = %q, want ;", got)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_SECRET_KEY", "s3cr3t")

	cfg := `{
	  "source": {"kind": "file", "file": {"path": "in.csv"}},
	  "format": "pricehistory",
	  "sink": {"staging_dir": "out"},
	  "upload": {"bucket": "b", "access_key_id": "a", "secret_access_key": "${TEST_SECRET_KEY}"}
	}`

	p, err := Load(strings.NewReader(cfg))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Upload.SecretAccessKey != "s3cr3t" {
		t.Fatalf("secret = %q, want expanded value", p.Upload.SecretAccessKey)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	if _, err := Load(strings.NewReader(`{"formt": "metadata"}`)); err == nil {
		t.Fatalf("Load accepted a misspelled field")
	}
}

func TestOptions_Accessors(t *testing.T) {
	t.Parallel()

	o := Options{
		"trim_space": true,
		"buffer":     float64(64),
		"comma":      ";",
		"header_map": map[string]any{"Shop ID": "shop_id", "bad": 3},
	}

	if !o.Bool("trim_space", false) {
		t.Fatalf("Bool(trim_space) = false")
	}
	if o.Bool("missing", true) != true {
		t.Fatalf("Bool default not applied")
	}
	if o.Int("buffer", 0) != 64 {
		t.Fatalf("Int(buffer) = %d", o.Int("buffer", 0))
	}
	if o.Rune("comma", ',') != ';' {
		t.Fatalf("Rune(comma) = %q", o.Rune("comma", ','))
	}
	if o.Rune("missing", ',') != ',' {
		t.Fatalf("Rune default not applied")
	}

	hm := o.StringMap("header_map")
	if hm["Shop ID"] != "shop_id" {
		t.Fatalf("StringMap = %v", hm)
	}
	if _, ok := hm["bad"]; ok {
		t.Fatalf("StringMap kept non-string value")
	}
}
