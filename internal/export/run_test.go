package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"shopexport/internal/config"
	"shopexport/internal/ledger"
	"shopexport/internal/uploader"
)

// memTransfer captures uploads in memory, keyed by remote key. It reads the
// local file during the transfer, before the staging area is cleared.
type memTransfer struct {
	mu      sync.Mutex
	objects map[string][]byte
	failing map[string]bool
}

func newMemTransfer() *memTransfer {
	return &memTransfer{objects: map[string][]byte{}, failing: map[string]bool{}}
}

func (m *memTransfer) upload(_ context.Context, local, remote string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[remote] {
		return errors.New("injected transfer failure")
	}
	b, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	m.objects[remote] = b
	return nil
}

// memLedger records every ledger call for assertions.
type memLedger struct {
	runs     []ledger.Run
	failures map[int][]ledger.Failure
	summary  *ledger.Summary
	closed   bool
}

func newMemLedger() *memLedger {
	return &memLedger{failures: map[int][]ledger.Failure{}}
}

func (m *memLedger) Close() { m.closed = true }

func (m *memLedger) EnsureSchema(context.Context) error { return nil }

func (m *memLedger) StartRun(_ context.Context, run ledger.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memLedger) RecordFailures(_ context.Context, _ string, batch int, fs []ledger.Failure) error {
	m.failures[batch] = append(m.failures[batch], fs...)
	return nil
}

func (m *memLedger) FinishRun(_ context.Context, _ string, sum ledger.Summary) error {
	m.summary = &sum
	return nil
}

func testRunner(t *testing.T, transfer *memTransfer, led *memLedger) *Runner {
	t.Helper()
	return &Runner{
		Log: log.New(io.Discard, "", 0),
		NewTransfer: func(context.Context, config.UploadConfig) (uploader.TransferFunc, error) {
			return transfer.upload, nil
		},
		NewLedger: func(context.Context, ledger.Config) (ledger.Ledger, error) {
			return led, nil
		},
		NewRunID: func() string { return "test-run" },
	}
}

func writeTable(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return path
}

func basePipeline(t *testing.T, format, tablePath string) config.Pipeline {
	t.Helper()
	p := config.Pipeline{
		Job:    "test-export",
		Format: format,
		Source: config.Source{Kind: "file", File: &config.FileSource{Path: tablePath}},
		Sink:   config.SinkConfig{Kind: config.SinkDir, StagingDir: filepath.Join(t.TempDir(), "staging")},
		Upload: config.UploadConfig{Bucket: "b", Prefix: "exports", ChunkSize: 2, Workers: 2},
	}
	p.Normalize()
	p.Upload.ChunkSize = 2
	return p
}

func TestRunMetadataChunked(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(),
		"shop_id,slug,name,price__amount,price__currency\n"+
			"10,boty-a,Boty A,120,CZK\n"+
			"10,boty-b,Boty B,99.5,CZK\n"+
			"20,mikina-c,Mikina C,300,EUR\n"+
			"20,mikina-d,Mikina D,,EUR\n"+
			"30,tricko-e,Tricko E,50,CZK\n")

	transfer := newMemTransfer()
	led := newMemLedger()
	cfg := basePipeline(t, config.FormatMetadata, table)

	rep, err := testRunner(t, transfer, led).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Rows != 5 {
		t.Errorf("rows = %d, want 5", rep.Rows)
	}
	if rep.Batches != 3 {
		t.Errorf("batches = %d, want 3 (chunk=2 over 5 rows)", rep.Batches)
	}
	if rep.Uploaded != 5 || rep.Failed != 0 {
		t.Errorf("uploaded/failed = %d/%d, want 5/0", rep.Uploaded, rep.Failed)
	}

	// staging is cleared after the final batch
	entries, err := os.ReadDir(cfg.Sink.StagingDir)
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging not empty after run: %d entries", len(entries))
	}

	body, ok := transfer.objects["exports/10/boty-a/meta.json"]
	if !ok {
		t.Fatalf("missing object exports/10/boty-a/meta.json; have %v", keys(transfer.objects))
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("uploaded doc not JSON: %v", err)
	}
	if doc["name"] != "Boty A" {
		t.Errorf("name = %v, want Boty A", doc["name"])
	}
	price, ok := doc["price"].(map[string]any)
	if !ok {
		t.Fatalf("price = %T, want object", doc["price"])
	}
	if price["amount"] != float64(120) || price["currency"] != "CZK" {
		t.Errorf("price = %v", price)
	}
	if doc["shop_id"] != nil || doc["slug"] != nil {
		t.Errorf("identifier columns leaked into document: %v", doc)
	}

	if len(led.runs) != 1 || led.runs[0].ID != "test-run" || led.runs[0].Job != "test-export" {
		t.Errorf("run rows = %+v", led.runs)
	}
	if led.summary == nil {
		t.Fatal("summary not recorded")
	}
	if led.summary.Rows != 5 || led.summary.Batches != 3 || led.summary.Uploaded != 5 {
		t.Errorf("summary = %+v", led.summary)
	}
	if !led.closed {
		t.Error("ledger not closed")
	}
}

func TestRunMissingColumnsListsAll(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(), "shop_id,name\n10,Boty\n")
	cfg := basePipeline(t, config.FormatPriceHistory, table)

	_, err := testRunner(t, newMemTransfer(), newMemLedger()).Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
	if !IsUserError(err) {
		t.Errorf("error not classified as user error: %v", err)
	}
	for _, col := range []string{"slug", "json"} {
		if !strings.Contains(err.Error(), col) {
			t.Errorf("error %q does not name missing column %s", err, col)
		}
	}
}

func TestRunPriceHistoryPassthrough(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(),
		"shop_id,slug,json\n"+
			`10,boty-a,"[{""date"":""2026-08-01"",""price"":120}]"`+"\n")
	transfer := newMemTransfer()
	cfg := basePipeline(t, config.FormatPriceHistory, table)

	rep, err := testRunner(t, transfer, newMemLedger()).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Uploaded != 1 {
		t.Fatalf("uploaded = %d, want 1", rep.Uploaded)
	}

	body, ok := transfer.objects["exports/10/boty-a/price-history.json"]
	if !ok {
		t.Fatalf("missing price-history object; have %v", keys(transfer.objects))
	}
	var doc []any
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("uploaded doc not JSON array: %v", err)
	}
	if len(doc) != 1 {
		t.Fatalf("doc = %v", doc)
	}
	point := doc[0].(map[string]any)
	if point["price"] != float64(120) {
		t.Errorf("price = %v, want 120", point["price"])
	}
}

func TestRunPriceHistoryRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(),
		"shop_id,slug,json\n10,boty-a,{not json}\n")
	cfg := basePipeline(t, config.FormatPriceHistory, table)

	_, err := testRunner(t, newMemTransfer(), newMemLedger()).Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for invalid json column")
	}
	if !IsUserError(err) || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error = %v", err)
	}
}

func TestRunEmptyIdentifier(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(),
		"shop_id,slug,name\n10,,Boty\n")
	cfg := basePipeline(t, config.FormatMetadata, table)

	_, err := testRunner(t, newMemTransfer(), newMemLedger()).Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for empty slug")
	}
	if !IsUserError(err) || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error = %v", err)
	}
}

func TestRunFailedTransfersRecordedNotFatal(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(),
		"shop_id,slug,name\n10,boty-a,A\n10,boty-b,B\n")
	transfer := newMemTransfer()
	transfer.failing["exports/10/boty-b/meta.json"] = true
	led := newMemLedger()
	cfg := basePipeline(t, config.FormatMetadata, table)

	rep, err := testRunner(t, transfer, led).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v (failed transfers must not fail the run by default)", err)
	}
	if rep.Uploaded != 1 || rep.Failed != 1 {
		t.Errorf("uploaded/failed = %d/%d, want 1/1", rep.Uploaded, rep.Failed)
	}

	recorded := led.failures[1]
	if len(recorded) != 1 {
		t.Fatalf("recorded failures = %+v, want 1 entry in batch 1", led.failures)
	}
	if recorded[0].Remote != "exports/10/boty-b/meta.json" {
		t.Errorf("failure remote = %q", recorded[0].Remote)
	}
	if recorded[0].Reason == "" {
		t.Error("failure reason empty")
	}
	if led.summary == nil || led.summary.Failed != 1 {
		t.Errorf("summary = %+v", led.summary)
	}
}

func TestRunFailOnError(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(),
		"shop_id,slug,name\n10,boty-a,A\n")
	transfer := newMemTransfer()
	transfer.failing["exports/10/boty-a/meta.json"] = true
	cfg := basePipeline(t, config.FormatMetadata, table)
	cfg.Upload.FailOnError = true

	rep, err := testRunner(t, transfer, newMemLedger()).Run(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error with fail_on_error set")
	}
	if rep.Failed != 1 {
		t.Errorf("failed = %d, want 1", rep.Failed)
	}
}

func TestRunUnknownFormat(t *testing.T) {
	t.Parallel()

	cfg := config.Pipeline{Format: "bogus"}
	_, err := testRunner(t, newMemTransfer(), newMemLedger()).Run(context.Background(), cfg)
	if err == nil || !IsUserError(err) {
		t.Fatalf("error = %v, want user error", err)
	}
}

func TestRunZipSinkShipsArchives(t *testing.T) {
	t.Parallel()

	table := writeTable(t, t.TempDir(),
		"shop_id,slug,name\n10,boty-a,A\n20,mikina-b,B\n")
	transfer := newMemTransfer()
	cfg := basePipeline(t, config.FormatMetadata, table)
	cfg.Sink.Kind = config.SinkZip
	cfg.Upload.ChunkSize = 100

	rep, err := testRunner(t, transfer, newMemLedger()).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Uploaded != 2 {
		t.Fatalf("uploaded = %d, want one archive per shop; have %v", rep.Uploaded, keys(transfer.objects))
	}
	for _, want := range []string{"exports/10.zip", "exports/20.zip"} {
		if _, ok := transfer.objects[want]; !ok {
			t.Errorf("missing archive %s; have %v", want, keys(transfer.objects))
		}
	}
}

func TestRunLogsTransferProgress(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("shop_id,slug,name\n")
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, "%d,item-%d,Item %d\n", i, i, i)
	}
	table := writeTable(t, t.TempDir(), b.String())

	var logged bytes.Buffer
	runner := testRunner(t, newMemTransfer(), newMemLedger())
	runner.Log = log.New(&logged, "", 0)
	cfg := basePipeline(t, config.FormatMetadata, table)
	cfg.Upload.ChunkSize = 250

	if _, err := runner.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"100/250 transfers done", "200/250 transfers done"} {
		if !strings.Contains(logged.String(), want) {
			t.Errorf("log missing progress line %q", want)
		}
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
