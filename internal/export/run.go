// Package export drives one export run end to end: stream the input table,
// convert each row into its JSON document, stage documents per shop, and at
// every chunk boundary push the staged batch to object storage before
// clearing the staging area for the next chunk.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"shopexport/internal/config"
	"shopexport/internal/convert"
	"shopexport/internal/ledger"
	"shopexport/internal/metrics"
	"shopexport/internal/parser/csv"
	"shopexport/internal/record"
	"shopexport/internal/sink"
	"shopexport/internal/uploader"
	"shopexport/internal/uploader/s3"
)

// progressLogEvery is the transfer count between progress log lines inside
// one upload batch; the batch summary line covers smaller batches.
const progressLogEvery = 100

// Report aggregates one run's outcome for the CLI and the ledger summary.
type Report struct {
	RunID    string
	Rows     int64
	Batches  int64
	Uploaded int64
	Failed   int64
}

type Runner struct {
	Log *log.Logger

	// factory seams so tests can swap the transfer and the ledger
	NewTransfer func(ctx context.Context, cfg config.UploadConfig) (uploader.TransferFunc, error)
	NewLedger   func(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error)
	NewRunID    func() string
}

func NewDefaultRunner() *Runner {
	return &Runner{
		Log: log.Default(),
		NewTransfer: func(ctx context.Context, cfg config.UploadConfig) (uploader.TransferFunc, error) {
			client, err := s3.New(s3.Config{
				Bucket:          cfg.Bucket,
				Region:          cfg.Region,
				Endpoint:        cfg.Endpoint,
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				Workers:         cfg.Workers,
			})
			if err != nil {
				return nil, err
			}
			if err := client.CheckBucket(ctx); err != nil {
				return nil, Userf("bucket %q not reachable: %v", cfg.Bucket, err)
			}
			return client.Upload, nil
		},
		NewLedger: ledger.New,
		NewRunID:  uuid.NewString,
	}
}

func (r *Runner) logf(format string, args ...any) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}

// Run executes the pipeline described by cfg. The returned Report is valid
// even on error for the batches that completed before the failure.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (Report, error) {
	var rep Report

	sh, err := shapeFor(cfg.Format)
	if err != nil {
		return rep, err
	}

	if cfg.Source.Kind != "file" || cfg.Source.File == nil || cfg.Source.File.Path == "" {
		return rep, Userf("source.kind=file and source.file.path are required")
	}
	src, err := os.Open(cfg.Source.File.Path)
	if err != nil {
		return rep, Userf("open source table: %v", err)
	}
	// StreamRows owns src and closes it.

	staging := cfg.Sink.StagingDir
	if err := os.MkdirAll(staging, 0o755); err != nil {
		src.Close()
		return rep, fmt.Errorf("create staging dir: %w", err)
	}
	if err := sink.Clear(staging); err != nil {
		src.Close()
		return rep, err
	}
	out, err := sink.New(cfg.Sink.Kind, staging)
	if err != nil {
		src.Close()
		return rep, err
	}

	transfer, err := r.NewTransfer(ctx, cfg.Upload)
	if err != nil {
		src.Close()
		return rep, err
	}

	led, err := r.NewLedger(ctx, ledger.Config{Kind: cfg.Ledger.Kind, DSN: cfg.Ledger.DSN})
	if err != nil {
		src.Close()
		return rep, fmt.Errorf("ledger: %w", err)
	}
	defer led.Close()
	if err := led.EnsureSchema(ctx); err != nil {
		src.Close()
		return rep, fmt.Errorf("ledger: %w", err)
	}

	rep.RunID = r.NewRunID()
	if err := led.StartRun(ctx, ledger.Run{ID: rep.RunID, Job: cfg.Job, StartedAt: time.Now()}); err != nil {
		src.Close()
		return rep, fmt.Errorf("ledger: %w", err)
	}

	r.logf("run %s: format=%s source=%s chunk=%d workers=%d",
		rep.RunID, cfg.Format, cfg.Source.File.Path, cfg.Upload.ChunkSize, cfg.Upload.Workers)

	runErr := r.stream(ctx, cfg, sh, src, out, transfer, led, &rep)

	if ferr := led.FinishRun(ctx, rep.RunID, ledger.Summary{
		Rows:       rep.Rows,
		Batches:    rep.Batches,
		Uploaded:   rep.Uploaded,
		Failed:     rep.Failed,
		FinishedAt: time.Now(),
	}); ferr != nil {
		r.logf("run %s: ledger finish: %v", rep.RunID, ferr)
		if runErr == nil {
			runErr = fmt.Errorf("ledger: %w", ferr)
		}
	}
	if ferr := metrics.Flush(); ferr != nil {
		r.logf("run %s: metrics flush: %v", rep.RunID, ferr)
	}
	return rep, runErr
}

// rowPlan is the per-run conversion plan derived from the header.
type rowPlan struct {
	partitionIdx int
	subIdx       int

	// pricehistory passthrough
	jsonIdx int

	// metadata conversion
	payloadIdx []int
	plan       *convert.Plan
	conv       *convert.Converter
}

func (r *Runner) stream(
	ctx context.Context,
	cfg config.Pipeline,
	sh shape,
	src *os.File,
	out sink.Sink,
	transfer uploader.TransferFunc,
	led ledger.Ledger,
	rep *Report,
) error {
	buffer := cfg.Runtime.ChannelBuffer
	rows := make(chan *record.Row, buffer)
	errCh := make(chan error, 1)

	var plan rowPlan
	onHeader := func(columns []string) error {
		if err := sh.checkRequired(columns); err != nil {
			return err
		}
		plan.partitionIdx = columnIndex(columns, colPartition)
		plan.subIdx = columnIndex(columns, colSub)
		if sh.passthroughJSON {
			plan.jsonIdx = columnIndex(columns, colJSON)
			return nil
		}
		var names []string
		names, plan.payloadIdx = sh.payloadColumns(columns)
		plan.conv = &convert.Converter{
			Delimiter: cfg.Convert.Delimiter,
			Hints:     cfg.Convert.TypeHints,
			Infer:     cfg.Convert.Infer(),
		}
		compiled, err := plan.conv.Compile(names)
		if err != nil {
			return Userf("column plan: %v", err)
		}
		plan.plan = compiled
		return nil
	}

	go func() {
		errCh <- csv.StreamRows(ctx, src, cfg.Parser.Options, onHeader, rows, func(line int, err error) {
			r.logf("run %s: input line %d: %v", rep.RunID, line, err)
		})
		close(rows)
	}()

	// The reader goroutine runs onHeader before sending any row, so the
	// channel receive orders the consumer's plan reads after its writes.
	staged, consumeErr := r.consume(ctx, cfg, sh, &plan, rows, out, transfer, led, rep)
	readErr := <-errCh

	if consumeErr != nil {
		// finalize so zip archives land on disk for inspection
		if err := out.Finalize(); err != nil {
			r.logf("run %s: finalize after error: %v", rep.RunID, err)
		}
		return consumeErr
	}
	if readErr != nil {
		// A partial trailing chunk is never uploaded after an input failure.
		if err := out.Finalize(); err != nil {
			r.logf("run %s: finalize after error: %v", rep.RunID, err)
		}
		switch {
		case errors.Is(readErr, context.Canceled), errors.Is(readErr, context.DeadlineExceeded):
			return readErr
		case IsUserError(readErr):
			return readErr
		}
		return Userf("read source table: %v", readErr)
	}
	if staged > 0 {
		return r.flushBatch(ctx, cfg, out, transfer, led, rep)
	}
	return nil
}

func (r *Runner) consume(
	ctx context.Context,
	cfg config.Pipeline,
	sh shape,
	plan *rowPlan,
	rows <-chan *record.Row,
	out sink.Sink,
	transfer uploader.TransferFunc,
	led ledger.Ledger,
	rep *Report,
) (int, error) {
	drain := func() {
		for row := range rows {
			row.Drop()
		}
	}

	staged := 0
	for row := range rows {
		rep.Rows++
		metrics.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "read"})

		partition := row.V[plan.partitionIdx]
		sub := row.V[plan.subIdx]
		if partition == "" || sub == "" {
			line := row.Line
			row.Drop()
			drain()
			return 0, Userf("line %d: empty %s or %s", line, colPartition, colSub)
		}

		var doc any
		if sh.passthroughJSON {
			raw := row.V[plan.jsonIdx]
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				line := row.Line
				row.Drop()
				drain()
				return 0, Userf("line %d: column %s is not valid JSON: %v", line, colJSON, err)
			}
		} else {
			values := make([]string, len(plan.payloadIdx))
			for i, idx := range plan.payloadIdx {
				values[i] = row.V[idx]
			}
			converted, err := plan.conv.Convert(plan.plan, values)
			if err != nil {
				line := row.Line
				row.Drop()
				drain()
				return 0, Userf("line %d: %v", line, err)
			}
			doc = converted
		}
		metrics.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "converted"})

		if err := out.Write(partition, sub, sh.docName, doc); err != nil {
			row.Drop()
			drain()
			return 0, err
		}
		metrics.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "staged"})
		row.Free()

		staged++
		if staged == cfg.Upload.ChunkSize {
			if err := r.flushBatch(ctx, cfg, out, transfer, led, rep); err != nil {
				drain()
				return 0, err
			}
			staged = 0
		}
	}
	return staged, nil
}

// flushBatch closes the staged chunk and ships it: finalize archives,
// enumerate the staging area, drain the transfer pool, record failures in
// the ledger, clear staging. Failed transfers never abort the batch; they
// are counted, logged, and itemized, and only fail the run when
// upload.fail_on_error is set.
func (r *Runner) flushBatch(
	ctx context.Context,
	cfg config.Pipeline,
	out sink.Sink,
	transfer uploader.TransferFunc,
	led ledger.Ledger,
	rep *Report,
) error {
	start := time.Now()
	batch := int(rep.Batches) + 1

	if err := out.Finalize(); err != nil {
		return err
	}
	tasks, err := uploader.Enumerate(cfg.Sink.StagingDir, cfg.Upload.Prefix)
	if err != nil {
		return err
	}

	pool := &uploader.Pool{
		Workers: cfg.Upload.Workers,
		OnDone: func(done, total int) {
			if done%progressLogEvery == 0 {
				r.logf("run %s: batch %d: %d/%d transfers done", rep.RunID, batch, done, total)
			}
		},
	}
	res := pool.Run(ctx, tasks, transfer)

	rep.Batches++
	rep.Uploaded += int64(res.Succeeded)
	rep.Failed += int64(res.Failed)
	metrics.IncCounter(metrics.BatchesTotal, 1, nil)
	metrics.IncCounter(metrics.UploadsTotal, float64(res.Succeeded), metrics.Labels{"status": "ok"})
	metrics.IncCounter(metrics.UploadsTotal, float64(res.Failed), metrics.Labels{"status": "failed"})
	metrics.ObserveHistogram(metrics.BatchDurationSeconds, time.Since(start).Seconds(), nil)

	for _, f := range res.Failures {
		r.logf("run %s: batch %d: %v", rep.RunID, batch, f)
	}
	if len(res.Failures) > 0 {
		failures := make([]ledger.Failure, len(res.Failures))
		now := time.Now()
		for i, f := range res.Failures {
			failures[i] = ledger.Failure{
				Local:    f.Task.Local,
				Remote:   f.Task.Remote,
				Reason:   f.Err.Error(),
				FailedAt: now,
			}
		}
		if err := led.RecordFailures(ctx, rep.RunID, batch, failures); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}

	r.logf("run %s: batch %d: files=%d uploaded=%d failed=%d in %s",
		rep.RunID, batch, len(tasks), res.Succeeded, res.Failed,
		time.Since(start).Round(time.Millisecond))

	if err := sink.Clear(cfg.Sink.StagingDir); err != nil {
		return err
	}
	if cfg.Upload.FailOnError && res.Failed > 0 {
		return Userf("batch %d: %d of %d transfers failed", batch, res.Failed, len(tasks))
	}
	return nil
}
