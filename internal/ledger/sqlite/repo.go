// Package sqlite implements the run ledger on a local SQLite file. The
// default choice for single-host batch jobs: the ledger travels with the
// job's data directory and needs no server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"shopexport/internal/ledger"
)

// Timestamps are stored as RFC3339Nano TEXT: SQLite has no timestamp type,
// and TEXT round-trips reliably with modernc.org/sqlite.
const timeLayout = time.RFC3339Nano

type Repo struct {
	db *sql.DB
}

func init() {
	ledger.Register("sqlite", New)
}

func New(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS export_runs (
			run_id      TEXT PRIMARY KEY,
			job         TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			finished_at TEXT,
			rows_total  INTEGER NOT NULL DEFAULT 0,
			batches     INTEGER NOT NULL DEFAULT 0,
			uploaded    INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS export_failures (
			run_id     TEXT NOT NULL REFERENCES export_runs(run_id),
			batch      INTEGER NOT NULL,
			local_path TEXT NOT NULL,
			remote_key TEXT NOT NULL,
			reason     TEXT NOT NULL,
			failed_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_export_failures_run ON export_failures(run_id)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) StartRun(ctx context.Context, run ledger.Run) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO export_runs (run_id, job, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Job, run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("ledger start run: %w", err)
	}
	return nil
}

func (r *Repo) RecordFailures(ctx context.Context, runID string, batch int, failures []ledger.Failure) error {
	if len(failures) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger record failures: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO export_failures (run_id, batch, local_path, remote_key, reason, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("ledger record failures: %w", err)
	}
	defer stmt.Close()

	for _, f := range failures {
		if _, err := stmt.ExecContext(ctx, runID, batch, f.Local, f.Remote, f.Reason,
			f.FailedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("ledger record failures: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger record failures: %w", err)
	}
	return nil
}

func (r *Repo) FinishRun(ctx context.Context, runID string, sum ledger.Summary) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_runs
		 SET finished_at = ?, rows_total = ?, batches = ?, uploaded = ?, failed = ?
		 WHERE run_id = ?`,
		sum.FinishedAt.UTC().Format(timeLayout),
		sum.Rows, sum.Batches, sum.Uploaded, sum.Failed, runID,
	)
	if err != nil {
		return fmt.Errorf("ledger finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger finish run: unknown run %q", runID)
	}
	return nil
}
