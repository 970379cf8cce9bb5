// Package postgres implements the run ledger on PostgreSQL. Use it when
// several export jobs report into one shared operations database.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"shopexport/internal/ledger"
)

type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	ledger.Register("postgres", New)
}

func New(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS export_runs (
			run_id      TEXT PRIMARY KEY,
			job         TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			rows_total  BIGINT NOT NULL DEFAULT 0,
			batches     BIGINT NOT NULL DEFAULT 0,
			uploaded    BIGINT NOT NULL DEFAULT 0,
			failed      BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS export_failures (
			run_id     TEXT NOT NULL REFERENCES export_runs(run_id),
			batch      INTEGER NOT NULL,
			local_path TEXT NOT NULL,
			remote_key TEXT NOT NULL,
			reason     TEXT NOT NULL,
			failed_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_export_failures_run ON export_failures(run_id)`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ledger schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) StartRun(ctx context.Context, run ledger.Run) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO export_runs (run_id, job, started_at) VALUES ($1, $2, $3)`,
		run.ID, run.Job, run.StartedAt,
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

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger record failures: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, f := range failures {
		if _, err := tx.Exec(ctx,
			`INSERT INTO export_failures (run_id, batch, local_path, remote_key, reason, failed_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			runID, batch, f.Local, f.Remote, f.Reason, f.FailedAt,
		); err != nil {
			return fmt.Errorf("ledger record failures: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger record failures: %w", err)
	}
	return nil
}

func (r *Repo) FinishRun(ctx context.Context, runID string, sum ledger.Summary) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE export_runs
		 SET finished_at = $1, rows_total = $2, batches = $3, uploaded = $4, failed = $5
		 WHERE run_id = $6`,
		sum.FinishedAt, sum.Rows, sum.Batches, sum.Uploaded, sum.Failed, runID,
	)
	if err != nil {
		return fmt.Errorf("ledger finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger finish run: unknown run %q", runID)
	}
	return nil
}
