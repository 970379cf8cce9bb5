// Package mssql implements the run ledger on SQL Server for shops whose
// operations tooling already lives there.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"shopexport/internal/ledger"
)

type Repo struct {
	db *sql.DB
}

func init() {
	ledger.Register("mssql", New)
}

func New(ctx context.Context, cfg ledger.Config) (ledger.Ledger, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
		`IF OBJECT_ID('export_runs', 'U') IS NULL
		 CREATE TABLE export_runs (
			run_id      NVARCHAR(64) PRIMARY KEY,
			job         NVARCHAR(255) NOT NULL,
			started_at  DATETIMEOFFSET NOT NULL,
			finished_at DATETIMEOFFSET NULL,
			rows_total  BIGINT NOT NULL DEFAULT 0,
			batches     BIGINT NOT NULL DEFAULT 0,
			uploaded    BIGINT NOT NULL DEFAULT 0,
			failed      BIGINT NOT NULL DEFAULT 0
		 )`,
		`IF OBJECT_ID('export_failures', 'U') IS NULL
		 CREATE TABLE export_failures (
			run_id     NVARCHAR(64) NOT NULL REFERENCES export_runs(run_id),
			batch      INT NOT NULL,
			local_path NVARCHAR(1024) NOT NULL,
			remote_key NVARCHAR(1024) NOT NULL,
			reason     NVARCHAR(MAX) NOT NULL,
			failed_at  DATETIMEOFFSET NOT NULL
		 )`,
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
		`INSERT INTO export_runs (run_id, job, started_at) VALUES (@p1, @p2, @p3)`,
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger record failures: %w", err)
	}
	defer tx.Rollback()

	for _, f := range failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO export_failures (run_id, batch, local_path, remote_key, reason, failed_at)
			 VALUES (@p1, @p2, @p3, @p4, @p5, @p6)`,
			runID, batch, f.Local, f.Remote, f.Reason, f.FailedAt,
		); err != nil {
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
		 SET finished_at = @p1, rows_total = @p2, batches = @p3, uploaded = @p4, failed = @p5
		 WHERE run_id = @p6`,
		sum.FinishedAt, sum.Rows, sum.Batches, sum.Uploaded, sum.Failed, runID,
	)
	if err != nil {
		return fmt.Errorf("ledger finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger finish run: unknown run %q", runID)
	}
	return nil
}
