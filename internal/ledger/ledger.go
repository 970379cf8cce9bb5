// Package ledger persists upload run outcomes so failed transfers survive
// the process for operator follow-up. The run loop records every failed
// transfer with its error, plus one summary row per run; successful
// transfers are only counted, not itemized.
//
// Backends register themselves from init() in their subpackages; import
// shopexport/internal/ledger/all for the side effect of registering all of
// them.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config selects and configures a ledger backend.
type Config struct {
	// Kind: "none", "sqlite", "postgres", "mssql".
	Kind string
	DSN  string
}

// Run identifies one invocation of the export job.
type Run struct {
	ID        string
	Job       string
	StartedAt time.Time
}

// Failure is one transfer that did not reach storage.
type Failure struct {
	Local    string
	Remote   string
	Reason   string
	FailedAt time.Time
}

// Summary closes out a run with its aggregate counts.
type Summary struct {
	Rows       int64
	Batches    int64
	Uploaded   int64
	Failed     int64
	FinishedAt time.Time
}

// Ledger records run outcomes. The run loop calls it from a single
// goroutine, so implementations need no internal locking.
type Ledger interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureSchema creates the ledger tables if missing (idempotent).
	EnsureSchema(ctx context.Context) error

	// StartRun inserts the run row before the first batch.
	StartRun(ctx context.Context, run Run) error

	// RecordFailures itemizes failed transfers of one upload batch.
	RecordFailures(ctx context.Context, runID string, batch int, failures []Failure) error

	// FinishRun stores the aggregate counts and the finish timestamp.
	FinishRun(ctx context.Context, runID string, sum Summary) error
}

type factory func(ctx context.Context, cfg Config) (Ledger, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register adds a backend factory under a kind. Called from backend init();
// a duplicate kind panics to fail fast on ambiguous registration.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("ledger: Register called with empty kind")
	}
	if f == nil {
		panic("ledger: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("ledger: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Ledger for the configured kind. Kind "none" (and empty)
// returns a nop ledger so call sites never need nil checks.
func New(ctx context.Context, cfg Config) (Ledger, error) {
	if cfg.Kind == "" || cfg.Kind == "none" {
		return Nop{}, nil
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: unsupported kind %q", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Nop discards everything. Used when no ledger is configured.
type Nop struct{}

func (Nop) Close()                                                       {}
func (Nop) EnsureSchema(context.Context) error                           { return nil }
func (Nop) StartRun(context.Context, Run) error                          { return nil }
func (Nop) RecordFailures(context.Context, string, int, []Failure) error { return nil }
func (Nop) FinishRun(context.Context, string, Summary) error             { return nil }
