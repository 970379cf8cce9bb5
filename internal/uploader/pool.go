package uploader

import (
	"context"
	"fmt"
	"sync"
)

// TransferFunc uploads one local file to its remote key. Implementations
// must be safe for concurrent use up to the pool's worker count; the S3
// client satisfies this with a single shared session.
type TransferFunc func(ctx context.Context, local, remote string) error

// TaskError is one failed transfer, kept with its task so operators can
// replay exactly the files that did not make it.
type TaskError struct {
	Task Task
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("upload %s -> %s: %v", e.Task.Local, e.Task.Remote, e.Err)
}

func (e TaskError) Unwrap() error { return e.Err }

// Result aggregates a batch: every task reached exactly one terminal state.
type Result struct {
	Succeeded int
	Failed    int
	Failures  []TaskError
}

// Pool runs transfer tasks across a fixed-size worker pool.
//
// Failure isolation is the contract: no task's failure cancels any other
// task, every task is attempted exactly once, and Run returns only after
// all of them reach a terminal state. Retries are the caller's business.
type Pool struct {
	// Workers is the pool size; values below 1 degrade to serial execution.
	Workers int

	// OnDone, when set, observes progress as (completed, total) after each
	// task finishes. Called from a single goroutine.
	OnDone func(done, total int)
}

// Run dispatches every task to fn and collects per-task outcomes. Workers
// report results over a channel; no shared mutable failure list exists, so
// no locking is needed around the collection.
func (p *Pool) Run(ctx context.Context, tasks []Task, fn TransferFunc) Result {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if len(tasks) == 0 {
		return Result{}
	}

	taskCh := make(chan Task)
	resCh := make(chan TaskError, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for task := range taskCh {
				resCh <- TaskError{Task: task, Err: fn(ctx, task.Local, task.Remote)}
			}
		}()
	}

	go func() {
		for _, task := range tasks {
			taskCh <- task
		}
		close(taskCh)
		wg.Wait()
		close(resCh)
	}()

	var res Result
	done := 0
	for r := range resCh {
		done++
		if r.Err != nil {
			res.Failed++
			res.Failures = append(res.Failures, r)
		} else {
			res.Succeeded++
		}
		if p.OnDone != nil {
			p.OnDone(done, len(tasks))
		}
	}
	return res
}
