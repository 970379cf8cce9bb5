// Package metrics is the minimal observability seam for the export job.
//
// Core code records counters and histograms against the package-level
// backend; which backend that is (Datadog, nop) is wired once in main. The
// default is a nop, so library code can record unconditionally.
package metrics

import "sync"

// Labels attach low-cardinality dimensions to a metric sample.
type Labels map[string]string

// Backend receives metric samples. Implementations buffer internally and
// submit on Flush.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names recorded by the export pipeline.
const (
	RowsTotal            = "export_rows_total"             // labels: kind=read|converted|staged
	BatchesTotal         = "export_batches_total"          // no labels
	UploadsTotal         = "export_uploads_total"          // labels: status=ok|failed
	BatchDurationSeconds = "export_batch_duration_seconds" // histogram
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-wide backend. Call once at startup.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a named counter on the active backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the active backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush submits anything buffered on the active backend.
func Flush() error {
	return current().Flush()
}
