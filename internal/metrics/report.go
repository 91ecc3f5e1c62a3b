// Package metrics accumulates the counters a transaction emits and
// defines the sink contract an external caller supplies (or the default,
// in-memory Report this package provides) to receive them.
package metrics

import (
	"sync"
	"time"
)

// ResourceMetrics counts what happened to every resource visited during
// an evaluate pass.
type ResourceMetrics struct {
	Total          int
	OutOfSync      int
	Applied        int
	Skipped        int
	Restarted      int
	FailedRestarts int
	Scheduled      int
	Failed         int
}

// Values renders the counters as a named metric bucket suitable for
// ReportSink.NewMetric.
func (m ResourceMetrics) Values() map[string]float64 {
	return map[string]float64{
		"total":           float64(m.Total),
		"out_of_sync":     float64(m.OutOfSync),
		"applied":         float64(m.Applied),
		"skipped":         float64(m.Skipped),
		"restarted":       float64(m.Restarted),
		"failed_restarts": float64(m.FailedRestarts),
		"scheduled":       float64(m.Scheduled),
		"failed":          float64(m.Failed),
	}
}

// TimeMetrics accumulates wall-clock time spent evaluating resources,
// bucketed by resource kind.
type TimeMetrics struct {
	mu      sync.Mutex
	perKind map[string]time.Duration
}

// NewTimeMetrics returns an empty TimeMetrics accumulator.
func NewTimeMetrics() *TimeMetrics {
	return &TimeMetrics{perKind: make(map[string]time.Duration)}
}

// Add records d as time spent evaluating a resource of the given kind.
func (t *TimeMetrics) Add(kind string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perKind[kind] += d
}

// Snapshot renders the accumulated durations as a named metric bucket.
// Every bucket key that matches a resource kind present in the current
// transaction is excluded from the result; only the aggregate "total" is
// emitted, since in practice every accumulated key is itself a resource
// kind.
func (t *TimeMetrics) Snapshot(knownKinds map[string]bool) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]float64)
	var total time.Duration
	for kind, d := range t.perKind {
		total += d
		if !knownKinds[kind] {
			out[kind] = d.Seconds()
		}
	}
	out["total"] = total.Seconds()
	return out
}

// Sink is the metric-reporting half of ReportSink.
type Sink interface {
	NewMetric(name string, values map[string]float64)
	SetTime(t time.Time)
}

// LogSink is the log-destination half of ReportSink: the transaction
// writes notable events here as it evaluates.
type LogSink interface {
	Log(level, message string)
}

// Opener and Closer are optional capabilities a ReportSink may implement
// to bracket the log destination around one evaluate pass.
type Opener interface {
	OpenLog() error
}

type Closer interface {
	CloseLog() error
}

// ReportSink is what the engine writes a transaction's results to.
type ReportSink interface {
	Sink
	LogSink
}

// LogEntry is one line recorded by Report.Log.
type LogEntry struct {
	Level   string
	Message string
}

// Report is the default, in-memory ReportSink. Callers that want
// persistence or a different wire format implement ReportSink themselves;
// serializing a report is outside this module's scope.
type Report struct {
	mu      sync.Mutex
	Metrics map[string]map[string]float64
	Time    time.Time
	Logs    []LogEntry
}

// NewReport returns an empty Report.
func NewReport() *Report {
	return &Report{Metrics: make(map[string]map[string]float64)}
}

func (r *Report) NewMetric(name string, values map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics[name] = values
}

func (r *Report) SetTime(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Time = t
}

func (r *Report) Log(level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logs = append(r.Logs, LogEntry{Level: level, Message: message})
}

func (r *Report) OpenLog() error { return nil }

func (r *Report) CloseLog() error { return nil }

var (
	_ ReportSink = (*Report)(nil)
	_ Opener     = (*Report)(nil)
	_ Closer     = (*Report)(nil)
)
