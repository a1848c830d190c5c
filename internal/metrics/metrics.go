// Package metrics provides the Prometheus instrumentation shared by the
// concurrency gate, the document processor, and the batch executor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's Prometheus collectors. Components accept a
// possibly-nil *Metrics and skip instrumentation when unset, so tests and
// library callers pay nothing for observability they did not ask for.
type Metrics struct {
	// InFlightTasks tracks documents currently admitted past the gate.
	InFlightTasks prometheus.Gauge

	// DocumentsProcessed counts settled attempts by outcome
	// (success, failure, cancelled).
	DocumentsProcessed *prometheus.CounterVec

	// DocumentDuration observes per-attempt pipeline call durations.
	DocumentDuration prometheus.Histogram

	// GateThrottle counts soft-backpressure events by reason
	// (memory, cpu, goroutines).
	GateThrottle *prometheus.CounterVec

	// CheckpointsWritten counts successfully persisted checkpoints.
	CheckpointsWritten prometheus.Counter

	// RetriesScheduled counts per-document retry attempts.
	RetriesScheduled prometheus.Counter
}

// New creates and registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InFlightTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crossval_inflight_tasks",
			Help: "Document tasks currently admitted past the concurrency gate.",
		}),
		DocumentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossval_documents_processed_total",
			Help: "Settled document attempts by outcome.",
		}, []string{"outcome"}),
		DocumentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crossval_document_duration_seconds",
			Help:    "Wall-clock duration of individual pipeline calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		GateThrottle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossval_gate_throttle_total",
			Help: "Soft backpressure delays inserted by the gate, by reason.",
		}, []string{"reason"}),
		CheckpointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossval_checkpoints_written_total",
			Help: "Checkpoints persisted after batch completion.",
		}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossval_retries_scheduled_total",
			Help: "Per-document retry attempts scheduled within batches.",
		}),
	}

	reg.MustRegister(
		m.InFlightTasks,
		m.DocumentsProcessed,
		m.DocumentDuration,
		m.GateThrottle,
		m.CheckpointsWritten,
		m.RetriesScheduled,
	)
	return m
}
