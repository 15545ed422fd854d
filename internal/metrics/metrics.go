// Package metrics holds the Prometheus collectors of the wallet service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for boundary operations and feed ingestion.
// A nil *Metrics records nothing.
type Metrics struct {
	// Boundary operation outcomes by operation and error code ("ok" on success)
	OperationOutcome *prometheus.CounterVec

	// Boundary operation latency by operation
	OperationLatency *prometheus.HistogramVec

	// Sections allocated across all wallets
	SectionsAllocated prometheus.Counter

	// Feed records applied by kind: "registry", "certificate", "slice"
	FeedRecords *prometheus.CounterVec

	// Feed batches that failed and were left uncommitted
	FeedFailures prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certwallet_operations_total",
			Help: "Total boundary operations by operation and outcome",
		}, []string{"operation", "outcome"}),

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certwallet_operation_duration_seconds",
			Help:    "Duration of boundary operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		SectionsAllocated: f.NewCounter(prometheus.CounterOpts{
			Name: "certwallet_sections_allocated_total",
			Help: "Total wallet sections derived and stored",
		}),

		FeedRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certwallet_feed_records_total",
			Help: "Total registry feed records applied by kind",
		}, []string{"kind"}),

		FeedFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "certwallet_feed_batch_failures_total",
			Help: "Total registry feed batches that failed to apply",
		}),
	}
}

// ObserveOperation records the outcome and duration of a boundary operation.
func (m *Metrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m != nil {
		m.OperationOutcome.WithLabelValues(operation, outcome).Inc()
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementSectionsAllocated() {
	if m != nil {
		m.SectionsAllocated.Inc()
	}
}

// AddFeedRecords records n applied feed records of kind.
func (m *Metrics) AddFeedRecords(kind string, n int) {
	if m != nil && n > 0 {
		m.FeedRecords.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) IncrementFeedFailures() {
	if m != nil {
		m.FeedFailures.Inc()
	}
}
