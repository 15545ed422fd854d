package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("create_deposit_endpoint", "ok", 10*time.Millisecond)
	m.ObserveOperation("create_deposit_endpoint", "ok", 20*time.Millisecond)
	m.ObserveOperation("create_deposit_endpoint", "conflict", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationOutcome.WithLabelValues("create_deposit_endpoint", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationOutcome.WithLabelValues("create_deposit_endpoint", "conflict")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationLatency))
}

func TestFeedCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.AddFeedRecords("slice", 3)
	m.AddFeedRecords("slice", 0)
	m.IncrementFeedFailures()
	m.IncrementSectionsAllocated()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.FeedRecords.WithLabelValues("slice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SectionsAllocated))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("op", "ok", time.Second)
		m.IncrementSectionsAllocated()
		m.AddFeedRecords("slice", 1)
		m.IncrementFeedFailures()
	})
}
