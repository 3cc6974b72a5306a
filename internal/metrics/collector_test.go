package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T, opts ...CollectorOption) *Collector {
	t.Helper()
	c := NewCollector(100, time.Hour, opts...)
	t.Cleanup(c.Close)
	return c
}

func TestCollector_CountsByKey(t *testing.T) {
	c := newTestCollector(t)

	c.RecordRequest("GET /products")
	c.RecordRequest("GET /products")
	c.RecordRequest("POST /orders")
	c.RecordResponse("2xx", 10*time.Millisecond)
	c.RecordResponse("5xx", 20*time.Millisecond)
	c.RecordError("CIRCUIT_BREAKER_OPEN")

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Requests["GET /products"])
	assert.Equal(t, int64(1), snap.Requests["POST /orders"])
	assert.Equal(t, int64(1), snap.Responses["2xx"])
	assert.Equal(t, int64(1), snap.Responses["5xx"])
	assert.Equal(t, int64(1), snap.Errors["CIRCUIT_BREAKER_OPEN"])
	assert.Equal(t, 2, snap.Latency.Samples)
}

func TestCollector_SnapshotDoesNotReset(t *testing.T) {
	c := newTestCollector(t)
	c.RecordRequest("GET /products")

	_ = c.Snapshot()
	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.Requests["GET /products"])
}

func TestCollector_FlushResetsAndFeedsSink(t *testing.T) {
	sunk := make(chan Snapshot, 1)
	c := newTestCollector(t, WithSink(func(s Snapshot) { sunk <- s }))

	c.RecordRequest("GET /products")
	c.RecordResponse("2xx", 5*time.Millisecond)
	c.flush()

	snap := <-sunk
	assert.Equal(t, int64(1), snap.Requests["GET /products"])
	assert.Equal(t, 1, snap.Latency.Samples)

	after := c.Snapshot()
	assert.Empty(t, after.Requests)
	assert.Equal(t, 0, after.Latency.Samples)
}

func TestStatusGroup(t *testing.T) {
	assert.Equal(t, "2xx", StatusGroup(200))
	assert.Equal(t, "2xx", StatusGroup(204))
	assert.Equal(t, "3xx", StatusGroup(301))
	assert.Equal(t, "4xx", StatusGroup(429))
	assert.Equal(t, "5xx", StatusGroup(503))
	assert.Equal(t, "1xx", StatusGroup(100))
}

func TestLatencyWindow_MeanAndP95(t *testing.T) {
	w := newLatencyWindow(100)
	for i := 1; i <= 100; i++ {
		w.add(time.Duration(i) * time.Millisecond)
	}

	snap := w.snapshot()
	require.Equal(t, 100, snap.Samples)
	assert.Equal(t, 50500*time.Microsecond, snap.Mean)
	assert.Equal(t, 96*time.Millisecond, snap.P95)
}

func TestLatencyWindow_OldestSampleDroppedWhenFull(t *testing.T) {
	w := newLatencyWindow(3)
	w.add(1 * time.Millisecond)
	w.add(2 * time.Millisecond)
	w.add(3 * time.Millisecond)
	w.add(100 * time.Millisecond)

	snap := w.snapshot()
	require.Equal(t, 3, snap.Samples)
	// The 1ms sample was overwritten.
	assert.Equal(t, (2+3+100)*time.Millisecond/3, snap.Mean)
}

func TestLatencyWindow_Empty(t *testing.T) {
	w := newLatencyWindow(10)
	snap := w.snapshot()
	assert.Equal(t, 0, snap.Samples)
	assert.Equal(t, time.Duration(0), snap.Mean)
}
