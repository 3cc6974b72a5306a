// Package metrics is the gateway's in-process outcome collector: cheap
// counters and a bounded rolling latency window, snapshotted to a sink on
// a fixed interval. It observes every pipeline stage and never gates a
// decision.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/commercekit/gateway/internal/observability"
)

// Snapshot is the periodic counter dump handed to the sink.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Requests  map[string]int64 `json:"requests"`
	Responses map[string]int64 `json:"responses"`
	Errors    map[string]int64 `json:"errors"`
	Latency   LatencySummary   `json:"latency"`
}

// Sink receives periodic snapshots. The default sink logs them.
type Sink func(Snapshot)

// Collector aggregates request outcomes. Updates take a short mutex over
// map increments and a ring-buffer store; nothing on the request path ever
// waits on I/O here.
type Collector struct {
	window        *latencyWindow
	resetInterval time.Duration
	sink          Sink
	logger        observability.Logger

	mu        sync.Mutex
	requests  map[string]int64
	responses map[string]int64
	errors    map[string]int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// CollectorOption is a functional option for the collector.
type CollectorOption func(*Collector)

// WithCollectorLogger sets the logger.
func WithCollectorLogger(logger observability.Logger) CollectorOption {
	return func(c *Collector) { c.logger = logger }
}

// WithSink sets the snapshot sink.
func WithSink(sink Sink) CollectorOption {
	return func(c *Collector) { c.sink = sink }
}

// NewCollector creates a collector and starts its periodic reset loop.
func NewCollector(windowSize int, resetInterval time.Duration, opts ...CollectorOption) *Collector {
	if resetInterval <= 0 {
		resetInterval = 5 * time.Minute
	}

	c := &Collector{
		window:        newLatencyWindow(windowSize),
		resetInterval: resetInterval,
		logger:        observability.NopLogger(),
		requests:      make(map[string]int64),
		responses:     make(map[string]int64),
		errors:        make(map[string]int64),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = c.logSink
	}

	go c.resetLoop()
	return c
}

// RecordRequest counts an inbound request under a key such as
// "GET /products" or the downstream service name.
func (c *Collector) RecordRequest(key string) {
	c.mu.Lock()
	c.requests[key]++
	c.mu.Unlock()
}

// RecordResponse counts a response by status group ("2xx", "5xx", ...) and
// feeds the latency window.
func (c *Collector) RecordResponse(statusGroup string, duration time.Duration) {
	c.mu.Lock()
	c.responses[statusGroup]++
	c.mu.Unlock()
	c.window.add(duration)
}

// RecordError counts a machine-readable error code.
func (c *Collector) RecordError(code string) {
	c.mu.Lock()
	c.errors[code]++
	c.mu.Unlock()
}

// StatusGroup buckets a status code into "2xx".."5xx".
func StatusGroup(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// Snapshot returns the current counters and latency summary without
// resetting them, for the operational endpoints.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Timestamp: time.Now(),
		Requests:  copyCounts(c.requests),
		Responses: copyCounts(c.responses),
		Errors:    copyCounts(c.errors),
	}
	c.mu.Unlock()
	snap.Latency = c.window.snapshot()
	return snap
}

// Close stops the reset loop, flushing one final snapshot.
func (c *Collector) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Collector) resetLoop() {
	ticker := time.NewTicker(c.resetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

// flush snapshots the counters to the sink and clears in-memory state.
func (c *Collector) flush() {
	c.mu.Lock()
	snap := Snapshot{
		Timestamp: time.Now(),
		Requests:  c.requests,
		Responses: c.responses,
		Errors:    c.errors,
	}
	c.requests = make(map[string]int64)
	c.responses = make(map[string]int64)
	c.errors = make(map[string]int64)
	c.mu.Unlock()

	snap.Latency = c.window.snapshot()
	c.window.reset()

	c.sink(snap)
}

func (c *Collector) logSink(snap Snapshot) {
	c.logger.Info("metrics snapshot",
		observability.Int("requestKeys", len(snap.Requests)),
		observability.Any("responses", snap.Responses),
		observability.Any("errors", snap.Errors),
		observability.Int("latencySamples", snap.Latency.Samples),
		observability.Duration("latencyMean", snap.Latency.Mean),
		observability.Duration("latencyP95", snap.Latency.P95))
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Run blocks until ctx is cancelled, then closes the collector. Provided
// for callers that manage the collector with an errgroup-style lifecycle.
func (c *Collector) Run(ctx context.Context) {
	<-ctx.Done()
	c.Close()
}
