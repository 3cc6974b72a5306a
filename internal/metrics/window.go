package metrics

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow is a fixed-capacity ring of duration samples: the oldest
// sample is dropped first. It trades exactness for bounded memory, which
// is the only correctness requirement here.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newLatencyWindow(capacity int) *latencyWindow {
	if capacity <= 0 {
		capacity = 1000
	}
	return &latencyWindow{samples: make([]time.Duration, capacity)}
}

// add appends a sample, overwriting the oldest when full. The critical
// section is a few stores, so a single lock never blocks the request path
// meaningfully.
func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
	w.mu.Unlock()
}

// snapshot computes mean and p95 over the current samples.
func (w *latencyWindow) snapshot() LatencySummary {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	copied := make([]time.Duration, n)
	copy(copied, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}

	sort.Slice(copied, func(i, j int) bool { return copied[i] < copied[j] })

	var total time.Duration
	for _, d := range copied {
		total += d
	}

	p95Index := (n * 95) / 100
	if p95Index >= n {
		p95Index = n - 1
	}

	return LatencySummary{
		Samples: n,
		Mean:    total / time.Duration(n),
		P95:     copied[p95Index],
	}
}

// reset clears all samples.
func (w *latencyWindow) reset() {
	w.mu.Lock()
	w.next = 0
	w.filled = false
	w.mu.Unlock()
}

// LatencySummary approximates request latency over the rolling window.
type LatencySummary struct {
	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean"`
	P95     time.Duration `json:"p95"`
}
