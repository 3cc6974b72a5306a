// Package ratelimit provides a per-client token bucket limiter with
// role-tier rate assignment.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/commercekit/gateway/internal/authz"
	"github.com/commercekit/gateway/internal/observability"
)

const (
	// clientTTL is how long an idle client entry is retained.
	clientTTL = 10 * time.Minute

	// cleanupInterval is how often idle entries are swept.
	cleanupInterval = time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces per-client request rates derived from role tiers.
// Clients are keyed by the authenticated subject, or by source IP for
// anonymous traffic.
type Limiter struct {
	tiers  *authz.TierTable
	logger observability.Logger

	mu      sync.Mutex
	clients map[string]*client

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for the limiter.
type Option func(*Limiter)

// WithLimiterLogger sets the logger.
func WithLimiterLogger(logger observability.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a limiter backed by the given tier table.
func New(tiers *authz.TierTable, opts ...Option) *Limiter {
	l := &Limiter{
		tiers:   tiers,
		logger:  observability.NopLogger(),
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether the keyed client may proceed under the rate for
// its role tier. The first call for a key fixes the tier; role changes
// take effect after the idle entry expires.
func (l *Limiter) Allow(key, role string) bool {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		tier := l.tiers.For(role)
		c = &client{
			limiter: rate.NewLimiter(tierRate(tier), tier.MaxRequests),
		}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.limiter.Allow()
}

// Size returns the number of tracked clients.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	cutoff := time.Now().Add(-clientTTL)
	l.mu.Lock()
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
	l.mu.Unlock()
}

// tierRate converts a tier quota into a steady refill rate. The bucket
// burst equals the tier's full quota.
func tierRate(t authz.Tier) rate.Limit {
	if t.Window <= 0 || t.MaxRequests <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(t.MaxRequests) / t.Window.Seconds())
}
