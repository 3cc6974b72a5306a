// Package circuitbreaker tracks per-downstream-service failures and stops
// dispatching to services that are known broken, preventing request
// pile-up against a dead dependency.
package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/commercekit/gateway/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls pass through.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls fail immediately.
	StateOpen

	// StateHalfOpen indicates the circuit is probing whether the service
	// has recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit
// is open. The wrapped function is never invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds configuration for a circuit breaker.
type Config struct {
	// Threshold is the number of consecutive failures that opens the
	// circuit.
	Threshold int

	// ResetTimeout is how long the circuit stays open before the next
	// call is allowed through as a half-open probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		ResetTimeout: 30 * time.Second,
	}
}

func (c *Config) normalize() {
	if c.Threshold < 1 {
		c.Threshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
}

// CallFunc is the guarded operation. The returned status is classified
// alongside the error: any error or a status >= 500 counts as a failure.
type CallFunc func(ctx context.Context) (int, error)

// Breaker is the failure-tracking state machine for one downstream
// service. All transitions are serialized by the breaker's mutex so
// concurrent failure increments are never lost.
type Breaker struct {
	name    string
	config  Config
	logger  observability.Logger
	metrics *observability.Metrics

	// nowFunc is overridable in tests.
	nowFunc func() time.Time

	mu            sync.Mutex
	state         State
	failureCount  int
	lastFailureAt time.Time
	nextAttemptAt time.Time
}

// BreakerOption is a functional option for a breaker.
type BreakerOption func(*Breaker)

// WithBreakerLogger sets the logger.
func WithBreakerLogger(logger observability.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

// WithBreakerMetrics sets the metrics sink.
func WithBreakerMetrics(m *observability.Metrics) BreakerOption {
	return func(b *Breaker) { b.metrics = m }
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(name string, config Config, opts ...BreakerOption) *Breaker {
	config.normalize()
	b := &Breaker{
		name:    name,
		config:  config,
		logger:  observability.NopLogger(),
		nowFunc: time.Now,
		state:   StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Call invokes fn guarded by the breaker. When the circuit is open and the
// reset timeout has not elapsed, it fails immediately with ErrCircuitOpen
// without invoking fn. Otherwise the call's outcome drives the state
// machine: an error or a status >= 500 is a failure, everything else a
// success.
func (b *Breaker) Call(ctx context.Context, fn CallFunc) (int, error) {
	if err := b.allow(); err != nil {
		return 0, err
	}

	status, err := fn(ctx)
	if err != nil || status >= http.StatusInternalServerError {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
	return status, err
}

// allow checks admission and performs the lazy OPEN → HALF_OPEN transition.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.nowFunc().Before(b.nextAttemptAt) {
			return ErrCircuitOpen
		}
		b.transitionTo(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	b.failureCount++
	b.lastFailureAt = now

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.nextAttemptAt = now.Add(b.config.ResetTimeout)
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.nextAttemptAt = now.Add(b.config.ResetTimeout)
		b.transitionTo(StateOpen)
	}
}

// transitionTo must be called with the mutex held.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	b.state = newState

	if newState == StateClosed {
		b.failureCount = 0
	}

	b.logger.Info("circuit breaker state changed",
		observability.String("service", b.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()))

	if b.metrics != nil {
		b.metrics.SetCircuitState(b.name, int(newState))
	}
}

// State returns the current state without advancing the state machine.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns how long until the next admission attempt, for the
// Retry-After hint on 503 responses. Zero when the circuit is not open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.nextAttemptAt.Sub(b.nowFunc())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Stats is a point-in-time snapshot for the operational endpoints.
type Stats struct {
	Service       string    `json:"service"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failureCount"`
	LastFailureAt time.Time `json:"lastFailureAt,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
}

// Stats returns the breaker's current statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Service:       b.name,
		State:         b.state.String(),
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
		NextAttemptAt: b.nextAttemptAt,
	}
}
