// Package retry wraps downstream calls with backoff, jitter and circuit
// breaker composition: the breaker is consulted before every attempt, so a
// circuit opening mid-sequence stops the remaining attempts immediately.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/commercekit/gateway/internal/circuitbreaker"
	"github.com/commercekit/gateway/internal/observability"
)

// Policy contains the retry parameters for one service.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay unit before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff, before jitter.
	MaxDelay time.Duration

	// Exponential selects min(MaxDelay, BaseDelay*2^(attempt-1)); when
	// false the delay grows linearly as BaseDelay*attempt.
	Exponential bool

	// JitterMax is the upper bound of the uniform random jitter added to
	// every delay. Jitter is mandatory: synchronized retry storms from
	// concurrently retrying callers are worse than the failure itself.
	JitterMax time.Duration

	// RetryableStatuses lists HTTP statuses that are worth retrying.
	RetryableStatuses []int
}

// DefaultPolicy returns a Policy with default values.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		Exponential:       true,
		JitterMax:         100 * time.Millisecond,
		RetryableStatuses: RetryableStatuses(),
	}
}

func (p *Policy) normalize() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if len(p.RetryableStatuses) == 0 {
		p.RetryableStatuses = RetryableStatuses()
	}
}

func (p *Policy) statusRetryable(status int) bool {
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Delay computes the pre-jitter delay before the given attempt (2-based:
// the first retry waits Delay(2)).
func (p *Policy) Delay(attempt int) time.Duration {
	var d time.Duration
	if p.Exponential {
		d = time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-2)))
	} else {
		d = p.BaseDelay * time.Duration(attempt-1)
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Executor runs calls under a retry policy with the breaker registry
// consulted before every attempt.
type Executor struct {
	breakers *circuitbreaker.Registry
	logger   observability.Logger
	metrics  *observability.Metrics

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ExecutorOption is a functional option for the executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger observability.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithExecutorMetrics sets the metrics sink.
func WithExecutorMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates a retry executor backed by the given breaker
// registry.
func NewExecutor(breakers *circuitbreaker.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		breakers: breakers,
		logger:   observability.NopLogger(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs fn for the named service under the policy. A CircuitOpen
// failure is always terminal: retrying into an open breaker would only
// waste attempt budget. Non-retryable failures and attempt exhaustion
// propagate the last status and error. The sleep between attempts is
// abandoned when ctx is cancelled.
func (e *Executor) Execute(
	ctx context.Context,
	serviceName string,
	policy Policy,
	fn circuitbreaker.CallFunc,
) (int, error) {
	policy.normalize()
	breaker := e.breakers.Get(serviceName)

	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastStatus, err
		}

		status, err := breaker.Call(ctx, fn)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			e.recordAttempt(serviceName, "circuit_open")
			return 0, err
		}

		if err == nil && !policy.statusRetryable(status) {
			if attempt > 1 {
				e.recordAttempt(serviceName, "recovered")
			}
			return status, nil
		}

		lastStatus = status
		lastErr = err

		retryable := policy.statusRetryable(status) || IsRetryableError(err)
		if !retryable || attempt == policy.MaxAttempts {
			e.recordAttempt(serviceName, "exhausted")
			return lastStatus, lastErr
		}

		delay := policy.Delay(attempt + 1)
		if policy.JitterMax > 0 {
			delay += time.Duration(rand.Int64N(int64(policy.JitterMax)))
		}

		e.recordAttempt(serviceName, "retried")
		e.logger.Debug("retrying downstream call",
			observability.String("service", serviceName),
			observability.Int("attempt", attempt),
			observability.Int("status", status),
			observability.Duration("delay", delay),
			observability.Error(err))

		if err := e.sleep(ctx, delay); err != nil {
			// Originating request went away; abandon remaining attempts.
			return lastStatus, err
		}
	}

	return lastStatus, lastErr
}

func (e *Executor) recordAttempt(service, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordRetry(service, outcome)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
