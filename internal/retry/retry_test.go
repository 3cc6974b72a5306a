package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commercekit/gateway/internal/circuitbreaker"
)

func newTestExecutor(t *testing.T) (*Executor, *[]time.Duration) {
	t.Helper()
	var delays []time.Duration
	e := NewExecutor(circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()))
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return e, &delays
}

func TestPolicy_ExponentialDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Exponential: true}
	p.normalize()

	assert.Equal(t, 1*time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 4*time.Second, p.Delay(4))
	assert.Equal(t, 8*time.Second, p.Delay(5))
}

func TestPolicy_ExponentialDelayCapped(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 10 * time.Second, MaxDelay: 15 * time.Second, Exponential: true}
	p.normalize()

	assert.Equal(t, 10*time.Second, p.Delay(2))
	assert.Equal(t, 15*time.Second, p.Delay(3))
	assert.Equal(t, 15*time.Second, p.Delay(4))
}

func TestPolicy_LinearDelay(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
	p.normalize()

	assert.Equal(t, 500*time.Millisecond, p.Delay(2))
	assert.Equal(t, 1000*time.Millisecond, p.Delay(3))
	assert.Equal(t, 1500*time.Millisecond, p.Delay(4))
}

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	e, delays := newTestExecutor(t)

	calls := 0
	status, err := e.Execute(context.Background(), "orders", DefaultPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return http.StatusOK, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestExecute_RetriesTransientFailureThenRecovers(t *testing.T) {
	e, delays := newTestExecutor(t)
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Exponential: true}

	calls := 0
	status, err := e.Execute(context.Background(), "orders", policy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return http.StatusServiceUnavailable, nil
		}
		return http.StatusOK, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, calls)

	// Exponential backoff with jitter: first delay >= 1s, second >= 2s.
	require.Len(t, *delays, 2)
	assert.GreaterOrEqual(t, (*delays)[0], 1*time.Second)
	assert.GreaterOrEqual(t, (*delays)[1], 2*time.Second)
}

func TestExecute_ExhaustsAttemptBudget(t *testing.T) {
	e, _ := newTestExecutor(t)
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}

	calls := 0
	status, err := e.Execute(context.Background(), "orders", policy, func(ctx context.Context) (int, error) {
		calls++
		return http.StatusBadGateway, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, 3, calls)
}

func TestExecute_NonRetryableStatusReturnsImmediately(t *testing.T) {
	e, delays := newTestExecutor(t)

	calls := 0
	status, err := e.Execute(context.Background(), "orders", DefaultPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return http.StatusBadRequest, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestExecute_CircuitOpenIsTerminal(t *testing.T) {
	registry := circuitbreaker.NewRegistry(circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Minute})
	e := NewExecutor(registry)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	// Trip the breaker.
	_, _ = registry.Get("orders").Call(context.Background(), func(ctx context.Context) (int, error) {
		return 0, errors.New("down")
	})
	require.Equal(t, circuitbreaker.StateOpen, registry.Get("orders").State())

	calls := 0
	_, err := e.Execute(context.Background(), "orders", DefaultPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return http.StatusOK, nil
	})

	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}

func TestExecute_BreakerTripsMidRetryLoop(t *testing.T) {
	registry := circuitbreaker.NewRegistry(circuitbreaker.Config{Threshold: 2, ResetTimeout: time.Minute})
	e := NewExecutor(registry)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second}

	calls := 0
	_, err := e.Execute(context.Background(), "orders", policy, func(ctx context.Context) (int, error) {
		calls++
		return http.StatusServiceUnavailable, nil
	})

	// Two failures trip the breaker; the third attempt is rejected before
	// the function runs.
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	e := NewExecutor(circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()))
	policy := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 30 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := e.Execute(ctx, "orders", policy, func(ctx context.Context) (int, error) {
		calls++
		return http.StatusServiceUnavailable, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("validation failed")))
	assert.True(t, IsRetryableError(&timeoutError{}))
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }
