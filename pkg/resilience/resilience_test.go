package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Playlist-Recommender/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(5), func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", fastRetry(3), func() error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := fastRetry(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, apperrors.ErrMalformedTable) }
	calls := 0
	err := Retry(context.Background(), "load", cfg, func() error {
		calls++
		return apperrors.Malformed("x.prt", errBoom)
	})
	assert.ErrorIs(t, err, apperrors.ErrMalformedTable)
	assert.Equal(t, 1, calls)
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}, func() error { return errBoom })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerTransitions(t *testing.T) {
	var seen []State
	cb := NewCircuitBreaker("redis", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, to State) { seen = append(seen, to) },
	})
	assert.Equal(t, "redis", cb.Name())

	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, cb.State())
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, seen)
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, apperrors.ErrTimeout)

	err = WithTimeout(context.Background(), time.Second, "fast", func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	clock := time.Unix(0, 0)
	cb := NewCircuitBreaker("redis", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return clock }

	_ = cb.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, cb.State())

	clock = clock.Add(time.Minute)
	err := cb.Execute(func() error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// the cool-down restarts from the failed probe
	clock = clock.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Second, "cancelled", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrTimeout)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}.withDefaults()
	for n := 1; n <= 10; n++ {
		d := cfg.delay(n)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.Equal(t, time.Second, cfg.delay(10))
}
