package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastRetry(max int) RetryConfig {
	return RetryConfig{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterServerError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		if calls < 2 {
			return statusErr(503)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return statusErr(400)
	})
	var sc StatusCoder
	require.True(t, errors.As(err, &sc))
	require.Equal(t, 1, calls)
}

func TestRetryCustomPredicate(t *testing.T) {
	sentinel := errors.New("charged")
	cfg := fastRetry(2)
	cfg.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	err := Retry(context.Background(), cfg, func(context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetry(3), func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := calculateDelay(attempt, 10*time.Millisecond, 50*time.Millisecond)
		require.GreaterOrEqual(t, d, time.Millisecond)
		require.LessOrEqual(t, d, 50*time.Millisecond)
	}
}
