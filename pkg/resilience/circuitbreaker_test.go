package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return "status error" }
func (e statusErr) StatusCode() int { return int(e) }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: threshold, Cooldown: cooldown})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreakerTripsOnServerErrors(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	require.Error(t, cb.Execute(func() error { return statusErr(502) }))
	require.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Execute(func() error { return statusErr(503) }))
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)
	require.EqualValues(t, 1, cb.Counts().Rejected)
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)

	require.Error(t, cb.Execute(func() error { return statusErr(401) }))
	require.Error(t, cb.Execute(func() error { return errors.New("no keys") }))
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, time.Second)

	require.Error(t, cb.Execute(func() error { return statusErr(500) }))
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(3, time.Second)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return statusErr(500) })
	}
	*now = now.Add(2 * time.Second)
	require.Error(t, cb.Execute(func() error { return context.DeadlineExceeded }))
	require.Equal(t, StateOpen, cb.State())
}

func TestIsServerError(t *testing.T) {
	require.False(t, IsServerError(nil))
	require.True(t, IsServerError(statusErr(429)))
	require.True(t, IsServerError(statusErr(500)))
	require.False(t, IsServerError(statusErr(403)))
	require.True(t, IsServerError(context.DeadlineExceeded))
	require.False(t, IsServerError(errors.New("plain")))
}
