package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abdhe/tavily-mcp-gateway/pkg/provider"
	"github.com/abdhe/tavily-mcp-gateway/pkg/resilience"
)

type fakeProvider struct {
	mu    sync.Mutex
	keys  []string
	calls int
	fn    func(key string) ([]byte, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Call(_ context.Context, _ provider.Endpoint, key string, _ any) ([]byte, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return []byte(`{"ok":true}`), nil
	}
	return fn(key)
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func errorCount(kp *resilience.KeyPool, i int) int {
	return kp.Stats().Keys[i].ErrorCount
}

func TestExecutorSuccessResetsErrors(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-success-key"}, 5)
	kp.ReportFailure("tvly-success-key")
	prov := &fakeProvider{}
	ex := NewExecutor(ExecutorConfig{Pool: kp, Provider: prov})

	out, err := ex.Execute(context.Background(), provider.EndpointSearch, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(out))
	require.Zero(t, errorCount(kp, 0))
}

func TestExecutorChargesFailureOnce(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-unauthorized"}, 5)
	prov := &fakeProvider{fn: func(string) ([]byte, error) {
		return nil, &provider.RemoteError{Endpoint: provider.EndpointSearch, Status: 401, Message: "Unauthorized"}
	}}
	ex := NewExecutor(ExecutorConfig{Pool: kp, Provider: prov})

	_, err := ex.Execute(context.Background(), provider.EndpointSearch, nil)
	require.Error(t, err)
	require.True(t, IsCharged(err))
	require.Equal(t, 1, errorCount(kp, 0))

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "tvly-unaut...", ce.Key)
	require.NotContains(t, err.Error(), "tvly-unauthorized")

	var remote *provider.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, 401, remote.StatusCode())
}

func TestExecutorDeactivatesAndExhausts(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-one-shot"}, 1)
	prov := &fakeProvider{fn: func(string) ([]byte, error) { return nil, provider.ErrTimeout }}
	ex := NewExecutor(ExecutorConfig{Pool: kp, Provider: prov})

	_, err := ex.Execute(context.Background(), provider.EndpointCrawl, nil)
	require.ErrorIs(t, err, provider.ErrTimeout)
	require.Zero(t, kp.ActiveCount())

	_, err = ex.Execute(context.Background(), provider.EndpointCrawl, nil)
	require.ErrorIs(t, err, resilience.ErrNoCredentials)
	require.False(t, IsCharged(err))
	require.Equal(t, 1, prov.Calls(), "exhaustion never reaches the provider")
}

func TestExecutorRotatesKeys(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-a", "tvly-b"}, 5)
	prov := &fakeProvider{}
	ex := NewExecutor(ExecutorConfig{Pool: kp, Provider: prov})

	for i := 0; i < 4; i++ {
		_, err := ex.Execute(context.Background(), provider.EndpointMap, nil)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"tvly-a", "tvly-b", "tvly-a", "tvly-b"}, prov.keys)
}

func TestExecutorOpenCircuitChargesNoKey(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-a"}, 10)
	prov := &fakeProvider{fn: func(string) ([]byte, error) {
		return nil, &provider.RemoteError{Endpoint: provider.EndpointSearch, Status: 503, Message: "unavailable"}
	}}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	ex := NewExecutor(ExecutorConfig{Pool: kp, Provider: prov, Breaker: cb})

	for i := 0; i < 2; i++ {
		_, err := ex.Execute(context.Background(), provider.EndpointSearch, nil)
		require.Error(t, err)
	}
	require.Equal(t, resilience.StateOpen, cb.State())

	_, err := ex.Execute(context.Background(), provider.EndpointSearch, nil)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	require.Equal(t, 2, prov.Calls())
	require.Equal(t, 2, errorCount(kp, 0))
}

func TestExecutorWithoutBreakerAlwaysDrawsKey(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-a", "tvly-b"}, 100)
	prov := &fakeProvider{fn: func(string) ([]byte, error) {
		return nil, &provider.RemoteError{Endpoint: provider.EndpointSearch, Status: 503, Message: "unavailable"}
	}}
	ex := NewExecutor(ExecutorConfig{Pool: kp, Provider: prov})

	for i := 0; i < 12; i++ {
		_, err := ex.Execute(context.Background(), provider.EndpointSearch, nil)
		require.True(t, IsCharged(err))
		require.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}
	require.Equal(t, 12, prov.Calls())
	require.Equal(t, 6, errorCount(kp, 0))
	require.Equal(t, 6, errorCount(kp, 1))
}

func TestExecutorAppliesTimeout(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-slow"}, 5)
	var deadline time.Time
	prov := &fakeProvider{}
	ex := NewExecutor(ExecutorConfig{Pool: kp, Provider: providerFunc(func(ctx context.Context) ([]byte, error) {
		deadline, _ = ctx.Deadline()
		return prov.Call(ctx, provider.EndpointSearch, "tvly-slow", nil)
	}), Timeout: time.Second})

	_, err := ex.Execute(context.Background(), provider.EndpointSearch, nil)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

type providerFunc func(ctx context.Context) ([]byte, error)

func (f providerFunc) Name() string { return "func" }

func (f providerFunc) Call(ctx context.Context, _ provider.Endpoint, _ string, _ any) ([]byte, error) {
	return f(ctx)
}
