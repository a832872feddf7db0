package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdhe/tavily-mcp-gateway/pkg/cache"
	"github.com/abdhe/tavily-mcp-gateway/pkg/provider"
	"github.com/abdhe/tavily-mcp-gateway/pkg/resilience"
)

type callerFunc func(ctx context.Context, endpoint provider.Endpoint, params any) ([]byte, error)

func (f callerFunc) Execute(ctx context.Context, endpoint provider.Endpoint, params any) ([]byte, error) {
	return f(ctx, endpoint, params)
}

func TestSubmitRespectsCeiling(t *testing.T) {
	const ceiling, tasks = 3, 12
	d := New(nil, Config{Ceiling: ceiling})

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Submit(context.Background(), func(context.Context) ([]byte, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(ceiling))
	require.Equal(t, int32(ceiling), peak.Load())
	require.Zero(t, d.Stats().Executing)
	require.Zero(t, d.Stats().Queued)
}

func TestSubmitStartsQueuedTasksInOrder(t *testing.T) {
	d := New(nil, Config{Ceiling: 1})

	release := make(chan struct{})
	blockerDone := make(chan struct{})
	go func() {
		defer close(blockerDone)
		_, _ = d.Submit(context.Background(), func(context.Context) ([]byte, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return d.Stats().Executing == 1 }, time.Second, time.Millisecond)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = d.Submit(context.Background(), func(context.Context) ([]byte, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}(i)
		want := i + 1
		require.Eventually(t, func() bool { return d.Stats().Queued == want }, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	<-blockerDone
	wg.Wait()
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSubmitDropsCancelledWaiter(t *testing.T) {
	d := New(nil, Config{Ceiling: 1})
	release := make(chan struct{})
	go func() {
		_, _ = d.Submit(context.Background(), func(context.Context) ([]byte, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return d.Stats().Executing == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	_, err := d.Submit(ctx, func(context.Context) ([]byte, error) { ran = true; return nil, nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ran)
	require.Zero(t, d.Stats().Queued)
	close(release)
}

func TestCallServesRepeatsFromCache(t *testing.T) {
	var calls atomic.Int32
	caller := callerFunc(func(context.Context, provider.Endpoint, any) ([]byte, error) {
		calls.Add(1)
		return []byte(`{"results":[]}`), nil
	})
	d := New(caller, Config{Ceiling: 2, Cache: cache.NewLayered(cache.NewMemory(time.Minute), nil)})
	params := map[string]any{"query": "golang"}

	first, err := d.Call(context.Background(), provider.EndpointSearch, params)
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := d.Call(context.Background(), provider.EndpointSearch, params)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Payload, second.Payload)
	require.EqualValues(t, 1, calls.Load())
}

func TestCallDoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	caller := callerFunc(func(context.Context, provider.Endpoint, any) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("remote call failed")
	})
	d := New(caller, Config{Ceiling: 1, Cache: cache.NewLayered(cache.NewMemory(time.Minute), nil)})

	for i := 0; i < 2; i++ {
		_, err := d.Call(context.Background(), provider.EndpointExtract, map[string]any{"urls": []string{"https://go.dev"}})
		require.Error(t, err)
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestCallDeduplicatesConcurrentIdenticalCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	caller := callerFunc(func(context.Context, provider.Endpoint, any) ([]byte, error) {
		calls.Add(1)
		<-release
		return nil, errors.New("shared failure")
	})
	d := New(caller, Config{Ceiling: 4})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Call(context.Background(), provider.EndpointSearch, map[string]any{"query": "x"})
		}(i)
	}
	require.Eventually(t, func() bool { return d.Stats().InFlight == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	require.EqualError(t, errs[0], "shared failure")
	require.EqualError(t, errs[1], "shared failure")
}

func TestCallRejectsUnknownOperation(t *testing.T) {
	d := New(callerFunc(func(context.Context, provider.Endpoint, any) ([]byte, error) {
		t.Fatal("caller must not run")
		return nil, nil
	}), Config{Ceiling: 1})

	_, err := d.Call(context.Background(), provider.Endpoint("research"), nil)
	require.ErrorIs(t, err, ErrUnknownOperation)
}

func TestCallEndToEndThroughExecutor(t *testing.T) {
	kp := resilience.NewKeyPool([]string{"tvly-e2e-a", "tvly-e2e-b"}, 5)
	prov := &fakeProvider{}
	d := New(NewExecutor(ExecutorConfig{Pool: kp, Provider: prov}), Config{
		Ceiling: 2,
		Cache:   cache.NewLayered(cache.NewMemory(time.Minute), nil),
	})

	_, err := d.Call(context.Background(), provider.EndpointSearch, map[string]any{"query": "a"})
	require.NoError(t, err)
	_, err = d.Call(context.Background(), provider.EndpointSearch, map[string]any{"query": "b"})
	require.NoError(t, err)
	_, err = d.Call(context.Background(), provider.EndpointSearch, map[string]any{"query": "a"})
	require.NoError(t, err)

	require.Equal(t, []string{"tvly-e2e-a", "tvly-e2e-b"}, prov.keys)
}
