// Package dispatch admits provider calls under a concurrency ceiling and
// executes them against the credential pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/abdhe/tavily-mcp-gateway/pkg/cache"
	"github.com/abdhe/tavily-mcp-gateway/pkg/dedup"
	"github.com/abdhe/tavily-mcp-gateway/pkg/metrics"
	"github.com/abdhe/tavily-mcp-gateway/pkg/provider"
)

// ErrUnknownOperation is returned for endpoints the provider does not serve.
var ErrUnknownOperation = errors.New("unknown operation requested")

var knownEndpoints = map[provider.Endpoint]bool{
	provider.EndpointSearch:  true,
	provider.EndpointExtract: true,
	provider.EndpointCrawl:   true,
	provider.EndpointMap:     true,
}

// Task is one unit of admitted work.
type Task func(ctx context.Context) ([]byte, error)

// Caller executes one provider call.
type Caller interface {
	Execute(ctx context.Context, endpoint provider.Endpoint, params any) ([]byte, error)
}

// Config holds dispatcher settings.
type Config struct {
	Ceiling  int           // Maximum concurrently executing calls
	Cache    cache.Store   // optional
	CacheTTL time.Duration // 0 uses the store's default
	Limiter  *rate.Limiter // optional outbound pacing
}

// Result is the outcome of Call.
type Result struct {
	Payload []byte
	Cached  bool // served from the result cache
	Shared  bool // delivered by an identical in-flight call
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Ceiling   int `json:"ceiling"`
	Executing int `json:"executing"`
	Queued    int `json:"queued"`
	InFlight  int `json:"inFlight"`
}

// Dispatcher runs at most Ceiling tasks at once and starts queued tasks in
// submission order as slots free up.
type Dispatcher struct {
	caller  Caller
	ceiling int
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	cache   cache.Store
	ttl     time.Duration
	group   dedup.Group

	executing atomic.Int64
	queued    atomic.Int64
}

// New creates a dispatcher in front of caller.
func New(caller Caller, cfg Config) *Dispatcher {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 1
	}
	return &Dispatcher{
		caller:  caller,
		ceiling: cfg.Ceiling,
		sem:     semaphore.NewWeighted(int64(cfg.Ceiling)),
		limiter: cfg.Limiter,
		cache:   cfg.Cache,
		ttl:     cfg.CacheTTL,
	}
}

// Submit queues task and runs it once a slot is free. Waiters are admitted in
// FIFO order. If ctx ends while the task is still queued it is dropped.
func (d *Dispatcher) Submit(ctx context.Context, task Task) ([]byte, error) {
	d.queued.Add(1)
	metrics.QueuedRequests.Inc()
	err := d.sem.Acquire(ctx, 1)
	d.queued.Add(-1)
	metrics.QueuedRequests.Dec()
	if err != nil {
		return nil, err
	}

	d.executing.Add(1)
	metrics.ExecutingRequests.Inc()
	defer func() {
		d.executing.Add(-1)
		metrics.ExecutingRequests.Dec()
		d.sem.Release(1)
	}()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dispatch: rate limiter: %w", err)
		}
	}
	return task(ctx)
}

// Call serves endpoint(params) from the cache when possible, otherwise joins
// an identical in-flight call or starts a new one through Submit. Successful
// payloads are cached before the in-flight registration is released.
func (d *Dispatcher) Call(ctx context.Context, endpoint provider.Endpoint, params any) (Result, error) {
	if !knownEndpoints[endpoint] {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOperation, endpoint)
	}
	key, err := cache.Key(string(endpoint), params)
	if err != nil {
		return Result{}, err
	}

	if d.cache != nil {
		payload, ok, err := d.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("cache lookup failed")
		}
		metrics.RecordCacheLookup(ok)
		if ok {
			return Result{Payload: payload, Cached: true}, nil
		}
	}

	payload, shared, err := d.group.Join(ctx, key, func(ctx context.Context) ([]byte, error) {
		payload, err := d.Submit(ctx, func(ctx context.Context) ([]byte, error) {
			return d.caller.Execute(ctx, endpoint, params)
		})
		if err == nil && d.cache != nil {
			if cerr := d.cache.Set(ctx, key, payload, d.ttl); cerr != nil {
				log.Warn().Err(cerr).Msg("cache store failed")
			}
		}
		return payload, err
	})
	if shared {
		metrics.DedupSharedTotal.Inc()
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: payload, Shared: shared}, nil
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Ceiling:   d.ceiling,
		Executing: int(d.executing.Load()),
		Queued:    int(d.queued.Load()),
		InFlight:  d.group.Pending(),
	}
}
