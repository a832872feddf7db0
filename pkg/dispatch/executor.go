package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/abdhe/tavily-mcp-gateway/pkg/metrics"
	"github.com/abdhe/tavily-mcp-gateway/pkg/provider"
	"github.com/abdhe/tavily-mcp-gateway/pkg/resilience"
)

// KeyPool is the part of the credential pool the executor needs.
type KeyPool interface {
	Next() (string, error)
	ReportSuccess(key string)
	ReportFailure(key string) bool
}

// CallError is a failed outbound call, annotated with the redacted key that
// was charged for it.
type CallError struct {
	Endpoint provider.Endpoint
	Key      string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call using key %s failed: %v", e.Endpoint, e.Key, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsCharged reports whether err was counted against a credential, which is
// also the condition under which resubmitting may draw a healthier one.
func IsCharged(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// ExecutorConfig holds the executor's collaborators.
type ExecutorConfig struct {
	Pool     KeyPool
	Provider provider.Provider
	Breaker  *resilience.CircuitBreaker // optional
	Timeout  time.Duration
}

// Executor performs one outbound call with one credential and reports the
// outcome back to the pool. It never retries.
type Executor struct {
	pool     KeyPool
	provider provider.Provider
	breaker  *resilience.CircuitBreaker
	timeout  time.Duration
}

// NewExecutor creates an executor; the timeout defaults to 30s.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Executor{
		pool:     cfg.Pool,
		provider: cfg.Provider,
		breaker:  cfg.Breaker,
		timeout:  cfg.Timeout,
	}
}

// Execute draws a key, calls the provider and settles the key's health.
// Pool exhaustion and an open circuit fail fast without charging any key.
func (e *Executor) Execute(ctx context.Context, endpoint provider.Endpoint, params any) ([]byte, error) {
	var payload []byte
	run := func() error {
		key, err := e.pool.Next()
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		start := time.Now()
		payload, err = e.provider.Call(callCtx, endpoint, key, params)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ProviderLatency.WithLabelValues(string(endpoint), status).Observe(time.Since(start).Seconds())

		if err != nil {
			redacted := resilience.Redact(key)
			metrics.KeyFailuresTotal.WithLabelValues(string(endpoint)).Inc()
			if e.pool.ReportFailure(key) {
				metrics.KeyDeactivationsTotal.Inc()
				log.Warn().Str("key", redacted).Msg("API key deactivated after reaching its error threshold")
			}
			log.Error().Err(err).Str("endpoint", string(endpoint)).Str("key", redacted).Msg("provider call failed")
			return &CallError{Endpoint: endpoint, Key: redacted, Err: err}
		}
		e.pool.ReportSuccess(key)
		return nil
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(run)
		metrics.CircuitBreakerState.WithLabelValues(e.provider.Name()).Set(float64(e.breaker.State()))
	} else {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}
