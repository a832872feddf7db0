// Tavily MCP gateway: exposes Tavily search, extract, crawl and map as MCP
// tools over stdio or SSE, load-balanced across a pool of API keys.
//
// Configuration is read from the environment; see pkg/config for the full list.
// The essentials:
//
//	TAVILY_API_KEYS          comma-separated API keys (or TAVILY_API_KEY)
//	MCP_TRANSPORT            stdio (default) or sse
//	SUPERGATEWAY_PORT        SSE port (default 60002)
//	MAX_CONCURRENT_REQUESTS  outbound concurrency ceiling (default 5)
//	CACHE_TTL                result cache TTL (default 30s)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abdhe/tavily-mcp-gateway/pkg/cache"
	"github.com/abdhe/tavily-mcp-gateway/pkg/config"
	"github.com/abdhe/tavily-mcp-gateway/pkg/dispatch"
	"github.com/abdhe/tavily-mcp-gateway/pkg/health"
	"github.com/abdhe/tavily-mcp-gateway/pkg/logger"
	"github.com/abdhe/tavily-mcp-gateway/pkg/metrics"
	"github.com/abdhe/tavily-mcp-gateway/pkg/provider"
	"github.com/abdhe/tavily-mcp-gateway/pkg/resilience"
	"github.com/abdhe/tavily-mcp-gateway/pkg/tools"
	"github.com/abdhe/tavily-mcp-gateway/pkg/transport"
)

var version = "1.0.0"

func main() {
	if _, err := logger.New("info", "json"); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if _, err := logger.New(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped with error")
	}
	log.Info().Msg("gateway shut down")
}

func run(ctx context.Context, cfg *config.Config) error {
	// -------------------------------------------------------------------------
	// Credential pool
	// -------------------------------------------------------------------------
	keys := cfg.Keys()
	pool := resilience.NewKeyPool(keys, cfg.MaxErrors)
	metrics.RecordPool(len(keys), len(keys))
	log.Info().Int("keys", len(keys)).Int("max_errors", cfg.MaxErrors).Msg("API key pool initialized")

	// -------------------------------------------------------------------------
	// Result cache, with an optional Redis tier
	// -------------------------------------------------------------------------
	memory := cache.NewMemory(cfg.CacheTTL)
	memory.StartSweeper(ctx, cfg.CacheSweepInterval)
	defer memory.Close()

	var shared cache.Store
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisCache.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, shared cache disabled")
			_ = redisCache.Close()
		} else {
			shared = redisCache
			defer redisCache.Close()
			log.Info().Str("addr", cfg.RedisAddr).Msg("shared Redis cache enabled")
		}
		cancel()
	}

	// -------------------------------------------------------------------------
	// Executor and dispatcher
	// -------------------------------------------------------------------------
	var breaker *resilience.CircuitBreaker
	if cfg.BreakerEnabled() {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.CBFailureThreshold,
			Cooldown:         cfg.CBCooldown,
		})
	} else {
		log.Info().Msg("provider circuit breaker disabled")
	}
	executor := dispatch.NewExecutor(dispatch.ExecutorConfig{
		Pool:     pool,
		Provider: provider.NewTavily(provider.TavilyConfig{BaseURL: cfg.BaseURL, Timeout: cfg.RequestTimeout}),
		Breaker:  breaker,
		Timeout:  cfg.RequestTimeout,
	})

	var limiter *rate.Limiter
	if cfg.OutboundRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OutboundRPS), max(cfg.OutboundBurst, 1))
	}
	dispatcher := dispatch.New(executor, dispatch.Config{
		Ceiling:  cfg.MaxConcurrent,
		Cache:    cache.NewLayered(memory, shared),
		CacheTTL: cfg.CacheTTL,
		Limiter:  limiter,
	})

	// -------------------------------------------------------------------------
	// MCP server
	// -------------------------------------------------------------------------
	server := tools.NewServer(tools.NewService(dispatcher, pool, tools.Config{
		ResubmitAttempts: cfg.ResubmitAttempts,
		MaxResponseChars: cfg.MaxResponseChars,
	}), version)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.AdminGRPCPort != "" {
		hs := health.NewServer(pool, 0)
		g.Go(func() error { return hs.Serve(ctx, ":"+cfg.AdminGRPCPort) })
	}
	if cfg.MetricsPort != "" && cfg.Transport == config.TransportStdio {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsPort) })
	}

	switch cfg.Transport {
	case config.TransportSSE:
		httpServer := transport.NewHTTPServer(transport.HTTPConfig{
			Port:        cfg.Port,
			IdleTimeout: cfg.SessionIdleTimeout,
		}, server, pool)
		g.Go(func() error { return httpServer.Run(ctx) })
	default:
		g.Go(func() error {
			err := transport.RunStdio(ctx, server)
			// The client closing stdin ends the process.
			return stopped(err)
		})
	}

	g.Go(func() error {
		recordPoolMetrics(ctx, pool, 5*time.Second)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStdioClosed) {
		return err
	}
	return nil
}

var errStdioClosed = errors.New("stdio session closed")

// stopped turns a clean end of the stdio session into an error so the
// errgroup cancels the other servers.
func stopped(err error) error {
	if err != nil {
		return err
	}
	return errStdioClosed
}

func recordPoolMetrics(ctx context.Context, pool *resilience.KeyPool, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pool.Stats()
			metrics.RecordPool(st.Total, st.Active)
		}
	}
}

func serveMetrics(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", port).Msg("metrics server listening on /metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
