// Package config loads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrNoCredentials is returned when neither TAVILY_API_KEYS nor TAVILY_API_KEY is set.
var ErrNoCredentials = errors.New("config: no Tavily API keys configured (set TAVILY_API_KEYS or TAVILY_API_KEY)")

const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Config holds all configuration for the gateway.
type Config struct {
	// Credentials
	APIKeys        []string      `env:"TAVILY_API_KEYS" envSeparator:","`
	APIKey         string        `env:"TAVILY_API_KEY"`
	BaseURL        string        `env:"TAVILY_BASE_URL" envDefault:"https://api.tavily.com"`
	MaxErrors      int           `env:"TAVILY_MAX_ERRORS" envDefault:"5"`
	RequestTimeout time.Duration `env:"TAVILY_REQUEST_TIMEOUT" envDefault:"30s"`

	// Transport
	Transport          string        `env:"MCP_TRANSPORT" envDefault:"stdio"` // stdio or sse
	Port               int           `env:"SUPERGATEWAY_PORT" envDefault:"60002"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"5m"`
	MaxResponseChars   int           `env:"MAX_RESPONSE_CHARS" envDefault:"100000"`

	// Dispatch
	MaxConcurrent      int           `env:"MAX_CONCURRENT_REQUESTS" envDefault:"5"`
	CacheTTL           time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"60s"`
	OutboundRPS        float64       `env:"OUTBOUND_RPS" envDefault:"0"`
	OutboundBurst      int           `env:"OUTBOUND_BURST" envDefault:"1"`
	ResubmitAttempts   int           `env:"TOOL_RESUBMIT_ATTEMPTS" envDefault:"1"`

	// Circuit breaker, disabled when the threshold is 0
	CBFailureThreshold int           `env:"CB_FAILURE_THRESHOLD" envDefault:"10"`
	CBCooldown         time.Duration `env:"CB_COOLDOWN" envDefault:"30s"`

	// Shared cache tier, disabled when RedisAddr is empty
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Admin surfaces, disabled when empty
	AdminGRPCPort string `env:"ADMIN_GRPC_PORT"`
	MetricsPort   string `env:"METRICS_PORT"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // json or console
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Keys returns the configured credentials, trimmed and with blanks dropped.
// TAVILY_API_KEYS wins over TAVILY_API_KEY.
func (c *Config) Keys() []string {
	src := c.APIKeys
	if len(src) == 0 && c.APIKey != "" {
		src = strings.Split(c.APIKey, ",")
	}
	var keys []string
	for _, k := range src {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// BreakerEnabled reports whether provider calls go through a circuit breaker.
func (c *Config) BreakerEnabled() bool {
	return c.CBFailureThreshold > 0
}

func (c *Config) validate() error {
	if len(c.Keys()) == 0 {
		return ErrNoCredentials
	}
	switch c.Transport {
	case TransportStdio, TransportSSE:
	default:
		return fmt.Errorf("config: unsupported MCP_TRANSPORT %q", c.Transport)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("config: MAX_CONCURRENT_REQUESTS must be positive, got %d", c.MaxConcurrent)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.CBFailureThreshold < 0 {
		return fmt.Errorf("config: CB_FAILURE_THRESHOLD must not be negative, got %d", c.CBFailureThreshold)
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 5
	}
	if c.ResubmitAttempts < 0 {
		c.ResubmitAttempts = 0
	}
	return nil
}
