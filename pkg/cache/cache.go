// Package cache memoizes provider responses for a short time so that repeated
// identical tool calls do not reach the provider.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is a context-aware payload cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Key derives the cache key for one call from its endpoint and parameters.
// encoding/json writes struct fields in declaration order and map keys sorted,
// so equal parameters always produce equal keys.
func Key(endpoint string, params any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("cache: marshal params: %w", err)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("tavily:%s:%x", endpoint, hash[:16]), nil
}

// TTLStore is a Store that also reports how long an entry has left to live.
type TTLStore interface {
	Store
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
}

// Layered serves from the in-process Memory tier first and falls back to an
// optional shared tier. Shared-tier errors are logged and treated as misses.
type Layered struct {
	memory *Memory
	shared Store
}

// NewLayered combines a memory tier with an optional shared tier (nil to skip).
func NewLayered(memory *Memory, shared Store) *Layered {
	return &Layered{memory: memory, shared: shared}
}

// Get looks the key up in memory, then in the shared tier. A shared-tier hit is
// copied into memory for the lifetime it has left there; when the shared tier
// cannot report that lifetime the hit is served but not copied.
func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if payload, ok := l.memory.Get(key); ok {
		return payload, true, nil
	}
	if l.shared == nil {
		return nil, false, nil
	}

	var (
		payload   []byte
		remaining time.Duration
		ok        bool
		err       error
	)
	if ts, isTTL := l.shared.(TTLStore); isTTL {
		payload, remaining, ok, err = ts.GetWithTTL(ctx, key)
	} else {
		payload, ok, err = l.shared.Get(ctx, key)
	}
	if err != nil {
		log.Warn().Err(err).Msg("shared cache get failed, treating as miss")
		return nil, false, nil
	}
	if ok && remaining > 0 {
		l.memory.Put(key, payload, remaining)
	}
	return payload, ok, nil
}

// Set writes through to both tiers.
func (l *Layered) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	l.memory.Put(key, payload, ttl)
	if l.shared == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = l.memory.defaultTTL
	}
	if err := l.shared.Set(ctx, key, payload, ttl); err != nil {
		log.Warn().Err(err).Msg("shared cache set failed")
	}
	return nil
}

// Memory returns the in-process tier.
func (l *Layered) Memory() *Memory { return l.memory }
