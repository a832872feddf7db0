package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTTL is used by Put when no positive ttl is given and the cache was
// built without one.
const DefaultTTL = 30 * time.Second

type entry struct {
	payload []byte
	created time.Time
	ttl     time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.created.Add(e.ttl))
}

// Memory is an in-process TTL cache. Expired entries are treated as absent,
// dropped on lookup and purged by the background sweeper.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stop     context.CancelFunc
	done     chan struct{}
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty cache whose Put uses defaultTTL when none is given.
func NewMemory(defaultTTL time.Duration, opts ...MemoryOption) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	m := &Memory{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the payload stored under key if it has not expired.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return bytes.Clone(e.payload), true
}

// Put stores payload under key, replacing any previous entry. A ttl of zero
// or less uses the cache default.
func (m *Memory) Put(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	m.entries[key] = entry{payload: payload, created: m.now(), ttl: ttl}
	m.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx ends or Close is called.
// Calling it more than once has no effect.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.stop = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					log.Debug().Int("purged", n).Msg("cache sweep")
				}
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		stop, done := m.stop, m.done
		m.mu.Unlock()
		if stop != nil {
			stop()
			<-done
		}
	})
	return nil
}
