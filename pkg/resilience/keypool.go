// Package resilience provides the credential pool and the failure-handling
// primitives that guard calls to the search provider.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrNoCredentials is returned by Next when no credential is active.
var ErrNoCredentials = errors.New("keypool: no active API keys available")

const (
	defaultWeight    = 1
	defaultMaxErrors = 5
	redactPrefixLen  = 10
)

// Credential is one API key and its health state.
type Credential struct {
	Key        string
	Weight     int // reserved for weighted rotation, always 1 today
	Active     bool
	ErrorCount int
	MaxErrors  int
	LastUsed   time.Time
}

// CredentialConfig is a partially specified credential. Zero fields take defaults:
// weight 1, active, no errors, threshold 5.
type CredentialConfig struct {
	Key       string
	Weight    int
	Inactive  bool
	MaxErrors int
}

// CredentialSnapshot is the redacted, copyable view of one credential.
type CredentialSnapshot struct {
	Key        string     `json:"key"`
	Active     bool       `json:"active"`
	ErrorCount int        `json:"errorCount"`
	MaxErrors  int        `json:"maxErrors"`
	Weight     int        `json:"weight"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"` // nil until first drawn
}

// PoolStats summarizes the pool at one instant.
type PoolStats struct {
	Total  int                  `json:"total"`
	Active int                  `json:"active"`
	Keys   []CredentialSnapshot `json:"keys"`
}

// KeyPool manages a pool of API keys with round-robin rotation over the
// currently active subset and per-key consecutive-error tracking.
type KeyPool struct {
	mu      sync.Mutex
	keys    []*Credential
	current int
	now     func() time.Time
}

// NewKeyPool creates a key pool from a list of raw API keys, each with the
// given error threshold (0 means the default of 5).
func NewKeyPool(keys []string, maxErrors int) *KeyPool {
	cfgs := make([]CredentialConfig, len(keys))
	for i, k := range keys {
		cfgs[i] = CredentialConfig{Key: k, MaxErrors: maxErrors}
	}
	return NewKeyPoolFromConfigs(cfgs)
}

// NewKeyPoolFromConfigs creates a key pool from partially specified credentials.
func NewKeyPoolFromConfigs(cfgs []CredentialConfig) *KeyPool {
	kp := &KeyPool{now: time.Now}
	for _, c := range cfgs {
		kp.keys = append(kp.keys, newCredential(c))
	}
	return kp
}

func newCredential(c CredentialConfig) *Credential {
	if c.Weight <= 0 {
		c.Weight = defaultWeight
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = defaultMaxErrors
	}
	return &Credential{
		Key:       c.Key,
		Weight:    c.Weight,
		Active:    !c.Inactive,
		MaxErrors: c.MaxErrors,
	}
}

// Next returns the next active API key using round-robin selection.
// The cursor is taken modulo the active count at the moment of the call, so
// deactivations and removals shift which key comes next but never fail rotation.
func (kp *KeyPool) Next() (string, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	active := make([]*Credential, 0, len(kp.keys))
	for _, c := range kp.keys {
		if c.Active {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return "", ErrNoCredentials
	}

	c := active[kp.current%len(active)]
	kp.current = (kp.current + 1) % len(active)
	c.LastUsed = kp.now()
	return c.Key, nil
}

// ReportSuccess resets the key's consecutive error count.
func (kp *KeyPool) ReportSuccess(key string) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	if c := kp.find(key); c != nil {
		c.ErrorCount = 0
	}
}

// ReportFailure counts one failure against the key and deactivates it once the
// count reaches its threshold. It reports whether this call deactivated the key.
func (kp *KeyPool) ReportFailure(key string) bool {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	c := kp.find(key)
	if c == nil {
		return false
	}
	c.ErrorCount++
	if c.Active && c.ErrorCount >= c.MaxErrors {
		c.Active = false
		return true
	}
	return false
}

// Reactivate puts the key back into rotation with a clean error count.
func (kp *KeyPool) Reactivate(key string) bool {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	c := kp.find(key)
	if c == nil {
		return false
	}
	c.Active = true
	c.ErrorCount = 0
	return true
}

// Add appends a credential to the pool.
func (kp *KeyPool) Add(cfg CredentialConfig) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	kp.keys = append(kp.keys, newCredential(cfg))
}

// Remove deletes the key from the pool and reports whether it was present.
func (kp *KeyPool) Remove(key string) bool {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	for i, c := range kp.keys {
		if c.Key == key {
			kp.keys = append(kp.keys[:i], kp.keys[i+1:]...)
			return true
		}
	}
	return false
}

// Stats returns a redacted snapshot of the pool.
func (kp *KeyPool) Stats() PoolStats {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	st := PoolStats{Total: len(kp.keys), Keys: make([]CredentialSnapshot, 0, len(kp.keys))}
	for _, c := range kp.keys {
		if c.Active {
			st.Active++
		}
		snap := CredentialSnapshot{
			Key:        Redact(c.Key),
			Active:     c.Active,
			ErrorCount: c.ErrorCount,
			MaxErrors:  c.MaxErrors,
			Weight:     c.Weight,
		}
		if !c.LastUsed.IsZero() {
			lastUsed := c.LastUsed
			snap.LastUsed = &lastUsed
		}
		st.Keys = append(st.Keys, snap)
	}
	return st
}

// ActiveCount returns how many keys are currently in rotation.
func (kp *KeyPool) ActiveCount() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	n := 0
	for _, c := range kp.keys {
		if c.Active {
			n++
		}
	}
	return n
}

// Size returns the number of keys in the pool.
func (kp *KeyPool) Size() int {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return len(kp.keys)
}

// find must be called with mu held.
func (kp *KeyPool) find(key string) *Credential {
	for _, c := range kp.keys {
		if c.Key == key {
			return c
		}
	}
	return nil
}

// Redact shortens a secret to a fixed-length prefix plus an ellipsis.
func Redact(key string) string {
	if len(key) <= redactPrefixLen {
		return key[:len(key)/2] + "..."
	}
	return key[:redactPrefixLen] + "..."
}
