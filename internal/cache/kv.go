// Package cache defines the key-value store used to memoize derived results.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// KV is a string key-value store with per-entry expiry.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-process KV. Expired entries are dropped by Sweep.
type MemoryKV struct {
	clock   clockwork.Clock
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV(clock clockwork.Clock) *MemoryKV {
	return &MemoryKV{clock: clock, entries: make(map[string]memoryEntry)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !m.clock.Now().Before(e.expiresAt) {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.clock.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Sweep rebuilds the map without expired entries and returns how many it dropped.
func (m *MemoryKV) Sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := make(map[string]memoryEntry, len(m.entries))
	for k, e := range m.entries {
		if now.Before(e.expiresAt) {
			fresh[k] = e
		}
	}
	dropped := len(m.entries) - len(fresh)
	m.entries = fresh
	return dropped
}
