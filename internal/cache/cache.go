// Package cache offers a small byte-oriented TTL cache used to absorb
// repeated ad resolutions. Two backends exist: an in-process map and a
// Redis-backed store for multi-instance deployments.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/playgate-tv/playgate/internal/metrics"
)

// Store is a TTL key-value cache. Values are opaque byte payloads;
// callers own serialization. Implementations are safe for concurrent
// use and never surface backend failures: a failed Get is a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process Store backend with periodic expiry sweeps.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemory creates an in-process cache. sweepInterval bounds how long
// expired entries linger; zero disables the sweeper (expired entries
// still never hit).
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		go m.sweep(sweepInterval)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expiresAt) {
		metrics.IncCacheOp("memory", "miss")
		return nil, false
	}
	metrics.IncCacheOp("memory", "hit")
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	metrics.IncCacheOp("memory", "set")
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Close stops the sweeper. Idempotent.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *Memory) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) deleteExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	now := m.now()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Disabled is a Store that never hits, for deployments that opt out of
// caching entirely.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Disabled) Set(context.Context, string, []byte, time.Duration) {}
func (Disabled) Delete(context.Context, string)                     {}
func (Disabled) Close() error                                       { return nil }
