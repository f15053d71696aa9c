// Package cache provides the short-TTL cache that fronts the score store and
// derived computations. It is an optimization, never a correctness dependency:
// every read path must fall back to the owning store on a miss.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is the TTL-scoped get/set/delete contract consumed by the engine.
// Implementations must be safe for concurrent use; per-key reads and writes
// must not serialize against each other globally.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
	// DeletePrefix removes every entry whose key starts with prefix.
	// Used for bulk invalidation of an address's derived values.
	DeletePrefix(prefix string)
}

const numShards = 64

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Memory is a sharded in-memory Cache with a background janitor.
type Memory struct {
	shards  [numShards]shard
	janitor *time.Ticker
	stop    chan struct{}
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an in-memory cache. The janitor sweeps expired entries
// every sweepInterval; pass 0 to use the default of one minute.
func NewMemory(sweepInterval time.Duration) *Memory {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	m := &Memory{
		janitor: time.NewTicker(sweepInterval),
		stop:    make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*entry)
	}
	go m.sweep()
	return m
}

// Stop terminates the janitor goroutine.
func (m *Memory) Stop() {
	m.janitor.Stop()
	close(m.stop)
}

func (m *Memory) shard(key string) *shard {
	// FNV-1a, inlined to avoid an allocation per lookup.
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return &m.shards[h%numShards]
}

// Get returns the cached value if present and unexpired.
func (m *Memory) Get(key string) (interface{}, bool) {
	s := m.shard(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op;
// there is no negative caching and no unbounded entries.
func (m *Memory) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := m.shard(key)
	s.mu.Lock()
	s.entries[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Delete removes a single entry.
func (m *Memory) Delete(key string) {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// DeletePrefix removes all entries whose key starts with prefix.
func (m *Memory) DeletePrefix(prefix string) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k := range s.entries {
			if strings.HasPrefix(k, prefix) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

func (m *Memory) sweep() {
	for {
		select {
		case <-m.stop:
			return
		case <-m.janitor.C:
			now := time.Now()
			for i := range m.shards {
				s := &m.shards[i]
				s.mu.Lock()
				for k, e := range s.entries {
					if now.After(e.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

// Noop is a Cache that stores nothing. Wiring it in place of Memory must not
// change any value the engine returns, only latency.
type Noop struct{}

var _ Cache = Noop{}

func (Noop) Get(string) (interface{}, bool)           { return nil, false }
func (Noop) Set(string, interface{}, time.Duration)   {}
func (Noop) Delete(string)                            {}
func (Noop) DeletePrefix(string)                      {}
