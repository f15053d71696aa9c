package trust

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation for demo/testing.
type MemoryStore struct {
	metrics map[string]*CoreTrustMetrics
	history map[string][]ScoreSample // newest last
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory trust store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metrics: make(map[string]*CoreTrustMetrics),
		history: make(map[string][]ScoreSample),
	}
}

func (m *MemoryStore) GetMetrics(_ context.Context, address string) (*CoreTrustMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.metrics[address]
	if !ok {
		return nil, ErrMetricsNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) PutMetrics(_ context.Context, rec *CoreTrustMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.metrics[rec.Address] = &cp
	return nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, sample ScoreSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[sample.Address] = append(m.history[sample.Address], sample)
	return nil
}

func (m *MemoryStore) History(_ context.Context, address string, limit int) ([]ScoreSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	samples := m.history[address]
	n := len(samples)
	if limit > n {
		limit = n
	}
	// Most recent first.
	out := make([]ScoreSample, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, samples[i])
	}
	return out, nil
}

func (m *MemoryStore) CountUpdatesSince(_ context.Context, address string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.history[address] {
		if s.RecordedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListMetrics(_ context.Context) ([]*CoreTrustMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CoreTrustMetrics, 0, len(m.metrics))
	for _, rec := range m.metrics {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
