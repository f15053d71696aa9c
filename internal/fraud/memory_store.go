package fraud

import (
	"context"
	"sync"
)

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation for demo/testing.
type MemoryStore struct {
	scores map[string]*Score
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory fraud score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[string]*Score)}
}

func (m *MemoryStore) SaveScore(_ context.Context, s *Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Factors = make(map[string]float64, len(s.Factors))
	for k, v := range s.Factors {
		cp.Factors[k] = v
	}
	m.scores[s.Wallet] = &cp
	return nil
}

func (m *MemoryStore) GetScore(_ context.Context, wallet string) (*Score, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scores[wallet]
	if !ok {
		return nil, ErrScoreNotFound
	}
	cp := *s
	cp.Factors = make(map[string]float64, len(s.Factors))
	for k, v := range s.Factors {
		cp.Factors[k] = v
	}
	return &cp, nil
}
