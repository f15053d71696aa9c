package antigaming

import (
	"context"
	"sync"
)

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation for demo/testing.
type MemoryStore struct {
	assessments map[string]*Assessment
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assessments: make(map[string]*Assessment)}
}

func (m *MemoryStore) SaveAssessment(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.Patterns = append([]SuspiciousPattern(nil), a.Patterns...)
	cp.Recommendations = append([]string(nil), a.Recommendations...)
	m.assessments[a.Address] = &cp
	return nil
}

func (m *MemoryStore) GetAssessment(_ context.Context, address string) (*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assessments[address]
	if !ok {
		return nil, ErrAssessmentNotFound
	}
	cp := *a
	cp.Patterns = append([]SuspiciousPattern(nil), a.Patterns...)
	cp.Recommendations = append([]string(nil), a.Recommendations...)
	return &cp, nil
}

func (m *MemoryStore) CountHighRisk(_ context.Context, threshold float64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, a := range m.assessments {
		if a.RiskScore > threshold {
			count++
		}
	}
	return count, nil
}
