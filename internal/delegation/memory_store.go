package delegation

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
	delegations map[string]*Delegation
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory delegation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{delegations: make(map[string]*Delegation)}
}

func (m *MemoryStore) Create(_ context.Context, d *Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.delegations[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delegations[id]
	if !ok {
		return nil, ErrDelegationNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, d *Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.delegations[d.ID]; !ok {
		return ErrDelegationNotFound
	}
	cp := *d
	m.delegations[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Chain(_ context.Context, address string) ([]*Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Delegation
	for _, d := range m.delegations {
		if d.Delegator == address || d.Delegate == address {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ActiveEdges(_ context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now().UTC()
	adj := make(map[string][]string)
	for _, d := range m.delegations {
		if d.ActiveAt(now) {
			adj[d.Delegator] = append(adj[d.Delegator], d.Delegate)
		}
	}
	return adj, nil
}
