package custom

import (
	"context"
	"sync"
)

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation for demo/testing.
type MemoryStore struct {
	schemas map[string]*Schema
	values  map[string]map[string]float64 // wallet:appID -> field -> value
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory custom metrics store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schemas: make(map[string]*Schema),
		values:  make(map[string]map[string]float64),
	}
}

func valueKey(wallet, appID string) string {
	return wallet + ":" + appID
}

func (m *MemoryStore) SaveSchema(_ context.Context, s *Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Fields = make(map[string]TrustField, len(s.Fields))
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	m.schemas[s.AppID] = &cp
	return nil
}

func (m *MemoryStore) GetSchema(_ context.Context, appID string) (*Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[appID]
	if !ok {
		return nil, ErrSchemaNotFound
	}
	cp := *s
	cp.Fields = make(map[string]TrustField, len(s.Fields))
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	return &cp, nil
}

func (m *MemoryStore) SetFieldValue(_ context.Context, v FieldValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := valueKey(v.Wallet, v.AppID)
	if m.values[key] == nil {
		m.values[key] = make(map[string]float64)
	}
	m.values[key][v.Field] = v.Value
	return nil
}

func (m *MemoryStore) FieldValues(_ context.Context, wallet, appID string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64)
	for k, v := range m.values[valueKey(wallet, appID)] {
		out[k] = v
	}
	return out, nil
}
