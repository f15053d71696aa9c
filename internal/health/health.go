// Package health aggregates dependency probes for the scoring service's
// health endpoint.
package health

import (
	"context"
	"sync"
)

// Check probes one dependency. A nil error means the dependency is usable.
type Check func(ctx context.Context) error

// Status is the reported outcome of one probe.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type probe struct {
	name  string
	check Check
}

// Registry runs named dependency probes on demand. Probes run in
// registration order so the health payload is stable across calls.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named probe.
func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	r.probes = append(r.probes, probe{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every probe and reports the aggregate plus per-dependency
// outcomes. A single failing probe makes the aggregate unhealthy.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, len(probes))
	for i, p := range probes {
		statuses[i] = Status{Name: p.name, Healthy: true}
		if err := p.check(ctx); err != nil {
			statuses[i].Healthy = false
			statuses[i].Detail = err.Error()
			healthy = false
		}
	}
	return healthy, statuses
}
