// Package delegation maintains the directed trust-delegation graph.
//
// Flow:
//  1. Delegator vests trust in a delegate → active edge created
//  2. Creation is rejected if it would close a cycle or exceed the depth limit
//  3. Revocation marks the edge inactive; edges are kept for audit
//  4. The chain query returns every edge touching an address, newest first
package delegation

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrCircularDelegation = errors.New("delegation would create a circular chain")
	ErrDepthExceeded      = errors.New("delegation chain depth limit exceeded")
	ErrSelfDelegation     = errors.New("delegator and delegate must differ")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDelegationNotFound = errors.New("delegation not found")
)

// Delegation is a directed trust edge. Revoked edges stay in the store with
// IsActive=false; they are never hard-deleted. An edge with ExpiresAt set
// stops counting toward the active graph once that time passes.
type Delegation struct {
	ID        string     `json:"id"`
	Delegator string     `json:"delegator"`
	Delegate  string     `json:"delegate"`
	Amount    string     `json:"amount"`
	Depth     int        `json:"depth"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// ActiveAt reports whether the edge counts toward the active graph at now.
func (d *Delegation) ActiveAt(now time.Time) bool {
	return d.IsActive && (d.ExpiresAt == nil || d.ExpiresAt.After(now))
}

// Store is the durable record of delegation edges.
type Store interface {
	// Create inserts a new edge.
	Create(ctx context.Context, d *Delegation) error
	// Get returns the edge with the given id, or ErrDelegationNotFound.
	Get(ctx context.Context, id string) (*Delegation, error)
	// Update persists changes to an existing edge.
	Update(ctx context.Context, d *Delegation) error
	// Chain returns all edges involving address in either direction,
	// most recent first, including inactive edges.
	Chain(ctx context.Context, address string) ([]*Delegation, error)
	// ActiveEdges returns the adjacency of all active, unexpired edges
	// (delegator -> delegates).
	ActiveEdges(ctx context.Context) (map[string][]string, error)
}
