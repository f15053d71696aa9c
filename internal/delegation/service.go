package delegation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/meshtrust/trustd/internal/idgen"
	"github.com/meshtrust/trustd/internal/logging"
	"github.com/meshtrust/trustd/internal/metrics"
	"github.com/meshtrust/trustd/internal/traces"
	"github.com/meshtrust/trustd/internal/validation"
)

// TrustScores is the slice of the trust service the graph depends on:
// cache invalidation after edges change, core scores for quality
// weighting, and the delegation_quality write-back.
type TrustScores interface {
	InvalidateDerived(address string)
	CoreScore(ctx context.Context, address string) (float64, error)
	RecordDelegationQuality(ctx context.Context, address string, quality float64) error
}

// Service implements delegation graph management.
type Service struct {
	store    Store
	trust    TrustScores
	maxDepth int
	graphMu  sync.Mutex // serializes cycle check and insert across the graph
}

// NewService creates a delegation service. maxDepth bounds the longest
// active chain any delegator may sit at the end of.
func NewService(store Store, trust TrustScores, maxDepth int) *Service {
	return &Service{store: store, trust: trust, maxDepth: maxDepth}
}

// Delegate creates an active edge from delegator to delegate.
func (s *Service) Delegate(ctx context.Context, delegator, delegate, amount string) (*Delegation, error) {
	return s.DelegateUntil(ctx, delegator, delegate, amount, nil)
}

// DelegateUntil creates an active edge that stops counting toward the graph
// after expiresAt (nil means no expiry).
// The cycle check and the insert are serialized across the whole graph;
// per-delegator locking is not enough, since two edges with disjoint
// endpoints can jointly close a cycle through existing paths.
func (s *Service) DelegateUntil(ctx context.Context, delegator, delegate, amount string, expiresAt *time.Time) (*Delegation, error) {
	ctx, span := traces.StartSpan(ctx, "delegation.Delegate",
		traces.WalletAddr(delegator))
	defer span.End()

	delegator = strings.ToLower(strings.TrimSpace(delegator))
	delegate = strings.ToLower(strings.TrimSpace(delegate))

	if !validation.IsValidWalletAddress(delegator) {
		return nil, fmt.Errorf("%w: delegator must be a valid wallet address", ErrInvalidInput)
	}
	if !validation.IsValidWalletAddress(delegate) {
		return nil, fmt.Errorf("%w: delegate must be a valid wallet address", ErrInvalidInput)
	}
	if delegator == delegate {
		return nil, ErrSelfDelegation
	}
	if v, err := strconv.ParseFloat(amount, 64); err != nil || v <= 0 {
		return nil, fmt.Errorf("%w: amount must be a positive decimal", ErrInvalidInput)
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: expiresAt must be in the future", ErrInvalidInput)
	}

	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	adj, err := s.store.ActiveEdges(ctx)
	if err != nil {
		return nil, err
	}

	// The new edge closes a cycle iff the delegate already reaches back
	// to the delegator through active edges.
	if reaches(adj, delegate, delegator) {
		metrics.DelegationsTotal.WithLabelValues("rejected_cycle").Inc()
		return nil, ErrCircularDelegation
	}

	depth := chainDepth(adj, delegator)
	if depth >= s.maxDepth {
		metrics.DelegationsTotal.WithLabelValues("rejected_depth").Inc()
		return nil, fmt.Errorf("%w: chain depth %d at limit %d", ErrDepthExceeded, depth, s.maxDepth)
	}

	d := &Delegation{
		ID:        idgen.WithPrefix("del_"),
		Delegator: delegator,
		Delegate:  delegate,
		Amount:    amount,
		Depth:     depth + 1,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	metrics.DelegationsTotal.WithLabelValues("created").Inc()
	span.SetAttributes(traces.DelegationID(d.ID))
	s.trust.InvalidateDerived(delegator)
	s.trust.InvalidateDerived(delegate)
	s.refreshQuality(ctx, delegate)

	return d, nil
}

// Revoke marks an edge inactive. Idempotent: revoking an already-inactive
// or unknown id is a no-op, not an error.
func (s *Service) Revoke(ctx context.Context, id string) error {
	ctx, span := traces.StartSpan(ctx, "delegation.Revoke", traces.DelegationID(id))
	defer span.End()

	d, err := s.store.Get(ctx, id)
	if err == ErrDelegationNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if !d.IsActive {
		return nil
	}

	now := time.Now().UTC()
	d.IsActive = false
	d.RevokedAt = &now
	if err := s.store.Update(ctx, d); err != nil {
		return err
	}

	metrics.DelegationsTotal.WithLabelValues("revoked").Inc()
	s.trust.InvalidateDerived(d.Delegator)
	s.trust.InvalidateDerived(d.Delegate)
	s.refreshQuality(ctx, d.Delegate)
	return nil
}

// RefreshQuality recomputes the delegation_quality metric for address as
// the amount-weighted average core score of its active delegators, and
// writes it back to the trust record. With no active incoming delegations
// the metric resets to the neutral 0.5.
func (s *Service) RefreshQuality(ctx context.Context, address string) (float64, error) {
	address = strings.ToLower(address)

	chain, err := s.store.Chain(ctx, address)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var totalWeight, weighted float64
	for _, d := range chain {
		if d.Delegate != address || !d.ActiveAt(now) {
			continue
		}
		amt, err := strconv.ParseFloat(d.Amount, 64)
		if err != nil || amt <= 0 {
			continue
		}
		score, err := s.trust.CoreScore(ctx, d.Delegator)
		if err != nil {
			return 0, err
		}
		totalWeight += amt
		weighted += amt * score
	}

	quality := 0.5
	if totalWeight > 0 {
		quality = weighted / totalWeight
	}
	if err := s.trust.RecordDelegationQuality(ctx, address, quality); err != nil {
		return 0, err
	}
	return quality, nil
}

// refreshQuality is the best-effort variant used after edge changes; the
// quality metric is advisory, so a failed refresh never fails the
// delegation operation.
func (s *Service) refreshQuality(ctx context.Context, address string) {
	if _, err := s.RefreshQuality(ctx, address); err != nil {
		logging.L(ctx).Warn("delegation quality refresh failed", "address", address, "error", err)
	}
}

// Chain returns every edge involving the address, most recent first,
// including revoked edges for audit.
func (s *Service) Chain(ctx context.Context, address string) ([]*Delegation, error) {
	return s.store.Chain(ctx, strings.ToLower(address))
}

// DetectCycle reports a cycle among active edges reachable from address.
// The delegate path prevents cycles at creation time, so a hit here means
// externally loaded or corrupted graph data. Returns the cycle path or nil.
func (s *Service) DetectCycle(ctx context.Context, address string) ([]string, error) {
	adj, err := s.store.ActiveEdges(ctx)
	if err != nil {
		return nil, err
	}
	return cycleFrom(adj, strings.ToLower(address)), nil
}

// MaxDepth returns the configured chain depth limit.
func (s *Service) MaxDepth() int {
	return s.maxDepth
}
