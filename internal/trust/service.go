package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/meshtrust/trustd/internal/cache"
	"github.com/meshtrust/trustd/internal/metrics"
	"github.com/meshtrust/trustd/internal/syncutil"
	"github.com/meshtrust/trustd/internal/traces"
)

// Cache key builders shared by every package that caches per-address
// derived values. Invalidation in UpdateMetrics relies on these prefixes.

func CoreKey(address string) string    { return "core:" + address }
func FraudKey(address string) string   { return "fraud:" + address }
func AssessmentKey(address string) string { return "assessment:" + address }

func CompositeKey(wallet, appID string) string { return "composite:" + wallet + ":" + appID }
func CompositePrefix(wallet string) string     { return "composite:" + wallet + ":" }

// Service implements metric reads and merges over the score store, fronted
// by the TTL cache.
type Service struct {
	store   Store
	cache   cache.Cache
	coreTTL time.Duration
	locks   syncutil.ShardedMutex
}

// NewService creates a trust service. coreTTL bounds how long cached
// metrics records are served without a store read.
func NewService(store Store, c cache.Cache, coreTTL time.Duration) *Service {
	return &Service{store: store, cache: c, coreTTL: coreTTL}
}

// GetMetrics returns the metrics record for address, creating a default
// record on first reference.
func (s *Service) GetMetrics(ctx context.Context, address string) (*CoreTrustMetrics, error) {
	if v, ok := s.cache.Get(CoreKey(address)); ok {
		if m, ok := v.(*CoreTrustMetrics); ok {
			metrics.CacheHitsTotal.WithLabelValues("core").Inc()
			cp := *m
			return &cp, nil
		}
	}
	metrics.CacheMissesTotal.WithLabelValues("core").Inc()

	m, err := s.store.GetMetrics(ctx, address)
	if err == ErrMetricsNotFound {
		m, err = s.createDefault(ctx, address)
	}
	if err != nil {
		return nil, err
	}

	cp := *m
	s.cache.Set(CoreKey(address), &cp, s.coreTTL)
	return m, nil
}

// createDefault inserts the default record, serialized per address so two
// racing first reads do not both insert.
func (s *Service) createDefault(ctx context.Context, address string) (*CoreTrustMetrics, error) {
	unlock := s.locks.Lock(address)
	defer unlock()

	// Re-check under the lock; the race loser sees the winner's record.
	if m, err := s.store.GetMetrics(ctx, address); err == nil {
		return m, nil
	} else if err != ErrMetricsNotFound {
		return nil, err
	}

	m := DefaultMetrics(address, time.Now().UTC())
	if err := s.store.PutMetrics(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMetrics merges the provided fields into the address's record,
// recomputes the core score, persists the result with a history sample,
// and invalidates every cached derived value for the address.
func (s *Service) UpdateMetrics(ctx context.Context, address string, req UpdateRequest) (*CoreTrustMetrics, error) {
	ctx, span := traces.StartSpan(ctx, "trust.UpdateMetrics", traces.WalletAddr(address))
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	unlock := s.locks.Lock(address)
	defer unlock()

	m, err := s.store.GetMetrics(ctx, address)
	if err == ErrMetricsNotFound {
		m = DefaultMetrics(address, time.Now().UTC())
	} else if err != nil {
		return nil, err
	}

	req.applyTo(m)
	m.CoreTrustScore = ComputeScore(m)
	m.LastUpdated = time.Now().UTC()

	// The store may already hold the new record when a later write fails,
	// so cached derived values are dropped on every exit past this point.
	defer s.InvalidateDerived(address)

	if err := s.store.PutMetrics(ctx, m); err != nil {
		return nil, err
	}
	if err := s.store.AppendHistory(ctx, ScoreSample{
		Address:    address,
		Score:      m.CoreTrustScore,
		RecordedAt: m.LastUpdated,
	}); err != nil {
		return nil, err
	}

	metrics.ObserveComputation("core", start)
	span.SetAttributes(traces.Score(m.CoreTrustScore))

	cp := *m
	return &cp, nil
}

// RecordMetric updates a single named metric field. Used by the
// per-metric recording endpoint.
func (s *Service) RecordMetric(ctx context.Context, address, name string, value float64) (*CoreTrustMetrics, error) {
	req, err := requestForField(name, value)
	if err != nil {
		return nil, err
	}
	return s.UpdateMetrics(ctx, address, req)
}

// CoreScore returns just the core trust score, creating the default record
// for unseen addresses.
func (s *Service) CoreScore(ctx context.Context, address string) (float64, error) {
	m, err := s.GetMetrics(ctx, address)
	if err != nil {
		return 0, err
	}
	return m.CoreTrustScore, nil
}

// RecordDelegationQuality writes a recomputed delegation_quality metric.
// Used by the delegation graph after edges change.
func (s *Service) RecordDelegationQuality(ctx context.Context, address string, quality float64) error {
	_, err := s.RecordMetric(ctx, address, "delegation_quality", quality)
	return err
}

// History returns up to limit score samples for address, most recent first.
func (s *Service) History(ctx context.Context, address string, limit int) ([]ScoreSample, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.History(ctx, address, limit)
}

// UpdatesInWindow counts metric updates for address within the trailing window.
func (s *Service) UpdatesInWindow(ctx context.Context, address string, window time.Duration) (int, error) {
	return s.store.CountUpdatesSince(ctx, address, time.Now().Add(-window))
}

// Snapshot returns every metrics record for read-side aggregation.
func (s *Service) Snapshot(ctx context.Context) ([]*CoreTrustMetrics, error) {
	return s.store.ListMetrics(ctx)
}

// InvalidateDerived drops every cached value derived from the address's
// metrics: the record itself, fraud score, gaming assessment, and all
// per-app composites.
func (s *Service) InvalidateDerived(address string) {
	s.cache.Delete(CoreKey(address))
	s.cache.Delete(FraudKey(address))
	s.cache.Delete(AssessmentKey(address))
	s.cache.DeletePrefix(CompositePrefix(address))
}

func (r UpdateRequest) validate() error {
	unit := map[string]*float64{
		"transactionSuccessRate":     r.TransactionSuccessRate,
		"validatorUptime":            r.ValidatorUptime,
		"networkParticipation":       r.NetworkParticipation,
		"stakeConsistency":           r.StakeConsistency,
		"delegationQuality":          r.DelegationQuality,
		"fraudPreventionScore":       r.FraudPreventionScore,
		"securityCompliance":         r.SecurityCompliance,
		"environmentalContributions": r.EnvironmentalContributions,
		"governanceParticipation":    r.GovernanceParticipation,
		"communityVotingScore":       r.CommunityVotingScore,
	}
	for field, v := range unit {
		if v != nil && (*v < 0.0 || *v > 1.0) {
			return fmt.Errorf("%w: %s must be between 0.0 and 1.0", ErrInvalidInput, field)
		}
	}
	if r.KYCVerificationLevel != nil && (*r.KYCVerificationLevel < 0 || *r.KYCVerificationLevel > MaxKYCLevel) {
		return fmt.Errorf("%w: kycVerificationLevel must be between 0 and %d", ErrInvalidInput, MaxKYCLevel)
	}
	if r.TimeOnNetwork != nil && *r.TimeOnNetwork < 0 {
		return fmt.Errorf("%w: timeOnNetwork must not be negative", ErrInvalidInput)
	}
	return nil
}

func (r UpdateRequest) applyTo(m *CoreTrustMetrics) {
	if r.TransactionSuccessRate != nil {
		m.TransactionSuccessRate = *r.TransactionSuccessRate
	}
	if r.ValidatorUptime != nil {
		m.ValidatorUptime = *r.ValidatorUptime
	}
	if r.NetworkParticipation != nil {
		m.NetworkParticipation = *r.NetworkParticipation
	}
	if r.StakeConsistency != nil {
		m.StakeConsistency = *r.StakeConsistency
	}
	if r.DelegationQuality != nil {
		m.DelegationQuality = *r.DelegationQuality
	}
	if r.FraudPreventionScore != nil {
		m.FraudPreventionScore = *r.FraudPreventionScore
	}
	if r.SecurityCompliance != nil {
		m.SecurityCompliance = *r.SecurityCompliance
	}
	if r.KYCVerificationLevel != nil {
		m.KYCVerificationLevel = *r.KYCVerificationLevel
	}
	if r.TimeOnNetwork != nil {
		m.TimeOnNetwork = *r.TimeOnNetwork
	}
	if r.EnvironmentalContributions != nil {
		m.EnvironmentalContributions = *r.EnvironmentalContributions
	}
	if r.GovernanceParticipation != nil {
		m.GovernanceParticipation = *r.GovernanceParticipation
	}
	if r.CommunityVotingScore != nil {
		m.CommunityVotingScore = *r.CommunityVotingScore
	}
}

func requestForField(name string, value float64) (UpdateRequest, error) {
	var req UpdateRequest
	switch name {
	case "transaction_success_rate":
		req.TransactionSuccessRate = &value
	case "validator_uptime":
		req.ValidatorUptime = &value
	case "network_participation":
		req.NetworkParticipation = &value
	case "stake_consistency":
		req.StakeConsistency = &value
	case "delegation_quality":
		req.DelegationQuality = &value
	case "fraud_prevention_score":
		req.FraudPreventionScore = &value
	case "security_compliance":
		req.SecurityCompliance = &value
	case "environmental_contributions":
		req.EnvironmentalContributions = &value
	case "governance_participation":
		req.GovernanceParticipation = &value
	case "community_voting_score":
		req.CommunityVotingScore = &value
	case "kyc_verification_level":
		lvl := int(value)
		req.KYCVerificationLevel = &lvl
	case "time_on_network":
		secs := int64(value)
		req.TimeOnNetwork = &secs
	default:
		return req, fmt.Errorf("%w: unknown metric %q", ErrInvalidInput, name)
	}
	return req, nil
}
