package fraud

import (
	"context"
	"math"
	"time"

	"github.com/meshtrust/trustd/internal/antigaming"
	"github.com/meshtrust/trustd/internal/cache"
	"github.com/meshtrust/trustd/internal/logging"
	"github.com/meshtrust/trustd/internal/metrics"
	"github.com/meshtrust/trustd/internal/traces"
	"github.com/meshtrust/trustd/internal/trust"
)

// Scorer derives fraud scores from gaming assessments and core metrics.
type Scorer struct {
	trust    *trust.Service
	detector *antigaming.Detector
	store    Store
	cache    cache.Cache
	ttl      time.Duration
}

// NewScorer creates a fraud scorer. ttl bounds how long computed scores
// are served from cache.
func NewScorer(ts *trust.Service, detector *antigaming.Detector, store Store, c cache.Cache, ttl time.Duration) *Scorer {
	return &Scorer{trust: ts, detector: detector, store: store, cache: c, ttl: ttl}
}

// Compute returns the fraud score for a wallet, recomputing on cache miss.
// The factor breakdown is persisted for audit.
func (s *Scorer) Compute(ctx context.Context, wallet string) (*Score, error) {
	if v, ok := s.cache.Get(trust.FraudKey(wallet)); ok {
		if sc, ok := v.(*Score); ok {
			metrics.CacheHitsTotal.WithLabelValues("fraud").Inc()
			return sc, nil
		}
	}
	metrics.CacheMissesTotal.WithLabelValues("fraud").Inc()

	ctx, span := traces.StartSpan(ctx, "fraud.Compute", traces.WalletAddr(wallet))
	defer span.End()
	start := time.Now()

	m, err := s.trust.GetMetrics(ctx, wallet)
	if err != nil {
		return nil, err
	}

	// A failed assessment degrades to zero pattern risk; the other two
	// factors still contribute.
	patternRisk := 0.0
	assessment, err := s.detector.Assess(ctx, wallet)
	if err != nil {
		logging.L(ctx).Warn("assessment unavailable for fraud score", "wallet", wallet, "error", err)
	} else {
		patternRisk = assessment.RiskScore / 100
	}

	txFailure := math.Min(1-m.TransactionSuccessRate, 0.5)

	delegationPenalty := 0.3
	if m.DelegationQuality < 0.5 {
		delegationPenalty = 0.7
	}

	score := &Score{
		Wallet: wallet,
		Score: clamp01(weightPatternRisk*patternRisk +
			weightTransactionFailure*txFailure +
			weightDelegationPenalty*delegationPenalty),
		Factors: map[string]float64{
			"pattern_risk":        patternRisk,
			"transaction_failure": txFailure,
			"delegation_penalty":  delegationPenalty,
		},
		LastCalculated: time.Now().UTC(),
	}

	metrics.ObserveComputation("fraud", start)
	span.SetAttributes(traces.Score(score.Score))

	if err := s.store.SaveScore(ctx, score); err != nil {
		logging.L(ctx).Warn("failed to persist fraud score", "wallet", wallet, "error", err)
	}
	s.cache.Set(trust.FraudKey(wallet), score, s.ttl)
	return score, nil
}

// Stored returns the persisted score without recomputation.
func (s *Scorer) Stored(ctx context.Context, wallet string) (*Score, error) {
	return s.store.GetScore(ctx, wallet)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
