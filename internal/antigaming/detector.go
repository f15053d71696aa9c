package antigaming

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/meshtrust/trustd/internal/cache"
	"github.com/meshtrust/trustd/internal/delegation"
	"github.com/meshtrust/trustd/internal/logging"
	"github.com/meshtrust/trustd/internal/metrics"
	"github.com/meshtrust/trustd/internal/traces"
	"github.com/meshtrust/trustd/internal/trust"
)

// historySamples is how many recent score samples volatility looks at.
const historySamples = 10

// minSamplesForVolatility is the minimum history length before the
// volatility signal fires at all.
const minSamplesForVolatility = 5

// activityAnomalyScore is the fixed anomaly weight assigned when update
// volume crosses the activity threshold (possible automation).
const activityAnomalyScore = 0.8

// coordinatedBurstWindow and coordinatedBurstCount bound the delegation
// burst treated as coordinated behavior.
const (
	coordinatedBurstWindow = 10 * time.Minute
	coordinatedBurstCount  = 3
)

// Config carries the detection policy thresholds. The source values are
// uncalibrated heuristics, so they are injected rather than hardcoded.
type Config struct {
	RapidChangeThreshold    float64
	RapidChangeHighSeverity float64
	ActivityWindow          time.Duration
	ActivityThreshold       int
	AssessmentTTL           time.Duration
}

// Detector produces gaming assessments from score history and the
// delegation graph.
type Detector struct {
	trust       *trust.Service
	delegations *delegation.Service
	store       Store
	cache       cache.Cache
	cfg         Config
}

// NewDetector creates an anti-gaming detector.
func NewDetector(ts *trust.Service, ds *delegation.Service, store Store, c cache.Cache, cfg Config) *Detector {
	return &Detector{trust: ts, delegations: ds, store: store, cache: c, cfg: cfg}
}

// Assess evaluates the three detection signals for an address and unions
// their findings into one assessment. The result supersedes any previous
// assessment and is cached until the TTL expires.
func (d *Detector) Assess(ctx context.Context, address string) (*Assessment, error) {
	if v, ok := d.cache.Get(trust.AssessmentKey(address)); ok {
		if a, ok := v.(*Assessment); ok {
			metrics.CacheHitsTotal.WithLabelValues("assessment").Inc()
			return a, nil
		}
	}
	metrics.CacheMissesTotal.WithLabelValues("assessment").Inc()

	ctx, span := traces.StartSpan(ctx, "antigaming.Assess", traces.WalletAddr(address))
	defer span.End()
	start := time.Now()

	a := &Assessment{
		Address:         address,
		Patterns:        []SuspiciousPattern{},
		Recommendations: []string{},
		LastAnalyzed:    time.Now().UTC(),
	}

	d.checkVolatility(ctx, address, a)
	d.checkCircularDelegation(ctx, address, a)
	d.checkActivity(ctx, address, a)
	d.checkCoordination(ctx, address, a)

	a.RiskScore = clamp(a.RiskScore, 0, 100)
	a.Recommendations = recommendationsFor(a.Patterns)

	for _, p := range a.Patterns {
		metrics.PatternsDetectedTotal.WithLabelValues(string(p.Type)).Inc()
	}
	metrics.ObserveComputation("assessment", start)

	if err := d.store.SaveAssessment(ctx, a); err != nil {
		logging.L(ctx).Warn("failed to persist assessment", "address", address, "error", err)
	}
	d.cache.Set(trust.AssessmentKey(address), a, d.cfg.AssessmentTTL)
	return a, nil
}

// Stored returns the persisted assessment without recomputation.
func (d *Detector) Stored(ctx context.Context, address string) (*Assessment, error) {
	return d.store.GetAssessment(ctx, address)
}

// checkVolatility flags rapid score changes over the recent history.
func (d *Detector) checkVolatility(ctx context.Context, address string, a *Assessment) {
	samples, err := d.trust.History(ctx, address, historySamples)
	if err != nil {
		logging.L(ctx).Warn("volatility check skipped", "address", address, "error", err)
		return
	}
	if len(samples) < minSamplesForVolatility {
		return
	}

	var total float64
	for i := 1; i < len(samples); i++ {
		total += math.Abs(samples[i].Score - samples[i-1].Score)
	}
	avgChange := total / float64(len(samples)-1)

	if avgChange <= d.cfg.RapidChangeThreshold {
		return
	}

	severity := SeverityMedium
	if avgChange > d.cfg.RapidChangeHighSeverity {
		severity = SeverityHigh
	}
	a.Patterns = append(a.Patterns, SuspiciousPattern{
		Type:        PatternRapidChanges,
		Severity:    severity,
		Description: fmt.Sprintf("average score change of %.3f across last %d samples", avgChange, len(samples)),
		DetectedAt:  a.LastAnalyzed,
	})
	a.RiskScore += avgChange * 100
}

// checkCircularDelegation flags any active cycle reachable from the address.
func (d *Detector) checkCircularDelegation(ctx context.Context, address string, a *Assessment) {
	path, err := d.delegations.DetectCycle(ctx, address)
	if err != nil {
		logging.L(ctx).Warn("cycle check skipped", "address", address, "error", err)
		return
	}
	if path == nil {
		return
	}

	a.Patterns = append(a.Patterns, SuspiciousPattern{
		Type:        PatternCircularDelegation,
		Severity:    SeverityCritical,
		Description: fmt.Sprintf("circular delegation chain of length %d detected", len(path)-1),
		DetectedAt:  a.LastAnalyzed,
	})
	a.RiskScore += 50
}

// checkActivity flags abnormally high metric-update volume.
func (d *Detector) checkActivity(ctx context.Context, address string, a *Assessment) {
	count, err := d.trust.UpdatesInWindow(ctx, address, d.cfg.ActivityWindow)
	if err != nil {
		logging.L(ctx).Warn("activity check skipped", "address", address, "error", err)
		return
	}
	if count <= d.cfg.ActivityThreshold {
		return
	}

	a.Patterns = append(a.Patterns, SuspiciousPattern{
		Type:        PatternUnusualActivity,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("%d metric updates within %s (threshold %d)", count, d.cfg.ActivityWindow, d.cfg.ActivityThreshold),
		DetectedAt:  a.LastAnalyzed,
	})
	a.RiskScore += activityAnomalyScore * 30
}

// checkCoordination flags bursts of delegations created close together,
// a common shape for colluding wallets pumping each other's influence.
func (d *Detector) checkCoordination(ctx context.Context, address string, a *Assessment) {
	chain, err := d.delegations.Chain(ctx, address)
	if err != nil {
		logging.L(ctx).Warn("coordination check skipped", "address", address, "error", err)
		return
	}

	// Chain is newest first; look for coordinatedBurstCount active edges
	// inside a sliding coordinatedBurstWindow.
	var times []time.Time
	for _, del := range chain {
		if del.IsActive {
			times = append(times, del.CreatedAt)
		}
	}
	for i := 0; i+coordinatedBurstCount-1 < len(times); i++ {
		if times[i].Sub(times[i+coordinatedBurstCount-1]) <= coordinatedBurstWindow {
			a.Patterns = append(a.Patterns, SuspiciousPattern{
				Type:        PatternCoordinatedBehavior,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("%d delegations created within %s", coordinatedBurstCount, coordinatedBurstWindow),
				DetectedAt:  a.LastAnalyzed,
			})
			a.RiskScore += 15
			return
		}
	}
}

var patternRecommendations = map[PatternType][]string{
	PatternRapidChanges: {
		"review recent metric updates for manipulation",
		"apply score smoothing before granting privileges",
	},
	PatternCircularDelegation: {
		"break circular delegation chains",
		"enforce stricter delegation depth limits",
	},
	PatternUnusualActivity: {
		"rate limit metric updates for this address",
		"require additional verification before further updates",
	},
	PatternCoordinatedBehavior: {
		"audit delegation counterparties for coordinated activity",
	},
}

// recommendationsFor maps matched pattern types to actions, de-duplicated.
func recommendationsFor(patterns []SuspiciousPattern) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, p := range patterns {
		for _, r := range patternRecommendations[p.Type] {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
