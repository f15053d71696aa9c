package antigaming

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshtrust/trustd/internal/cache"
	"github.com/meshtrust/trustd/internal/delegation"
	"github.com/meshtrust/trustd/internal/trust"
)

func addr(n int) string {
	return fmt.Sprintf("0x%040d", n)
}

func testConfig() Config {
	return Config{
		RapidChangeThreshold:    0.10,
		RapidChangeHighSeverity: 0.30,
		ActivityWindow:          7 * 24 * time.Hour,
		ActivityThreshold:       100,
		AssessmentTTL:           time.Hour,
	}
}

type fixture struct {
	detector   *Detector
	trustStore *trust.MemoryStore
	delegStore *delegation.MemoryStore
	trustSvc   *trust.Service
	delegSvc   *delegation.Service
	store      *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(c.Stop)

	trustStore := trust.NewMemoryStore()
	trustSvc := trust.NewService(trustStore, c, 5*time.Minute)
	delegStore := delegation.NewMemoryStore()
	delegSvc := delegation.NewService(delegStore, trustSvc, 5)
	store := NewMemoryStore()

	return &fixture{
		detector:   NewDetector(trustSvc, delegSvc, store, c, testConfig()),
		trustStore: trustStore,
		delegStore: delegStore,
		trustSvc:   trustSvc,
		delegSvc:   delegSvc,
		store:      store,
	}
}

func hasPattern(a *Assessment, pt PatternType) *SuspiciousPattern {
	for i := range a.Patterns {
		if a.Patterns[i].Type == pt {
			return &a.Patterns[i]
		}
	}
	return nil
}

func TestAssess_CleanAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)
	assert.Empty(t, a.Patterns)
	assert.Equal(t, 0.0, a.RiskScore)
	assert.Empty(t, a.Recommendations)
}

func TestAssess_AlternatingScoresFlagRapidChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 12 samples alternating 0.2 / 0.9: mean change 0.7.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		score := 0.2
		if i%2 == 1 {
			score = 0.9
		}
		require.NoError(t, f.trustStore.AppendHistory(ctx, trust.ScoreSample{
			Address:    addr(1),
			Score:      score,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)

	p := hasPattern(a, PatternRapidChanges)
	require.NotNil(t, p)
	assert.Equal(t, SeverityHigh, p.Severity)
	assert.Greater(t, a.RiskScore, 50.0)
}

func TestAssess_ModerateVolatilityIsMediumSeverity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Mean change 0.15: above threshold, below the high-severity bar.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		score := 0.5
		if i%2 == 1 {
			score = 0.65
		}
		require.NoError(t, f.trustStore.AppendHistory(ctx, trust.ScoreSample{
			Address:    addr(1),
			Score:      score,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)

	p := hasPattern(a, PatternRapidChanges)
	require.NotNil(t, p)
	assert.Equal(t, SeverityMedium, p.Severity)
}

func TestAssess_TooFewSamplesNoVolatilitySignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		score := 0.1
		if i%2 == 1 {
			score = 0.9
		}
		require.NoError(t, f.trustStore.AppendHistory(ctx, trust.ScoreSample{
			Address: addr(1), Score: score, RecordedAt: time.Now(),
		}))
	}

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)
	assert.Nil(t, hasPattern(a, PatternRapidChanges))
}

func TestAssess_CircularDelegationIsCritical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Load a cycle directly, bypassing the creation-time check.
	old := time.Now().Add(-24 * time.Hour)
	edges := [][2]string{{addr(1), addr(2)}, {addr(2), addr(3)}, {addr(3), addr(1)}}
	for i, e := range edges {
		require.NoError(t, f.delegStore.Create(ctx, &delegation.Delegation{
			ID:        fmt.Sprintf("del_%d", i),
			Delegator: e[0],
			Delegate:  e[1],
			Amount:    "1",
			IsActive:  true,
			CreatedAt: old.Add(time.Duration(i) * time.Hour),
		}))
	}

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)

	p := hasPattern(a, PatternCircularDelegation)
	require.NotNil(t, p)
	assert.Equal(t, SeverityCritical, p.Severity)
	assert.GreaterOrEqual(t, a.RiskScore, 50.0)
	assert.Contains(t, a.Recommendations, "break circular delegation chains")
}

func TestAssess_HighUpdateVolumeFlagsUnusualActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 101; i++ {
		require.NoError(t, f.trustStore.AppendHistory(ctx, trust.ScoreSample{
			Address:    addr(1),
			Score:      0.5,
			RecordedAt: now.Add(-time.Duration(i) * time.Minute),
		}))
	}

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)

	p := hasPattern(a, PatternUnusualActivity)
	require.NotNil(t, p)
	assert.Equal(t, SeverityMedium, p.Severity)
	assert.InDelta(t, 24.0, a.RiskScore, 1e-9) // 0.8 * 30
}

func TestAssess_DelegationBurstFlagsCoordination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 2; i <= 4; i++ {
		_, err := f.delegSvc.Delegate(ctx, addr(1), addr(i), "1")
		require.NoError(t, err)
	}

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)
	assert.NotNil(t, hasPattern(a, PatternCoordinatedBehavior))
}

func TestAssess_RiskScoreClamped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Volatile history + cycle + burst all at once.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		score := 0.0
		if i%2 == 1 {
			score = 1.0
		}
		require.NoError(t, f.trustStore.AppendHistory(ctx, trust.ScoreSample{
			Address: addr(1), Score: score, RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	edges := [][2]string{{addr(1), addr(2)}, {addr(2), addr(3)}, {addr(3), addr(1)}}
	for i, e := range edges {
		require.NoError(t, f.delegStore.Create(ctx, &delegation.Delegation{
			ID: fmt.Sprintf("del_%d", i), Delegator: e[0], Delegate: e[1],
			Amount: "1", IsActive: true, CreatedAt: time.Now(),
		}))
	}

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)
	assert.LessOrEqual(t, a.RiskScore, 100.0)
}

func TestAssess_PersistsAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)

	stored, err := f.detector.Stored(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, a.RiskScore, stored.RiskScore)

	// Second call is served from cache: same LastAnalyzed timestamp.
	again, err := f.detector.Assess(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, a.LastAnalyzed, again.LastAnalyzed)
}

func TestRecommendations_Deduplicated(t *testing.T) {
	patterns := []SuspiciousPattern{
		{Type: PatternRapidChanges},
		{Type: PatternRapidChanges},
		{Type: PatternCircularDelegation},
	}
	recs := recommendationsFor(patterns)

	seen := make(map[string]bool)
	for _, r := range recs {
		assert.False(t, seen[r], "duplicate recommendation %q", r)
		seen[r] = true
	}
	assert.Len(t, recs, 4)
}
