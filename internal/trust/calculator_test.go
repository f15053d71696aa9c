package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeScore_HighPerformer(t *testing.T) {
	m := &CoreTrustMetrics{
		Address:                    "0xabc",
		TransactionSuccessRate:     0.9,
		ValidatorUptime:            0.99,
		NetworkParticipation:       0.85,
		StakeConsistency:           0.9,
		DelegationQuality:          0.88,
		FraudPreventionScore:       1.0,
		SecurityCompliance:         0.92,
		KYCVerificationLevel:       3,
		TimeOnNetwork:              31536000,
		EnvironmentalContributions: 0.75,
		GovernanceParticipation:    0.8,
		CommunityVotingScore:       0.85,
	}

	// base ~0.858 + time 0.10 + env 0.0375 + kyc 0.06 -> clamped to 1.0
	score := ComputeScore(m)
	assert.GreaterOrEqual(t, score, 0.97)
	assert.LessOrEqual(t, score, 1.0)
}

func TestComputeScore_Bounds(t *testing.T) {
	zero := &CoreTrustMetrics{}
	assert.Equal(t, 0.0, ComputeScore(zero))

	maxed := &CoreTrustMetrics{
		TransactionSuccessRate:     1, ValidatorUptime: 1, NetworkParticipation: 1,
		StakeConsistency:           1, DelegationQuality: 1, FraudPreventionScore: 1,
		SecurityCompliance:         1, GovernanceParticipation: 1, CommunityVotingScore: 1,
		KYCVerificationLevel:       5,
		TimeOnNetwork:              10 * secondsPerYear,
		EnvironmentalContributions: 1,
	}
	assert.Equal(t, 1.0, ComputeScore(maxed))
}

func TestComputeScore_TimeBonusCapped(t *testing.T) {
	short := &CoreTrustMetrics{TimeOnNetwork: secondsPerYear / 2}
	long := &CoreTrustMetrics{TimeOnNetwork: 100 * secondsPerYear}

	assert.InDelta(t, 0.05, ComputeScore(short), 1e-9)
	assert.InDelta(t, 0.10, ComputeScore(long), 1e-9)
}

func TestComputeScore_Pure(t *testing.T) {
	m := &CoreTrustMetrics{
		TransactionSuccessRate: 0.7,
		ValidatorUptime:        0.6,
		KYCVerificationLevel:   2,
	}
	first := ComputeScore(m)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputeScore(m))
	}
}

func TestDefaultMetrics(t *testing.T) {
	now := time.Now()
	m := DefaultMetrics("0xabc", now)

	assert.Equal(t, 0.5, m.TransactionSuccessRate)
	assert.Equal(t, 0.5, m.DelegationQuality)
	assert.Equal(t, 1.0, m.FraudPreventionScore)
	assert.Equal(t, 0, m.KYCVerificationLevel)
	assert.Equal(t, int64(0), m.TimeOnNetwork)
	assert.Equal(t, 0.0, m.GovernanceParticipation)
	assert.Equal(t, now, m.CreatedAt)

	// Derived score matches the formula applied to the defaults.
	assert.Equal(t, ComputeScore(m), m.CoreTrustScore)
	assert.GreaterOrEqual(t, m.CoreTrustScore, 0.0)
	assert.LessOrEqual(t, m.CoreTrustScore, 1.0)
}
