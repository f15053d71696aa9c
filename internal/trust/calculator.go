package trust

import "math"

// ScoreFormulaVersion identifies the weighting formula below. Downstream
// economic privileges depend on absolute score values, so any change to
// the weights must bump this version.
const ScoreFormulaVersion = 1

const secondsPerYear = 31536000

// ComputeScore derives the core trust score from a metrics record.
// Total and side-effect-free: every input produces a score in [0,1].
func ComputeScore(m *CoreTrustMetrics) float64 {
	base := 0.15*m.TransactionSuccessRate +
		0.15*m.ValidatorUptime +
		0.12*m.NetworkParticipation +
		0.10*m.StakeConsistency +
		0.08*m.DelegationQuality +
		0.15*m.FraudPreventionScore +
		0.10*m.SecurityCompliance +
		0.08*m.GovernanceParticipation +
		0.07*m.CommunityVotingScore

	timeBonus := math.Min(float64(m.TimeOnNetwork)/secondsPerYear, 0.10)
	envBonus := m.EnvironmentalContributions * 0.05
	kycBonus := float64(m.KYCVerificationLevel) / MaxKYCLevel * 0.10

	return math.Min(base+timeBonus+envBonus+kycBonus, 1.0)
}
