// Package trust owns the core trust metrics record and the score derived
// from it.
//
// Flow:
//  1. First reference to an address creates a default metrics record
//  2. Metric updates merge partial fields and recompute the core score
//  3. Every update appends a history sample used by gaming detection
//  4. Derived values (fraud, assessments, composites) are invalidated on update
package trust

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrMetricsNotFound = errors.New("trust metrics not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// MaxKYCLevel is the highest KYC verification tier.
const MaxKYCLevel = 5

// CoreTrustMetrics is the behavioral metrics record for one wallet address.
// All rate fields are normalized to [0,1]. CoreTrustScore is always a pure
// function of the other fields; it is never mutated independently.
type CoreTrustMetrics struct {
	Address                    string    `json:"address"`
	TransactionSuccessRate     float64   `json:"transactionSuccessRate"`
	ValidatorUptime            float64   `json:"validatorUptime"`
	NetworkParticipation       float64   `json:"networkParticipation"`
	StakeConsistency           float64   `json:"stakeConsistency"`
	DelegationQuality          float64   `json:"delegationQuality"`
	FraudPreventionScore       float64   `json:"fraudPreventionScore"`
	SecurityCompliance         float64   `json:"securityCompliance"`
	KYCVerificationLevel       int       `json:"kycVerificationLevel"`
	TimeOnNetwork              int64     `json:"timeOnNetwork"` // seconds
	EnvironmentalContributions float64   `json:"environmentalContributions"`
	GovernanceParticipation    float64   `json:"governanceParticipation"`
	CommunityVotingScore       float64   `json:"communityVotingScore"`
	CoreTrustScore             float64   `json:"coreTrustScore"`
	CreatedAt                  time.Time `json:"createdAt"`
	LastUpdated                time.Time `json:"lastUpdated"`
}

// DefaultMetrics returns the record created on first reference to an address.
// Rates start at the 0.5 mid-point, fraud prevention starts clean at 1.0,
// and accumulation-style fields (kyc, time, environmental, governance,
// voting) start at zero.
func DefaultMetrics(address string, now time.Time) *CoreTrustMetrics {
	m := &CoreTrustMetrics{
		Address:                address,
		TransactionSuccessRate: 0.5,
		ValidatorUptime:        0.5,
		NetworkParticipation:   0.5,
		StakeConsistency:       0.5,
		DelegationQuality:      0.5,
		FraudPreventionScore:   1.0,
		SecurityCompliance:     0.5,
		CreatedAt:              now,
		LastUpdated:            now,
	}
	m.CoreTrustScore = ComputeScore(m)
	return m
}

// ScoreSample is one historical core score observation.
type ScoreSample struct {
	Address    string    `json:"address"`
	Score      float64   `json:"score"`
	RecordedAt time.Time `json:"recordedAt"`
}

// UpdateRequest carries a partial metrics update. Nil fields are left
// untouched by the merge.
type UpdateRequest struct {
	TransactionSuccessRate     *float64 `json:"transactionSuccessRate,omitempty"`
	ValidatorUptime            *float64 `json:"validatorUptime,omitempty"`
	NetworkParticipation       *float64 `json:"networkParticipation,omitempty"`
	StakeConsistency           *float64 `json:"stakeConsistency,omitempty"`
	DelegationQuality          *float64 `json:"delegationQuality,omitempty"`
	FraudPreventionScore       *float64 `json:"fraudPreventionScore,omitempty"`
	SecurityCompliance         *float64 `json:"securityCompliance,omitempty"`
	KYCVerificationLevel       *int     `json:"kycVerificationLevel,omitempty"`
	TimeOnNetwork              *int64   `json:"timeOnNetwork,omitempty"`
	EnvironmentalContributions *float64 `json:"environmentalContributions,omitempty"`
	GovernanceParticipation    *float64 `json:"governanceParticipation,omitempty"`
	CommunityVotingScore       *float64 `json:"communityVotingScore,omitempty"`
}

// Store is the durable source of truth for metrics records and score history.
type Store interface {
	// GetMetrics returns the record for address, or ErrMetricsNotFound.
	GetMetrics(ctx context.Context, address string) (*CoreTrustMetrics, error)
	// PutMetrics upserts the record.
	PutMetrics(ctx context.Context, m *CoreTrustMetrics) error
	// AppendHistory records a score sample.
	AppendHistory(ctx context.Context, sample ScoreSample) error
	// History returns up to limit samples for address, most recent first.
	History(ctx context.Context, address string, limit int) ([]ScoreSample, error)
	// CountUpdatesSince counts history samples for address recorded after since.
	CountUpdatesSince(ctx context.Context, address string, since time.Time) (int, error)
	// ListMetrics returns a snapshot of every metrics record.
	ListMetrics(ctx context.Context) ([]*CoreTrustMetrics, error)
}
