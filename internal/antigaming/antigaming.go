// Package antigaming evaluates score history and delegation behavior for
// manipulation patterns. Its output is advisory: detection failures degrade
// to a neutral assessment instead of failing the request.
package antigaming

import (
	"context"
	"errors"
	"time"
)

// ErrAssessmentNotFound is returned when no assessment has been stored for
// an address.
var ErrAssessmentNotFound = errors.New("assessment not found")

// PatternType classifies a suspicious behavior signal.
type PatternType string

const (
	PatternRapidChanges        PatternType = "rapid_changes"
	PatternCircularDelegation  PatternType = "circular_delegation"
	PatternUnusualActivity     PatternType = "unusual_activity"
	PatternCoordinatedBehavior PatternType = "coordinated_behavior"
)

// Severity grades a detected pattern.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SuspiciousPattern is one detected signal.
type SuspiciousPattern struct {
	Type        PatternType `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	DetectedAt  time.Time   `json:"detectedAt"`
}

// Assessment is the full gaming risk evaluation for one address.
// Recomputation supersedes the previous assessment; results are never merged.
type Assessment struct {
	Address         string              `json:"address"`
	Patterns        []SuspiciousPattern `json:"patterns"`
	RiskScore       float64             `json:"riskScore"` // [0,100]
	Recommendations []string            `json:"recommendations"`
	LastAnalyzed    time.Time           `json:"lastAnalyzed"`
}

// Store persists assessments for audit and analytics.
type Store interface {
	// SaveAssessment upserts the assessment for its address.
	SaveAssessment(ctx context.Context, a *Assessment) error
	// GetAssessment returns the stored assessment, or ErrAssessmentNotFound.
	GetAssessment(ctx context.Context, address string) (*Assessment, error)
	// CountHighRisk counts addresses whose stored risk score exceeds threshold.
	CountHighRisk(ctx context.Context, threshold float64) (int, error)
}
