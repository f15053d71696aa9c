// Package fraud combines gaming-risk output and core metrics into a single
// fraud likelihood per address. Like the gaming assessment, the score is
// advisory and never blocks a request on computation failure.
package fraud

import (
	"context"
	"errors"
	"time"
)

// ErrScoreNotFound is returned when no fraud score has been stored for
// an address.
var ErrScoreNotFound = errors.New("fraud score not found")

// Factor weights. Fixed by policy; the factor breakdown is persisted so
// every historical score can be audited against them.
const (
	weightPatternRisk        = 0.4
	weightTransactionFailure = 0.3
	weightDelegationPenalty  = 0.3
)

// Score is the fraud likelihood for one address with its weighted factor
// breakdown.
type Score struct {
	Wallet         string             `json:"wallet"`
	Score          float64            `json:"score"` // [0,1]
	Factors        map[string]float64 `json:"factors"`
	LastCalculated time.Time          `json:"lastCalculated"`
}

// Store persists fraud scores and their factor breakdowns.
type Store interface {
	// SaveScore upserts the score for its wallet.
	SaveScore(ctx context.Context, s *Score) error
	// GetScore returns the stored score, or ErrScoreNotFound.
	GetScore(ctx context.Context, wallet string) (*Score, error)
}
