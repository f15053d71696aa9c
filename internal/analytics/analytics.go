// Package analytics computes read-side summaries across all wallets.
// Aggregation works on a snapshot of the score store and never blocks
// concurrent per-wallet updates.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/meshtrust/trustd/internal/antigaming"
	"github.com/meshtrust/trustd/internal/trust"
)

// suspiciousRiskThreshold is the stored risk score above which a wallet
// counts as suspicious activity.
const suspiciousRiskThreshold = 50.0

// topPerformerCount bounds the top-performers list.
const topPerformerCount = 10

// Distribution buckets wallets by score band.
type Distribution struct {
	Excellent int `json:"excellent"` // >= 0.8
	Good      int `json:"good"`      // 0.6 - 0.8
	Average   int `json:"average"`   // 0.4 - 0.6
	Poor      int `json:"poor"`      // 0.2 - 0.4
	Failing   int `json:"failing"`   // < 0.2
}

// Performer is one entry in the top-performers list.
type Performer struct {
	Address string  `json:"address"`
	Score   float64 `json:"score"`
}

// Summary is the network-wide trust overview.
type Summary struct {
	TotalWallets            int          `json:"totalWallets"`
	AverageTrustScore       float64      `json:"averageTrustScore"`
	Distribution            Distribution `json:"distribution"`
	TopPerformers           []Performer  `json:"topPerformers"`
	SuspiciousActivityCount int          `json:"suspiciousActivityCount"`
	GeneratedAt             time.Time    `json:"generatedAt"`
}

// Aggregator computes summaries from the score store and persisted
// assessments.
type Aggregator struct {
	trust       *trust.Service
	assessments antigaming.Store
}

// NewAggregator creates an analytics aggregator.
func NewAggregator(ts *trust.Service, assessments antigaming.Store) *Aggregator {
	return &Aggregator{trust: ts, assessments: assessments}
}

// Summarize scans every wallet's metrics and the stored risk assessments.
func (a *Aggregator) Summarize(ctx context.Context) (*Summary, error) {
	records, err := a.trust.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		TotalWallets:  len(records),
		TopPerformers: []Performer{},
		GeneratedAt:   time.Now().UTC(),
	}

	var total float64
	performers := make([]Performer, 0, len(records))
	for _, m := range records {
		total += m.CoreTrustScore
		performers = append(performers, Performer{Address: m.Address, Score: m.CoreTrustScore})

		switch {
		case m.CoreTrustScore >= 0.8:
			s.Distribution.Excellent++
		case m.CoreTrustScore >= 0.6:
			s.Distribution.Good++
		case m.CoreTrustScore >= 0.4:
			s.Distribution.Average++
		case m.CoreTrustScore >= 0.2:
			s.Distribution.Poor++
		default:
			s.Distribution.Failing++
		}
	}
	if len(records) > 0 {
		s.AverageTrustScore = total / float64(len(records))
	}

	sort.Slice(performers, func(i, j int) bool {
		if performers[i].Score != performers[j].Score {
			return performers[i].Score > performers[j].Score
		}
		return performers[i].Address < performers[j].Address
	})
	if len(performers) > topPerformerCount {
		performers = performers[:topPerformerCount]
	}
	s.TopPerformers = performers

	suspicious, err := a.assessments.CountHighRisk(ctx, suspiciousRiskThreshold)
	if err != nil {
		return nil, err
	}
	s.SuspiciousActivityCount = suspicious

	return s, nil
}
