package trust

import (
	"context"
	"database/sql"
	"time"
)

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed trust store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const metricsColumns = `
	address, transaction_success_rate, validator_uptime, network_participation,
	stake_consistency, delegation_quality, fraud_prevention_score, security_compliance,
	kyc_verification_level, time_on_network, environmental_contributions,
	governance_participation, community_voting_score, core_trust_score,
	created_at, last_updated`

func scanMetrics(row interface{ Scan(...interface{}) error }) (*CoreTrustMetrics, error) {
	var m CoreTrustMetrics
	err := row.Scan(
		&m.Address, &m.TransactionSuccessRate, &m.ValidatorUptime, &m.NetworkParticipation,
		&m.StakeConsistency, &m.DelegationQuality, &m.FraudPreventionScore, &m.SecurityCompliance,
		&m.KYCVerificationLevel, &m.TimeOnNetwork, &m.EnvironmentalContributions,
		&m.GovernanceParticipation, &m.CommunityVotingScore, &m.CoreTrustScore,
		&m.CreatedAt, &m.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PostgresStore) GetMetrics(ctx context.Context, address string) (*CoreTrustMetrics, error) {
	const q = `SELECT ` + metricsColumns + ` FROM trust_metrics WHERE address = $1`
	m, err := scanMetrics(p.db.QueryRowContext(ctx, q, address))
	if err == sql.ErrNoRows {
		return nil, ErrMetricsNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (p *PostgresStore) PutMetrics(ctx context.Context, m *CoreTrustMetrics) error {
	const q = `
		INSERT INTO trust_metrics (` + metricsColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (address) DO UPDATE SET
			transaction_success_rate = EXCLUDED.transaction_success_rate,
			validator_uptime = EXCLUDED.validator_uptime,
			network_participation = EXCLUDED.network_participation,
			stake_consistency = EXCLUDED.stake_consistency,
			delegation_quality = EXCLUDED.delegation_quality,
			fraud_prevention_score = EXCLUDED.fraud_prevention_score,
			security_compliance = EXCLUDED.security_compliance,
			kyc_verification_level = EXCLUDED.kyc_verification_level,
			time_on_network = EXCLUDED.time_on_network,
			environmental_contributions = EXCLUDED.environmental_contributions,
			governance_participation = EXCLUDED.governance_participation,
			community_voting_score = EXCLUDED.community_voting_score,
			core_trust_score = EXCLUDED.core_trust_score,
			last_updated = EXCLUDED.last_updated`

	_, err := p.db.ExecContext(ctx, q,
		m.Address, m.TransactionSuccessRate, m.ValidatorUptime, m.NetworkParticipation,
		m.StakeConsistency, m.DelegationQuality, m.FraudPreventionScore, m.SecurityCompliance,
		m.KYCVerificationLevel, m.TimeOnNetwork, m.EnvironmentalContributions,
		m.GovernanceParticipation, m.CommunityVotingScore, m.CoreTrustScore,
		m.CreatedAt, m.LastUpdated,
	)
	return err
}

func (p *PostgresStore) AppendHistory(ctx context.Context, sample ScoreSample) error {
	const q = `INSERT INTO score_history (address, score, recorded_at) VALUES ($1, $2, $3)`
	_, err := p.db.ExecContext(ctx, q, sample.Address, sample.Score, sample.RecordedAt)
	return err
}

func (p *PostgresStore) History(ctx context.Context, address string, limit int) ([]ScoreSample, error) {
	const q = `
		SELECT address, score, recorded_at
		FROM score_history
		WHERE address = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, q, address, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var samples []ScoreSample
	for rows.Next() {
		var s ScoreSample
		if err := rows.Scan(&s.Address, &s.Score, &s.RecordedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (p *PostgresStore) CountUpdatesSince(ctx context.Context, address string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM score_history WHERE address = $1 AND recorded_at > $2`
	var count int
	err := p.db.QueryRowContext(ctx, q, address, since).Scan(&count)
	return count, err
}

func (p *PostgresStore) ListMetrics(ctx context.Context) ([]*CoreTrustMetrics, error) {
	const q = `SELECT ` + metricsColumns + ` FROM trust_metrics ORDER BY address`

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*CoreTrustMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
