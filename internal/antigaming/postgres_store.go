package antigaming

import (
	"context"
	"database/sql"
	"encoding/json"
)

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Patterns and
// recommendations are stored as JSONB documents.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) SaveAssessment(ctx context.Context, a *Assessment) error {
	patterns, err := json.Marshal(a.Patterns)
	if err != nil {
		return err
	}
	recommendations, err := json.Marshal(a.Recommendations)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO gaming_assessments (address, risk_score, patterns, recommendations, last_analyzed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			patterns = EXCLUDED.patterns,
			recommendations = EXCLUDED.recommendations,
			last_analyzed = EXCLUDED.last_analyzed`
	_, err = p.db.ExecContext(ctx, q, a.Address, a.RiskScore, patterns, recommendations, a.LastAnalyzed)
	return err
}

func (p *PostgresStore) GetAssessment(ctx context.Context, address string) (*Assessment, error) {
	const q = `
		SELECT address, risk_score, patterns, recommendations, last_analyzed
		FROM gaming_assessments WHERE address = $1`

	var (
		a               Assessment
		patterns        []byte
		recommendations []byte
	)
	err := p.db.QueryRowContext(ctx, q, address).Scan(
		&a.Address, &a.RiskScore, &patterns, &recommendations, &a.LastAnalyzed)
	if err == sql.ErrNoRows {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(patterns, &a.Patterns); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recommendations, &a.Recommendations); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) CountHighRisk(ctx context.Context, threshold float64) (int, error) {
	const q = `SELECT COUNT(*) FROM gaming_assessments WHERE risk_score > $1`
	var count int
	err := p.db.QueryRowContext(ctx, q, threshold).Scan(&count)
	return count, err
}
