package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
)

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. The factor
// breakdown is stored as a JSONB document.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed fraud score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) SaveScore(ctx context.Context, s *Score) error {
	factors, err := json.Marshal(s.Factors)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO fraud_scores (wallet, score, factors, last_calculated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet) DO UPDATE SET
			score = EXCLUDED.score,
			factors = EXCLUDED.factors,
			last_calculated = EXCLUDED.last_calculated`
	_, err = p.db.ExecContext(ctx, q, s.Wallet, s.Score, factors, s.LastCalculated)
	return err
}

func (p *PostgresStore) GetScore(ctx context.Context, wallet string) (*Score, error) {
	const q = `SELECT wallet, score, factors, last_calculated FROM fraud_scores WHERE wallet = $1`

	var (
		s       Score
		factors []byte
	)
	err := p.db.QueryRowContext(ctx, q, wallet).Scan(&s.Wallet, &s.Score, &factors, &s.LastCalculated)
	if err == sql.ErrNoRows {
		return nil, ErrScoreNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(factors, &s.Factors); err != nil {
		return nil, err
	}
	return &s, nil
}
