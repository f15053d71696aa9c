package delegation

import (
	"context"
	"database/sql"
)

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed delegation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, d *Delegation) error {
	const q = `
		INSERT INTO delegations (id, delegator, delegate, amount, depth, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.db.ExecContext(ctx, q,
		d.ID, d.Delegator, d.Delegate, d.Amount, d.Depth, d.IsActive, d.CreatedAt, d.ExpiresAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Delegation, error) {
	const q = `
		SELECT id, delegator, delegate, amount, depth, is_active, created_at, expires_at, revoked_at
		FROM delegations WHERE id = $1`

	var d Delegation
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.Delegator, &d.Delegate, &d.Amount, &d.Depth, &d.IsActive,
		&d.CreatedAt, &d.ExpiresAt, &d.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDelegationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) Update(ctx context.Context, d *Delegation) error {
	const q = `
		UPDATE delegations
		SET is_active = $2, revoked_at = $3
		WHERE id = $1`
	res, err := p.db.ExecContext(ctx, q, d.ID, d.IsActive, d.RevokedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDelegationNotFound
	}
	return nil
}

func (p *PostgresStore) Chain(ctx context.Context, address string) ([]*Delegation, error) {
	const q = `
		SELECT id, delegator, delegate, amount, depth, is_active, created_at, expires_at, revoked_at
		FROM delegations
		WHERE delegator = $1 OR delegate = $1
		ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, q, address)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Delegation
	for rows.Next() {
		var d Delegation
		if err := rows.Scan(&d.ID, &d.Delegator, &d.Delegate, &d.Amount, &d.Depth,
			&d.IsActive, &d.CreatedAt, &d.ExpiresAt, &d.RevokedAt); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ActiveEdges(ctx context.Context) (map[string][]string, error) {
	const q = `
		SELECT delegator, delegate FROM delegations
		WHERE is_active AND (expires_at IS NULL OR expires_at > now())`

	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	adj := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		adj[from] = append(adj[from], to)
	}
	return adj, rows.Err()
}
