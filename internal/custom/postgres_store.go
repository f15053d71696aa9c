package custom

import (
	"context"
	"database/sql"
	"encoding/json"
)

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Schemas are stored
// as JSONB documents; field values are relational for cheap per-wallet reads.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed custom metrics store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) SaveSchema(ctx context.Context, s *Schema) error {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return err
	}
	aggregation, err := json.Marshal(s.Aggregation)
	if err != nil {
		return err
	}
	validation, err := json.Marshal(s.Validation)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO custom_schemas (app_id, developer_id, fields, aggregation, validation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (app_id) DO UPDATE SET
			developer_id = EXCLUDED.developer_id,
			fields = EXCLUDED.fields,
			aggregation = EXCLUDED.aggregation,
			validation = EXCLUDED.validation,
			updated_at = EXCLUDED.updated_at`
	_, err = p.db.ExecContext(ctx, q,
		s.AppID, s.DeveloperID, fields, aggregation, validation, s.CreatedAt, s.UpdatedAt)
	return err
}

func (p *PostgresStore) GetSchema(ctx context.Context, appID string) (*Schema, error) {
	const q = `
		SELECT app_id, developer_id, fields, aggregation, validation, created_at, updated_at
		FROM custom_schemas WHERE app_id = $1`

	var (
		s           Schema
		fields      []byte
		aggregation []byte
		validation  []byte
	)
	err := p.db.QueryRowContext(ctx, q, appID).Scan(
		&s.AppID, &s.DeveloperID, &fields, &aggregation, &validation, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSchemaNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fields, &s.Fields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(aggregation, &s.Aggregation); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(validation, &s.Validation); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) SetFieldValue(ctx context.Context, v FieldValue) error {
	const q = `
		INSERT INTO custom_field_values (wallet, app_id, field, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet, app_id, field) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`
	_, err := p.db.ExecContext(ctx, q, v.Wallet, v.AppID, v.Field, v.Value, v.UpdatedAt)
	return err
}

func (p *PostgresStore) FieldValues(ctx context.Context, wallet, appID string) (map[string]float64, error) {
	const q = `SELECT field, value FROM custom_field_values WHERE wallet = $1 AND app_id = $2`

	rows, err := p.db.QueryContext(ctx, q, wallet, appID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			field string
			value float64
		)
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = value
	}
	return out, rows.Err()
}
