package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the push_endpoints table when it does not exist.
const Schema = `
	CREATE TABLE IF NOT EXISTS push_endpoints (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		platform    TEXT NOT NULL,
		token       TEXT NOT NULL UNIQUE,
		device_name TEXT,
		app_version TEXT,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS push_endpoints_user_id_idx ON push_endpoints (user_id);
`

const endpointColumns = `id, user_id, platform, token, device_name, app_version, created_at, updated_at`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL endpoint repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate applies Schema.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("creating push_endpoints: %w", err)
	}
	return nil
}

// Get retrieves an endpoint by user ID and endpoint ID.
func (r *PostgresRepository) Get(ctx context.Context, userID, endpointID string) (*Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM push_endpoints WHERE id = $1 AND user_id = $2`
	return scanEndpoint(r.pool.QueryRow(ctx, query, endpointID, userID))
}

// GetByToken retrieves an endpoint by token.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM push_endpoints WHERE token = $1`
	return scanEndpoint(r.pool.QueryRow(ctx, query, token))
}

// ListByUser retrieves all endpoints for a user.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM push_endpoints WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []*Endpoint
	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return endpoints, nil
}

// Upsert creates or updates an endpoint based on the token. The existing row
// keeps its ID so re-registering a token yields the same endpoint.
func (r *PostgresRepository) Upsert(ctx context.Context, endpoint *Endpoint) (*Endpoint, bool, error) {
	query := `
		INSERT INTO push_endpoints (` + endpointColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			device_name = EXCLUDED.device_name,
			app_version = EXCLUDED.app_version,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + endpointColumns + `, (xmax = 0) AS inserted
	`

	var (
		stored   Endpoint
		inserted bool
	)
	err := r.pool.QueryRow(ctx, query,
		endpoint.ID,
		endpoint.UserID,
		endpoint.Platform,
		endpoint.Token,
		endpoint.DeviceName,
		endpoint.AppVersion,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	).Scan(
		&stored.ID,
		&stored.UserID,
		&stored.Platform,
		&stored.Token,
		&stored.DeviceName,
		&stored.AppVersion,
		&stored.CreatedAt,
		&stored.UpdatedAt,
		&inserted,
	)
	if err != nil {
		return nil, false, err
	}

	return &stored, inserted, nil
}

// Delete deletes an endpoint.
func (r *PostgresRepository) Delete(ctx context.Context, userID, endpointID string) error {
	query := `DELETE FROM push_endpoints WHERE id = $1 AND user_id = $2`

	result, err := r.pool.Exec(ctx, query, endpointID, userID)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}

	return nil
}

// DeleteByUser deletes all endpoints for a user.
func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM push_endpoints WHERE user_id = $1`, userID)
	return err
}

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var endpoint Endpoint

	err := row.Scan(
		&endpoint.ID,
		&endpoint.UserID,
		&endpoint.Platform,
		&endpoint.Token,
		&endpoint.DeviceName,
		&endpoint.AppVersion,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEndpointNotFound
		}
		return nil, err
	}

	return &endpoint, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
