package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the usage table.
const Schema = `
CREATE TABLE IF NOT EXISTS completion_usage (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	request_id  TEXT NOT NULL DEFAULT '',
	user_id     TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
	latency_ms  BIGINT NOT NULL DEFAULT 0,
	fallback    BOOLEAN NOT NULL DEFAULT FALSE,
	error_kind  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore writes usage records to PostgreSQL.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the usage table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create usage table: %w", err)
	}
	return nil
}

// LogUsage inserts record and fills in its ID and CreatedAt.
func (s *PostgresStore) LogUsage(ctx context.Context, record *UsageRecord) error {
	query := `
		INSERT INTO completion_usage (request_id, user_id, session_id, provider, model, tokens_used, cost_usd, latency_ms, fallback, error_kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		record.RequestID, record.UserID, record.SessionID, record.Provider, record.Model,
		record.TokensUsed, record.CostUSD, record.LatencyMs, record.Fallback, record.ErrorKind,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}
	return nil
}

// TotalCost sums the recorded cost between from and to.
func (s *PostgresStore) TotalCost(ctx context.Context, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM completion_usage
		WHERE created_at BETWEEN $1 AND $2
	`
	var total float64
	if err := s.db.QueryRow(ctx, query, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}
	return total, nil
}
