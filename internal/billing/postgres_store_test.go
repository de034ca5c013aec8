package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.values[i].(string)
		case *time.Time:
			*v = r.values[i].(time.Time)
		case *float64:
			*v = r.values[i].(float64)
		}
	}
	return nil
}

type fakeDB struct {
	lastSQL  string
	lastArgs []any
	row      fakeRow
	execErr  error
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.lastSQL = sql
	db.lastArgs = args
	return db.row
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.lastSQL = sql
	return pgconn.CommandTag{}, db.execErr
}

func TestPostgresStore_LogUsage(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	db := &fakeDB{row: fakeRow{values: []any{"usage-1", created}}}
	store := NewPostgresStore(db)

	record := &UsageRecord{RequestID: "r1", Provider: "openai", Model: "gpt-4o-mini", TokensUsed: 20, CostUSD: 0.01, LatencyMs: 120}
	require.NoError(t, store.LogUsage(context.Background(), record))

	assert.Equal(t, "usage-1", record.ID)
	assert.Equal(t, created, record.CreatedAt)
	assert.True(t, strings.Contains(db.lastSQL, "INSERT INTO completion_usage"))
	require.Len(t, db.lastArgs, 10)
	assert.Equal(t, "openai", db.lastArgs[3])
	assert.Equal(t, 20, db.lastArgs[5])
}

func TestPostgresStore_LogUsageError(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: errors.New("connection reset")}}
	err := NewPostgresStore(db).LogUsage(context.Background(), &UsageRecord{Provider: "openai"})
	assert.ErrorContains(t, err, "failed to log usage")
}

func TestPostgresStore_TotalCost(t *testing.T) {
	db := &fakeDB{row: fakeRow{values: []any{12.5}}}
	total, err := NewPostgresStore(db).TotalCost(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 12.5, total)
}

func TestPostgresStore_Migrate(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	assert.Contains(t, db.lastSQL, "CREATE TABLE IF NOT EXISTS completion_usage")

	db.execErr = errors.New("denied")
	assert.Error(t, NewPostgresStore(db).Migrate(context.Background()))
}
