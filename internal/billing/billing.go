// Package billing records completed calls for later accounting.
package billing

import (
	"context"
	"time"
)

// UsageRecord describes one completed provider call.
type UsageRecord struct {
	ID         string
	RequestID  string
	UserID     string
	SessionID  string
	Provider   string
	Model      string
	TokensUsed int
	CostUSD    float64
	LatencyMs  int64
	Fallback   bool
	ErrorKind  string
	CreatedAt  time.Time
}

// Store persists usage records.
type Store interface {
	LogUsage(ctx context.Context, record *UsageRecord) error
	TotalCost(ctx context.Context, from, to time.Time) (float64, error)
}
