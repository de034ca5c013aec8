// Package budget enforces a global spend ceiling across all providers.
//
// The Governor is consulted before a provider is contacted and only records
// spend once a call has actually completed. Its running total never
// decreases.
package budget

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Ledger persists the running total so it survives restarts and can be
// shared by several router instances.
type Ledger interface {
	// Load returns the persisted running total.
	Load(ctx context.Context) (float64, error)
	// Add increments the persisted total and returns the new value.
	Add(ctx context.Context, amount float64) (float64, error)
}

// Governor enforces the configured spend limit.
type Governor struct {
	mu    sync.Mutex
	limit float64
	total float64
	// pending holds the estimates of admitted calls still in flight.
	pending float64
	ledger  Ledger
	logger  *zap.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithLedger persists spend through l.
func WithLedger(l Ledger) Option {
	return func(g *Governor) {
		g.ledger = l
	}
}

// WithLogger sets the logger used for ledger failures.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Governor) {
		g.logger = logger
	}
}

// NewGovernor creates a governor. A limit of zero or less means unlimited.
func NewGovernor(limit float64, opts ...Option) *Governor {
	g := &Governor{
		limit:  limit,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Restore seeds the running total from the ledger. A lower persisted value
// is ignored.
func (g *Governor) Restore(ctx context.Context) error {
	if g.ledger == nil {
		return nil
	}
	total, err := g.ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load spend ledger: %w", err)
	}

	g.mu.Lock()
	if total > g.total {
		g.total = total
	}
	g.mu.Unlock()
	return nil
}

// CheckBudget reports whether estimatedCost fits under the limit. It never
// mutates the running total.
func (g *Governor) CheckBudget(estimatedCost float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limit <= 0 {
		return true
	}
	return g.total+estimatedCost <= g.limit
}

// Reserve admits a call estimated at estimatedCost when it fits under the
// limit together with every call already admitted. The returned release
// func drops the reservation and may be called more than once. The running
// total is not touched.
func (g *Governor) Reserve(estimatedCost float64) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limit > 0 && g.total+g.pending+estimatedCost > g.limit {
		return func() {}, false
	}
	if estimatedCost <= 0 {
		return func() {}, true
	}

	g.pending += estimatedCost
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.pending -= estimatedCost
			if g.pending < 0 {
				g.pending = 0
			}
			g.mu.Unlock()
		})
	}, true
}

// Pending returns the estimates currently reserved.
func (g *Governor) Pending() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Record adds the cost of a completed call. Non-positive amounts are
// ignored.
func (g *Governor) Record(ctx context.Context, cost float64) {
	if cost <= 0 {
		return
	}

	g.mu.Lock()
	g.total += cost
	g.mu.Unlock()

	if g.ledger == nil {
		return
	}
	shared, err := g.ledger.Add(ctx, cost)
	if err != nil {
		g.logger.Warn("Failed to persist spend", zap.Float64("cost", cost), zap.Error(err))
		return
	}

	g.mu.Lock()
	if shared > g.total {
		g.total = shared
	}
	g.mu.Unlock()
}

// Total returns the running total.
func (g *Governor) Total() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

// Limit returns the configured limit; zero or less means unlimited.
func (g *Governor) Limit() float64 {
	return g.limit
}

// Remaining returns the spend left under the limit, or -1 when unlimited.
func (g *Governor) Remaining() float64 {
	if g.limit <= 0 {
		return -1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.total >= g.limit {
		return 0
	}
	return g.limit - g.total
}
