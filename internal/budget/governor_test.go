package budget

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLedger struct {
	mu    sync.Mutex
	total float64
	err   error
}

func (l *memoryLedger) Load(ctx context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total, l.err
}

func (l *memoryLedger) Add(ctx context.Context, amount float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.total += amount
	return l.total, nil
}

func TestGovernor_Unlimited(t *testing.T) {
	g := NewGovernor(0)
	assert.True(t, g.CheckBudget(1e9))
	assert.Equal(t, -1.0, g.Remaining())
}

func TestGovernor_RejectionDoesNotMutate(t *testing.T) {
	g := NewGovernor(100.00)
	g.Record(context.Background(), 99.99)

	assert.False(t, g.CheckBudget(0.02))
	assert.False(t, g.CheckBudget(5))
	assert.True(t, g.CheckBudget(0.005))
	assert.Equal(t, 99.99, g.Total())
}

func TestGovernor_ReserveCountsInFlightCalls(t *testing.T) {
	g := NewGovernor(0.01)

	release1, ok := g.Reserve(0.007)
	require.True(t, ok)
	_, ok = g.Reserve(0.007)
	assert.False(t, ok, "a second call would overshoot while the first is in flight")
	assert.InDelta(t, 0.007, g.Pending(), 1e-12)
	assert.Zero(t, g.Total())

	g.Record(context.Background(), 0.002)
	release1()
	release1()
	assert.Zero(t, g.Pending())

	release2, ok := g.Reserve(0.007)
	require.True(t, ok)
	release2()
	_, ok = g.Reserve(0.009)
	assert.False(t, ok)
	assert.Equal(t, 0.002, g.Total())
}

func TestGovernor_ConcurrentReserveNeverOvershoots(t *testing.T) {
	g := NewGovernor(0.01)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := g.Reserve(0.007)
			if !ok {
				return
			}
			defer release()
			g.Record(context.Background(), 0.007)
			mu.Lock()
			admitted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.LessOrEqual(t, g.Total(), g.Limit())
	assert.Zero(t, g.Pending())
}

func TestGovernor_RecordIsMonotonic(t *testing.T) {
	g := NewGovernor(10)
	g.Record(context.Background(), 2)
	g.Record(context.Background(), -1)
	g.Record(context.Background(), 0)
	assert.Equal(t, 2.0, g.Total())
	assert.Equal(t, 8.0, g.Remaining())
}

func TestGovernor_ConcurrentRecord(t *testing.T) {
	g := NewGovernor(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Record(context.Background(), 0.5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50.0, g.Total())
}

func TestGovernor_LedgerRestoreAndShare(t *testing.T) {
	ledger := &memoryLedger{total: 40}
	g := NewGovernor(50, WithLedger(ledger))
	require.NoError(t, g.Restore(context.Background()))
	assert.Equal(t, 40.0, g.Total())

	// another instance spent through the same ledger
	ledger.total += 5
	g.Record(context.Background(), 1)
	assert.Equal(t, 46.0, g.Total())
	assert.False(t, g.CheckBudget(5))
}

func TestGovernor_LedgerFailureKeepsLocalTotal(t *testing.T) {
	ledger := &memoryLedger{err: errors.New("down")}
	g := NewGovernor(10, WithLedger(ledger))
	assert.Error(t, g.Restore(context.Background()))

	g.Record(context.Background(), 3)
	assert.Equal(t, 3.0, g.Total())
}

func TestRedisLedger(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := "semaroute:test:spend"
	require.NoError(t, client.Del(ctx, key).Err())

	ledger := NewRedisLedger(client, key)
	total, err := ledger.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	total, err = ledger.Add(ctx, 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, total, 1e-9)

	total, err = ledger.Load(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, total, 1e-9)
}
