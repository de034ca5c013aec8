package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultLedgerKey is the redis key holding the shared running total.
const DefaultLedgerKey = "semaroute:spend:total"

// RedisLedger stores the running total in a single redis float counter.
type RedisLedger struct {
	client redis.Cmdable
	key    string
}

// NewRedisLedger creates a ledger on client. An empty key selects
// DefaultLedgerKey.
func NewRedisLedger(client redis.Cmdable, key string) *RedisLedger {
	if key == "" {
		key = DefaultLedgerKey
	}
	return &RedisLedger{client: client, key: key}
}

// Load returns the persisted total, zero when the key does not exist.
func (l *RedisLedger) Load(ctx context.Context) (float64, error) {
	total, err := l.client.Get(ctx, l.key).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", l.key, err)
	}
	return total, nil
}

// Add increments the persisted total.
func (l *RedisLedger) Add(ctx context.Context, amount float64) (float64, error) {
	total, err := l.client.IncrByFloat(ctx, l.key, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incrbyfloat %s: %w", l.key, err)
	}
	return total, nil
}
