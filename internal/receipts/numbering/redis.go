package numbering

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "receipts:docseq:"

// counterTTL keeps a monthly counter well past its month.
const counterTTL = 400 * 24 * time.Hour

// RedisAllocator uses INCR, which is atomic per key.
type RedisAllocator struct {
	client redis.UniversalClient
}

// NewRedisAllocator constructs the allocator.
func NewRedisAllocator(client redis.UniversalClient) *RedisAllocator {
	return &RedisAllocator{client: client}
}

// Next implements Allocator.
func (a *RedisAllocator) Next(ctx context.Context, scope Scope) (int64, error) {
	if a == nil || a.client == nil {
		return 0, errors.New("numbering: redis allocator not initialised")
	}
	key := redisKeyPrefix + scope.Key()
	seq, err := a.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if seq == 1 {
		if err := a.client.Expire(ctx, key, counterTTL).Err(); err != nil {
			return 0, err
		}
	}
	return seq, nil
}
