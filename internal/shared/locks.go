package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld indicates another holder owns the lock.
var ErrLockHeld = errors.New("lock already held")

// BatchLockKey builds the redis key guarding receipt batch runs for a branch.
// An empty branch means a run across all branches.
func BatchLockKey(branch string) string {
	if branch == "" {
		branch = "all"
	}
	return fmt.Sprintf("receipts:batch:%s:lock", branch)
}

// BatchLockPattern matches every batch lock key, branch and all-branch alike.
const BatchLockPattern = "receipts:batch:*:lock"

// ReleaseFunc releases a held lock.
type ReleaseFunc func(ctx context.Context) error

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker hands out single-holder locks with an expiry.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker constructs the locker.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock acquires key for ttl or returns ErrLockHeld without waiting.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	if key == "" {
		return nil, errors.New("lock key required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

// Held lists the keys matching pattern that are currently locked.
func (l *RedisLocker) Held(ctx context.Context, pattern string) ([]string, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	var keys []string
	iter := l.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan locks %s: %w", pattern, err)
	}
	return keys, nil
}
