package worker

import (
	"context"
	"time"

	"callsense/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// DefaultInflightKey holds the shared analyzer slot counter.
const DefaultInflightKey = "callsense:inflight"

// RedisLimiter is a Limiter shared by every worker pointed at the same Redis.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

// NewRedisLimiter caps concurrent analyzer calls at limit. ttl should cover the
// longest time a record can stay claimed; a slot whose holder never released it
// frees itself after ttl.
func NewRedisLimiter(rdb *redis.Client, key string, limit int, ttl time.Duration) *RedisLimiter {
	if key == "" {
		key = DefaultInflightKey
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, holder string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, holder, l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, holder string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key, holder)
}
