package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the list holding call record ids awaiting processing.
const DefaultKey = "callsense:pending"

// RedisQueue is a wake-up signal for the worker, not the source of truth:
// a lost message only delays a record until the next polling cycle.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

// Notify pushes a record id for immediate processing.
func (q *RedisQueue) Notify(ctx context.Context, id string) error {
	if q == nil || q.rdb == nil {
		return errors.New("queue: redis client is nil")
	}
	if id == "" {
		return errors.New("queue: id is required")
	}
	if err := q.rdb.LPush(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("queue: push: %w", err)
	}
	return nil
}

// Pop blocks up to wait for the next id. ok is false when the wait elapsed empty.
func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (id string, ok bool, err error) {
	if q == nil || q.rdb == nil {
		return "", false, errors.New("queue: redis client is nil")
	}
	res, err := q.rdb.BRPop(ctx, wait, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("queue: pop: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", false, fmt.Errorf("queue: unexpected reply %v", res)
	}
	return res[1], true, nil
}

// Len reports the backlog size.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
