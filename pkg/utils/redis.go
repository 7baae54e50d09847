package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig is the client setup shared by the wake-up queue and the inflight cap.
// Zero values fall back to defaults sized for a handful of BLPOP consumers.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize    int
	DialTimeout time.Duration
	// IOTimeout applies to reads and writes. BLPOP callers pass their own deadline.
	IOTimeout   time.Duration
	IdleTimeout time.Duration
	PingTimeout time.Duration
}

func (c RedisConfig) options() *redis.Options {
	opt := &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		PoolSize:        c.PoolSize,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.IOTimeout,
		WriteTimeout:    c.IOTimeout,
		ConnMaxIdleTime: c.IdleTimeout,
		// Honor caller deadlines, including on blocking pops.
		ContextTimeoutEnabled: true,
	}
	if opt.PoolSize <= 0 {
		opt.PoolSize = 16
	}
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = 3 * time.Second
	}
	if opt.ReadTimeout <= 0 {
		opt.ReadTimeout = 3 * time.Second
		opt.WriteTimeout = 3 * time.Second
	}
	if opt.ConnMaxIdleTime <= 0 {
		opt.ConnMaxIdleTime = 5 * time.Minute
	}
	return opt
}

// OpenRedis builds a client and fails fast if the server does not answer PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(cfg.options())

	wait := cfg.PingTimeout
	if wait <= 0 {
		wait = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Each holder is a sorted-set member scored by its own expiry. Expired members
// are pruned before counting, so a crashed holder frees its slot one ttl after
// its take no matter how often others take slots.
var takeSlot = redis.NewScript(`
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
if redis.call('ZSCORE', KEYS[1], ARGV[4]) == false and redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], now + tonumber(ARGV[3]), ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var giveSlot = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// AcquireConcurrencyCap takes one of limit slots under key for holder, held for
// at most ttl. It reports false without error when every slot is held.
func AcquireConcurrencyCap(ctx context.Context, rdb *redis.Client, key, holder string, limit int, ttl time.Duration) (bool, error) {
	switch {
	case rdb == nil:
		return false, errors.New("redis client is nil")
	case key == "" || holder == "":
		return false, errors.New("cap key and holder are required")
	case limit <= 0:
		return false, fmt.Errorf("cap limit must be > 0, got %d", limit)
	case ttl <= 0:
		return false, fmt.Errorf("cap ttl must be > 0, got %s", ttl)
	}
	now := time.Now().UnixMilli()
	n, err := takeSlot.Run(ctx, rdb, []string{key}, now, limit, ttl.Milliseconds(), holder).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return n == 1, nil
}

// ReleaseConcurrencyCap hands back holder's slot. Releasing a slot that already
// expired is a no-op.
func ReleaseConcurrencyCap(ctx context.Context, rdb *redis.Client, key, holder string) error {
	if rdb == nil || key == "" || holder == "" {
		return errors.New("redis client, cap key and holder are required")
	}
	if err := giveSlot.Run(ctx, rdb, []string{key}, holder).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
