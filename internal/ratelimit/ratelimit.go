// Package ratelimit implements fixed-window request counters keyed by caller.
// Redis holds the counters when available; a process-local LRU takes over
// when it is not configured or stops answering.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter admits at most limit hits per key within window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type bucket struct {
	count     int
	expiresAt time.Time
}

// Memory is an in-process fixed-window limiter
type Memory struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]
	now     func() time.Time
}

// NewMemory keeps up to size keys; idle keys are evicted after ttl.
func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{
		buckets: expirable.NewLRU[string, *bucket](size, nil, ttl),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets.Get(key)
	if !ok || now.After(b.expiresAt) {
		m.buckets.Add(key, &bucket{count: 1, expiresAt: now.Add(window)})
		return limit >= 1
	}
	b.count++
	return b.count <= limit
}

// windowScript increments the counter and starts its window in one atomic
// step. A counter found without a TTL gets one, so a key can never outlive
// its window.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Redis counts hits per key in a Redis counter that expires with the window.
type Redis struct {
	rdb      *redis.Client
	fallback Limiter
	log      *zap.Logger
}

func NewRedis(rdb *redis.Client, fallback Limiter, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{rdb: rdb, fallback: fallback, log: log}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	key = "ratelimit:" + key
	current, err := windowScript.Run(ctx, r.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		r.log.Warn("Rate limit counter unavailable, using fallback", zap.String("key", key), zap.Error(err))
		return r.allowFallback(ctx, key, limit, window)
	}
	return current <= int64(limit)
}

func (r *Redis) allowFallback(ctx context.Context, key string, limit int, window time.Duration) bool {
	if r.fallback == nil {
		return true
	}
	return r.fallback.Allow(ctx, key, limit, window)
}
