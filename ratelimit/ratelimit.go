// Package ratelimit limits requests per caller.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every instance using the
// same redis.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	requests int64
	window   time.Duration
	now      func() time.Time
}

func NewRedisLimiter(client *redis.Client, serviceName string, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		prefix:   fmt.Sprintf("service:%s|ratelimit", serviceName),
		requests: int64(requests),
		window:   window,
		now:      time.Now,
	}
}

func (r *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	r.now = now
	return r
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := r.now().UnixNano() / int64(r.window)
	name := fmt.Sprintf("%s|%s|%d", r.prefix, key, slot)

	n, err := r.client.Incr(ctx, name).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := r.client.Expire(ctx, name, r.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= r.requests, nil
}

// MemoryLimiter is a per-key token bucket local to this process.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// maxKeys bounds memory before idle buckets are swept.
const maxKeys = 10000

// NewMemoryLimiter allows requests per window, with bursts of up to requests.
func NewMemoryLimiter(requests int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		idle:    window,
		entries: map[string]*entry{},
		now:     time.Now,
	}
}

func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.now = now
	return m
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok {
		if len(m.entries) >= maxKeys {
			m.sweep(now)
		}
		e = &entry{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// sweep drops buckets idle long enough to have refilled.
func (m *MemoryLimiter) sweep(now time.Time) {
	for k, e := range m.entries {
		if now.Sub(e.lastSeen) > m.idle {
			delete(m.entries, k)
		}
	}
}
