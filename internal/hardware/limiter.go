package hardware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CodexShaper-Devs/license-sub000/internal/clock"
)

// AttemptLimiter counts attempts per key in a fixed window.
type AttemptLimiter interface {
	// Allow records one attempt for key and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps counters in process. It suits single-instance
// deployments and tests; multi-instance deployments use RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	clock   clock.Clock
	windows map[string]*attemptWindow
}

type attemptWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(max int, window time.Duration, clk clock.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		max:     max,
		window:  window,
		clock:   clk,
		windows: make(map[string]*attemptWindow),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &attemptWindow{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++

	// Drop expired windows so the map does not grow without bound.
	if len(l.windows) > 1024 {
		for k, other := range l.windows {
			if !now.Before(other.resetAt) {
				delete(l.windows, k)
			}
		}
	}
	return w.count <= l.max, nil
}

// RedisLimiter shares attempt counters between server instances.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: max, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + ":hw_attempts:" + key
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("increment attempt counter: %w", err)
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("set attempt window: %w", err)
		}
	}
	return n <= int64(l.max), nil
}
