package chat

import (
	"context"
	"sync"
	"time"

	"github.com/eldtechnologies/chatwire/internal/store"
)

// Visitor message throttle: max 10 messages per rolling 60 seconds.
const (
	VisitorMessageLimit  = 10
	VisitorMessageWindow = time.Minute
)

// Decision is the outcome of a rate-limit check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter throttles visitor messages. A deployment runs one logical
// limiter: RedisLimiter when instances share state, MemoryLimiter for a
// single process.
type Limiter interface {
	CheckAndRecord(ctx context.Context, visitorID string) (Decision, error)
}

// MemoryLimiter keeps a per-visitor ring of recent message timestamps,
// evicted lazily on each check.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewMemoryLimiter creates an in-process limiter with the standard
// visitor limits.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string][]time.Time),
		limit:   VisitorMessageLimit,
		window:  VisitorMessageWindow,
		now:     time.Now,
	}
}

// CheckAndRecord evicts expired timestamps, then either records the new
// message or rejects with the time until the oldest timestamp exits the
// window.
func (l *MemoryLimiter) CheckAndRecord(_ context.Context, visitorID string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	window := l.windows[visitorID]
	live := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= l.limit {
		l.windows[visitorID] = live
		retryAfter := live[0].Add(l.window).Sub(now)
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	l.windows[visitorID] = append(live, now)
	return Decision{Allowed: true}, nil
}

// RedisLimiter is the shared sliding window for multi-instance
// deployments, backed by a sorted set per visitor.
type RedisLimiter struct {
	redis  *store.RedisStore
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a limiter over the shared Redis store.
func NewRedisLimiter(rs *store.RedisStore) *RedisLimiter {
	return &RedisLimiter{
		redis:  rs,
		limit:  VisitorMessageLimit,
		window: VisitorMessageWindow,
	}
}

// CheckAndRecord delegates to the shared sliding window.
func (l *RedisLimiter) CheckAndRecord(ctx context.Context, visitorID string) (Decision, error) {
	key := "chatwire:ratelimit:visitor:" + visitorID
	allowed, retryAfter, err := l.redis.SlidingWindow(ctx, key, l.limit, l.window, time.Now())
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, RetryAfter: retryAfter}, nil
}
