package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// LocalLimiter is a token bucket per key, refilled at Requests/Window and
// holding at most Requests tokens.
type LocalLimiter struct {
	mu       sync.Mutex
	config   Config
	limit    rate.Limit
	limiters map[string]*limiterEntry

	lastCleanup time.Time
	now         func() time.Time
}

func NewLocalLimiter(config Config) (*LocalLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = DefaultConfig().MaxKeys
	}
	return &LocalLimiter{
		config:      config,
		limit:       rate.Limit(float64(config.Requests) / config.Window.Seconds()),
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	lim := l.limiterFor(key, now)

	d := Decision{Limit: l.config.Requests}
	if lim.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = max(int(lim.TokensAt(now)), 0)
		return d, nil
	}

	missing := 1 - lim.TokensAt(now)
	d.RetryAfter = time.Duration(missing / float64(l.limit) * float64(time.Second))
	return d, nil
}

func (l *LocalLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.config.Window {
		l.cleanup(now)
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.config.Requests)}
		l.limiters[key] = entry
		if len(l.limiters) > l.config.MaxKeys {
			l.cleanup(now)
		}
	}
	entry.lastUsed = now
	return entry.limiter
}

// cleanup drops keys idle for a full window; their buckets are full again
// anyway.
func (l *LocalLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.Window)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

// Keys reports how many keys are tracked.
func (l *LocalLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

var _ Limiter = (*LocalLimiter)(nil)
