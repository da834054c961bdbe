// Package ratelimit throttles requests per client, either in process or
// shared across instances through Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Decision is the result of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long a rejected caller should wait. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config describes a budget of Requests per Window for every key.
type Config struct {
	Requests int
	Window   time.Duration
	// MaxKeys bounds the number of keys the local limiter tracks before it
	// evicts idle ones. Ignored by the Redis limiter.
	MaxKeys int
}

func DefaultConfig() Config {
	return Config{
		Requests: 100,
		Window:   time.Minute,
		MaxKeys:  10000,
	}
}

func (c Config) Validate() error {
	if c.Requests < 1 {
		return errors.New("rate limit requests must be at least 1")
	}
	if c.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	return nil
}
