package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLimiter is a sliding window log kept in one sorted set per key, so
// every instance sharing the Redis server shares the budget.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	config Config
	prefix string
}

// NewRedisLimiter uses rdb, which the caller owns and closes.
func NewRedisLimiter(rdb redis.UniversalClient, config Config) (*RedisLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{
		rdb:    rdb,
		config: config,
		prefix: "rate_limit:",
	}, nil
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.prefix + key
	now := time.Now()
	windowStart := now.Add(-l.config.Window)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+strconv.FormatInt(windowStart.UnixMicro(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("checking rate limit: %w", err)
	}

	count := int(countCmd.Val())
	d := Decision{Limit: l.config.Requests}
	if count >= l.config.Requests {
		d.RetryAfter = l.config.Window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			expires := time.UnixMicro(int64(oldest[0].Score)).Add(l.config.Window)
			d.RetryAfter = max(expires.Sub(now), time.Millisecond)
		}
		return d, nil
	}

	pipe = l.rdb.TxPipeline()
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: uuid.NewString(),
	})
	pipe.PExpire(ctx, redisKey, l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("recording request: %w", err)
	}

	d.Allowed = true
	d.Remaining = l.config.Requests - count - 1
	return d, nil
}

var _ Limiter = (*RedisLimiter)(nil)
