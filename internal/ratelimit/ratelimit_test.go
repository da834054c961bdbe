package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Requests: 0, Window: time.Second}.Validate())
	assert.Error(t, Config{Requests: 1}.Validate())
}

func TestLocalLimiter(t *testing.T) {
	l, err := NewLocalLimiter(Config{Requests: 3, Window: time.Minute})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 20*time.Second, d.RetryAfter.Round(time.Second))

	// Other keys have their own budget.
	d, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// One token refills every 20s.
	now = now.Add(21 * time.Second)
	d, err = l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLocalLimiter_CleanupIdleKeys(t *testing.T) {
	l, err := NewLocalLimiter(Config{Requests: 1, Window: time.Second, MaxKeys: 2})
	require.NoError(t, err)

	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := l.Allow(context.Background(), fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, l.Keys())

	now = now.Add(5 * time.Second)
	_, err = l.Allow(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Keys())
}

func newRedisLimiter(t *testing.T, cfg Config) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	l, err := NewRedisLimiter(rdb, cfg)
	require.NoError(t, err)
	return l, mr
}

func TestRedisLimiter(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Requests: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	members, err := mr.ZMembers("rate_limit:ip:1.2.3.4")
	require.NoError(t, err)
	assert.Len(t, members, 3, "rejected requests are not logged")

	d, err = l.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_ServerDown(t *testing.T) {
	l, mr := newRedisLimiter(t, Config{Requests: 1, Window: time.Minute})
	mr.Close()

	_, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	rdb.Close()

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("boom")
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	l, err := NewLocalLimiter(Config{Requests: 2, Window: time.Hour})
	require.NoError(t, err)
	h := Middleware(l, IPKey, logger)(ok)

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, "2", last.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), `"rate_limited"`)

	// A different client is unaffected.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.8:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Limiter failures let the request through.
	rec = httptest.NewRecorder()
	Middleware(failingLimiter{}, nil, logger)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:1234"
	assert.Equal(t, "ip:198.51.100.1", IPKey(req))

	req.RemoteAddr = "no-port"
	assert.Equal(t, "ip:no-port", IPKey(req))
}
