package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"microchallenges/internal/httpx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "microchallenges_rate_limited_requests_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	limiterErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "microchallenges_rate_limiter_errors_total",
			Help: "Total number of rate limiter failures that let a request through",
		},
	)
)

// KeyFunc identifies the caller a budget belongs to. An empty key is not
// limited.
type KeyFunc func(r *http.Request) string

// IPKey keys on the client address. It reads RemoteAddr only; put chi's
// RealIP middleware in front when running behind a trusted proxy.
func IPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects requests over budget with 429. When the limiter itself
// fails the request is let through.
func Middleware(l Limiter, keyFunc KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = IPKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), key)
			if err != nil {
				limiterErrors.Inc()
				logger.Error("rate limiter failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				rateLimited.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
