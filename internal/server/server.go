// Package server assembles the HTTP surface: the signature-protected route,
// the pagination and performance challenges, the audit API, GraphQL and
// the operational endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"microchallenges/internal/api"
	"microchallenges/internal/graphql"
	"microchallenges/internal/httpx"
	"microchallenges/internal/metrics"
	"microchallenges/internal/pagination"
	"microchallenges/internal/ratelimit"
	"microchallenges/internal/security"
	"microchallenges/internal/signature"
	"microchallenges/internal/storage"
	"microchallenges/internal/webhook"
	"microchallenges/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ItemCount is the size of the demo collection behind /pagination/items.
const ItemCount = 100

type Options struct {
	Logger *slog.Logger

	Secret          signature.Secret
	SignatureHeader string
	MaxBodyBytes    int64

	// Store is optional. Without it nothing is audited and the /api routes
	// are not mounted.
	Store            storage.Storage
	MetricsCollector *storage.DBMetricsCollector

	// Limiter is optional; nil disables rate limiting.
	Limiter ratelimit.Limiter

	// AllowedIPs restricts the protected route. Empty allows everyone.
	AllowedIPs  []string
	CORSOrigins []string

	Pool *worker.Pool

	// TailscaleFunnel rewrites RemoteAddr to the funnel client address. The
	// http.Server must use ConnContext.
	TailscaleFunnel bool
}

// Server is the root http.Handler.
type Server struct {
	router chi.Router
	logger *slog.Logger
	store  storage.Storage
}

// New builds the router. It fails when the secret is empty or the allowlist
// contains an invalid entry.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Pool == nil {
		return nil, errors.New("worker pool is required")
	}

	webhookHandler := webhook.NewHandler(webhook.Options{
		Logger:           logger,
		Store:            opts.Store,
		MetricsCollector: opts.MetricsCollector,
	})

	verifier, err := signature.NewVerifier(signature.Options{
		Secret:   opts.Secret,
		Header:   opts.SignatureHeader,
		Logger:   logger,
		OnReject: webhookHandler.RecordRejection,
	})
	if err != nil {
		return nil, err
	}

	allowlist, err := security.NewIPValidator(opts.AllowedIPs)
	if err != nil {
		return nil, fmt.Errorf("allowed ips: %w", err)
	}

	items := pagination.Items(ItemCount)
	challenges := api.NewChallengeHandler(items, opts.Pool, logger)

	gql, err := graphql.NewHandler(graphql.Config{
		Store:  opts.Store,
		Items:  items,
		Pool:   opts.Pool,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building graphql schema: %w", err)
	}

	s := &Server{
		logger: logger,
		store:  opts.Store,
	}

	r := chi.NewRouter()
	if opts.TailscaleFunnel {
		r.Use(security.TailscaleFunnelIP(logger))
	}
	r.Use(middleware.RequestID)
	r.Use(recoverer(logger))
	r.Use(security.Headers)
	r.Use(security.CORS(opts.CORSOrigins, verifier.Header()))
	r.Use(requestLogger(logger))
	r.Use(metrics.Middleware)
	if opts.Limiter != nil {
		r.Use(ratelimit.Middleware(opts.Limiter, ratelimit.IPKey, logger))
	}

	r.NotFound(httpx.NotFound)
	r.MethodNotAllowed(httpx.MethodNotAllowed)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/hmac", func(r chi.Router) {
		r.With(
			allowlist.Middleware(logger),
			signature.CaptureRawBody(opts.MaxBodyBytes),
			verifier.Middleware,
		).Post("/protected", webhookHandler.ServeHTTP)
	})

	r.Get("/pagination/items", challenges.Items)

	r.Route("/performance", func(r chi.Router) {
		r.Get("/heavy", challenges.Heavy)
		r.Get("/heavy-main", challenges.HeavyMain)
	})

	if opts.Store != nil {
		audit := api.NewHandler(opts.Store, logger)
		r.Route("/api", func(r chi.Router) {
			r.Get("/deliveries", audit.ListDeliveries)
			r.Get("/deliveries/{id}", audit.GetDelivery)
			r.Get("/stats", audit.GetStats)
		})
	}

	r.Handle("/graphql", gql)

	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Error("health check failed", "error", err)
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Timeouts are the http.Server timeouts.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// NewHTTPServer wraps h in an http.Server that records each connection in
// the request context for TailscaleFunnelIP.
func NewHTTPServer(addr string, h http.Handler, t Timeouts) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       t.Read,
		ReadHeaderTimeout: t.Read,
		WriteTimeout:      t.Write,
		IdleTimeout:       t.Idle,
		ConnContext:       security.ConnContext,
	}
}
