// Package webhook implements the operation behind the signature-protected
// route and keeps an audit record of every request that reaches it.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"microchallenges/internal/httpx"
	"microchallenges/internal/signature"
	"microchallenges/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storedDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microchallenges_webhook_stored_deliveries_total",
			Help: "Total number of delivery audit records stored by outcome",
		},
		[]string{"outcome"},
	)

	storeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "microchallenges_webhook_store_errors_total",
			Help: "Total number of delivery audit records that failed to store",
		},
	)
)

// OutcomeInvalidJSON records a correctly signed body that is not JSON.
const OutcomeInvalidJSON = "invalid_json"

type Handler struct {
	logger           *slog.Logger
	store            storage.Storage
	metricsCollector *storage.DBMetricsCollector
	storeTimeout     time.Duration
}

type Options struct {
	Logger *slog.Logger
	// Store is optional; without it nothing is recorded.
	Store            storage.Storage
	MetricsCollector *storage.DBMetricsCollector
	// StoreTimeout bounds each audit write. Defaults to 5s.
	StoreTimeout time.Duration
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		logger:           logger,
		store:            opts.Store,
		metricsCollector: opts.MetricsCollector,
		storeTimeout:     timeout,
	}
}

// ServeHTTP handles a request that already passed signature verification.
// The body must be JSON; it is parsed from the captured bytes, never
// re-encoded.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := signature.RawBodyFromContext(r.Context())
	if !ok {
		h.logger.Error("protected handler reached without a captured body", "path", r.URL.Path)
		httpx.WriteError(w, signature.ErrMissingBody.Status, signature.ErrMissingBody.Code, signature.ErrMissingBody.Message)
		return
	}

	if !json.Valid(body.Bytes()) {
		h.record(r, body, OutcomeInvalidJSON)
		httpx.WriteError(w, http.StatusBadRequest, OutcomeInvalidJSON, "Body must be valid JSON")
		return
	}

	h.record(r, body, signature.OutcomeAllowed)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RecordRejection stores the audit record of a request the verifier
// rejected. Its signature matches signature.Options.OnReject.
func (h *Handler) RecordRejection(r *http.Request, err *signature.Error) {
	body, _ := signature.RawBodyFromContext(r.Context())
	h.record(r, body, err.Code)
}

func (h *Handler) record(r *http.Request, body signature.RawBody, outcome string) {
	if h.store == nil {
		return
	}

	d := &storage.Delivery{
		Outcome:     outcome,
		Path:        r.URL.Path,
		PayloadSize: body.Len(),
		ContentType: r.Header.Get("Content-Type"),
		RemoteAddr:  remoteHost(r),
		CreatedAt:   time.Now().UTC(),
	}
	if body.Captured() {
		sum := sha256.Sum256(body.Bytes())
		d.PayloadSHA256 = hex.EncodeToString(sum[:])
	}
	if outcome == signature.OutcomeAllowed {
		d.Payload = json.RawMessage(body.Bytes())
	}

	// The audit write outlives a client that hangs up early.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.storeTimeout)
	defer cancel()

	if err := h.store.StoreDelivery(ctx, d); err != nil {
		h.logger.Error("error storing delivery", "error", err, "outcome", outcome)
		storeErrors.Inc()
		return
	}
	storedDeliveries.WithLabelValues(outcome).Inc()

	if h.metricsCollector != nil {
		h.metricsCollector.EnqueueGatherMetrics()
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
