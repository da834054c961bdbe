package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"microchallenges/internal/httpx"
	"microchallenges/internal/storage"

	"github.com/go-chi/chi/v5"
)

// Page sizes for delivery listings.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Handler serves the delivery audit log.
type Handler struct {
	store  storage.Storage
	logger *slog.Logger
}

// NewHandler creates a new API handler
func NewHandler(store storage.Storage, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// ListDeliveries handles GET /api/deliveries
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := storage.QueryOptions{
		Limit:      DefaultListLimit,
		Path:       query.Get("path"),
		RemoteAddr: query.Get("remote_addr"),
	}

	if outcome := query.Get("outcome"); outcome != "" {
		opts.Outcomes = strings.Split(outcome, ",")
	}

	var err error
	if opts.Since, err = parseTime(query.Get("since")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_param", "Invalid since parameter")
		return
	}
	if opts.Until, err = parseTime(query.Get("until")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_param", "Invalid until parameter")
		return
	}

	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_param", "Invalid limit parameter")
			return
		}
		opts.Limit = min(n, MaxListLimit)
	}

	if offset := query.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_param", "Invalid offset parameter")
			return
		}
		opts.Offset = n
	}

	deliveries, total, err := h.store.ListDeliveries(r.Context(), opts)
	if err != nil {
		h.logger.Error("Error listing deliveries", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"deliveries": deliveries,
		"total":      total,
		"limit":      opts.Limit,
		"offset":     opts.Offset,
	})
}

// GetDelivery handles GET /api/deliveries/{id}
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := h.store.GetDelivery(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Delivery not found")
		return
	}
	if err != nil {
		h.logger.Error("Error getting delivery", "error", err, "id", id)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, d)
}

// GetStats handles GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	// Get stats for last 24 hours by default
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_param", "Invalid since parameter")
			return
		}
		since = t
	}

	stats, err := h.store.GetStats(r.Context(), since)
	if err != nil {
		h.logger.Error("Error getting stats", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, stats)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
