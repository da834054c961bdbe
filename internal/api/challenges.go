package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"microchallenges/internal/httpx"
	"microchallenges/internal/pagination"
	"microchallenges/internal/worker"
)

// DefaultFibonacciN is used when the n query parameter is missing or zero.
const DefaultFibonacciN = 35

// ChallengeHandler serves the pagination and CPU offload endpoints.
type ChallengeHandler struct {
	items  []pagination.Item
	pool   *worker.Pool
	logger *slog.Logger
}

func NewChallengeHandler(items []pagination.Item, pool *worker.Pool, logger *slog.Logger) *ChallengeHandler {
	return &ChallengeHandler{
		items:  items,
		pool:   pool,
		logger: logger,
	}
}

// Items handles GET /pagination/items
func (h *ChallengeHandler) Items(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination.ParseParams(r.URL.Query())
	httpx.WriteJSON(w, http.StatusOK, pagination.Paginate(h.items, page, limit))
}

type fibonacciResponse struct {
	N      int    `json:"n"`
	Result uint64 `json:"result"`
}

// Heavy handles GET /performance/heavy, computing on the worker pool.
func (h *ChallengeHandler) Heavy(w http.ResponseWriter, r *http.Request) {
	n := parseN(r)

	future := h.pool.Submit(r.Context(), n)
	result, err := future.Wait(r.Context())
	if err != nil {
		future.Cancel()
		h.writeFibonacciError(w, n, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, fibonacciResponse{N: n, Result: result})
}

// HeavyMain handles GET /performance/heavy-main, computing on the request
// goroutine.
func (h *ChallengeHandler) HeavyMain(w http.ResponseWriter, r *http.Request) {
	n := parseN(r)

	result, err := worker.Fibonacci(n)
	if err != nil {
		h.writeFibonacciError(w, n, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, fibonacciResponse{N: n, Result: result})
}

func (h *ChallengeHandler) writeFibonacciError(w http.ResponseWriter, n int, err error) {
	switch {
	case errors.Is(err, worker.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input",
			"n must be between 1 and "+strconv.Itoa(worker.MaxFibonacciN))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Debug("fibonacci abandoned", "n", n, "error", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "canceled", "Request canceled")
	case errors.Is(err, worker.ErrPoolClosed):
		h.logger.Debug("fibonacci rejected during shutdown", "n", n)
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Server is shutting down")
	default:
		h.logger.Error("fibonacci failed", "n", n, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// parseN reads the integer prefix of n; missing, non-numeric or zero selects
// DefaultFibonacciN and negatives clamp to 1.
func parseN(r *http.Request) int {
	n, ok := pagination.LeadingInt(r.URL.Query().Get("n"))
	if !ok || n == 0 {
		return DefaultFibonacciN
	}
	return max(n, 1)
}
