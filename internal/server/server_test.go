package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microchallenges/internal/httpx"
	"microchallenges/internal/ratelimit"
	"microchallenges/internal/signature"
	"microchallenges/internal/storage"
	"microchallenges/internal/testutil"
	"microchallenges/internal/worker"
)

const (
	testSecret      = "Waddimi"
	fooBar          = `{"foo":"bar"}`
	fooBarSignature = "78c0bfe1b21e2858c5cce393485e6a74258b16e3a8039059b75c0660622d1d0e"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, storage.Storage) {
	t.Helper()
	store := testutil.NewTestDB(t)
	pool := worker.NewPool(worker.Options{Size: 2, Logger: discardLogger()})
	t.Cleanup(func() { _ = pool.Close(context.Background()) })

	opts := Options{
		Logger:  discardLogger(),
		Secret:  signature.NewSecret(testSecret),
		Store:   store,
		Pool:    pool,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s, store
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Code
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Options{Pool: worker.NewPool(worker.Options{Size: 1})})
	assert.Error(t, err)
}

func TestNew_RejectsBadAllowlist(t *testing.T) {
	_, err := New(Options{
		Secret:     signature.NewSecret(testSecret),
		Pool:       worker.NewPool(worker.Options{Size: 1}),
		AllowedIPs: []string{"nope"},
	})
	assert.Error(t, err)
}

func TestProtectedRoute(t *testing.T) {
	s, store := newTestServer(t, nil)
	jsonHeaders := map[string]string{"Content-Type": "application/json"}

	t.Run("valid signature", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/hmac/protected", fooBar, map[string]string{
			"Content-Type":          "application/json",
			signature.DefaultHeader: fooBarSignature,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	})

	t.Run("invalid signature", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/hmac/protected", fooBar, map[string]string{
			"Content-Type":          "application/json",
			signature.DefaultHeader: "invalidsignature",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_signature", errorCode(t, rec))
	})

	t.Run("missing signature", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/hmac/protected", fooBar, jsonHeaders)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "missing_signature", errorCode(t, rec))
	})

	t.Run("signed but not json", func(t *testing.T) {
		body := "plain text"
		rec := do(t, s, http.MethodPost, "/hmac/protected", body, map[string]string{
			signature.DefaultHeader: signature.Sign(signature.NewSecret(testSecret), []byte(body)),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_json", errorCode(t, rec))
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/hmac/protected", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "method_not_allowed", errorCode(t, rec))
	})

	stats, err := store.GetStats(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"allowed":           1,
		"invalid_signature": 1,
		"missing_signature": 1,
		"invalid_json":      1,
	}, stats)
}

func TestProtectedRoute_Allowlist(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) {
		o.AllowedIPs = []string{"10.0.0.0/8"}
	})

	// httptest requests come from 192.0.2.1.
	rec := do(t, s, http.MethodPost, "/hmac/protected", fooBar, map[string]string{
		signature.DefaultHeader: fooBarSignature,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden_ip", errorCode(t, rec))
}

func TestProtectedRoute_PayloadTooLarge(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) {
		o.MaxBodyBytes = 8
	})

	rec := do(t, s, http.MethodPost, "/hmac/protected", fooBar, map[string]string{
		signature.DefaultHeader: fooBarSignature,
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPaginationItems(t *testing.T) {
	s, _ := newTestServer(t, nil)

	type item struct {
		ID    int    `json:"id"`
		Value string `json:"value"`
	}
	type page struct {
		Items []item `json:"items"`
		Total int    `json:"total"`
		Page  int    `json:"page"`
		Limit int    `json:"limit"`
	}

	tests := []struct {
		name      string
		query     string
		wantIDs   []int
		wantPage  int
		wantLimit int
	}{
		{name: "second page of five", query: "?page=2&limit=5", wantIDs: []int{6, 7, 8, 9, 10}, wantPage: 2, wantLimit: 5},
		{name: "defaults", query: "", wantIDs: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, wantPage: 1, wantLimit: 10},
		{name: "past the end", query: "?page=999", wantIDs: []int{}, wantPage: 999, wantLimit: 10},
		{name: "garbage falls back", query: "?page=abc&limit=0", wantIDs: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, wantPage: 1, wantLimit: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/pagination/items"+tt.query, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)

			var p page
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			ids := make([]int, 0, len(p.Items))
			for _, it := range p.Items {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, 100, p.Total)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantLimit, p.Limit)
		})
	}
}

func TestPerformance(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		target     string
		wantStatus int
		wantBody   string
	}{
		{target: "/performance/heavy?n=10", wantStatus: http.StatusOK, wantBody: `{"n":10,"result":55}`},
		{target: "/performance/heavy?n=1", wantStatus: http.StatusOK, wantBody: `{"n":1,"result":1}`},
		{target: "/performance/heavy", wantStatus: http.StatusOK, wantBody: `{"n":35,"result":9227465}`},
		{target: "/performance/heavy-main?n=10", wantStatus: http.StatusOK, wantBody: `{"n":10,"result":55}`},
		{target: "/performance/heavy?n=94", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.target, "", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestAuditAPI(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/hmac/protected", fooBar, map[string]string{
		"Content-Type":          "application/json",
		signature.DefaultHeader: fooBarSignature,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/deliveries?outcome=allowed", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Deliveries []storage.Delivery `json:"deliveries"`
		Total      int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	require.Len(t, list.Deliveries, 1)
	assert.JSONEq(t, fooBar, string(list.Deliveries[0].Payload))

	rec = do(t, s, http.MethodGet, "/api/deliveries/"+list.Deliveries[0].ID, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/stats", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditAPI_NotMountedWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) { o.Store = nil })

	rec := do(t, s, http.MethodGet, "/api/deliveries", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/hmac/protected", fooBar, map[string]string{
		signature.DefaultHeader: fooBarSignature,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGraphQL(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := `{"query":"{ items(page: 2, limit: 5) { total items { id } } fibonacci(n: 10) { result } }"}`
	rec := do(t, s, http.MethodPost, "/graphql", body, map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Items struct {
				Total int `json:"total"`
				Items []struct {
					ID int `json:"id"`
				} `json:"items"`
			} `json:"items"`
			Fibonacci struct {
				Result string `json:"result"`
			} `json:"fibonacci"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Errors)
	assert.Equal(t, 100, resp.Data.Items.Total)
	require.Len(t, resp.Data.Items.Items, 5)
	assert.Equal(t, 6, resp.Data.Items.Items[0].ID)
	assert.Equal(t, "55", resp.Data.Fibonacci.Result)
}

func TestOperationalEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	// Generate at least one labelled request first.
	do(t, s, http.MethodGet, "/pagination/items", "", nil)
	rec = do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "microchallenges_http_requests_total")
}

func TestHealthz_StoreDown(t *testing.T) {
	s, store := newTestServer(t, nil)
	require.NoError(t, store.Close())

	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) {
		o.CORSOrigins = []string{"https://app.example.com"}
	})

	rec := do(t, s, http.MethodOptions, "/hmac/protected", "", map[string]string{
		"Origin":                         "https://app.example.com",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Content-Type, X-Signature",
	})
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	limiter, err := ratelimit.NewLocalLimiter(ratelimit.Config{Requests: 2, Window: time.Minute, MaxKeys: 10})
	require.NoError(t, err)
	s, _ := newTestServer(t, func(o *Options) { o.Limiter = limiter })

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodGet, "/pagination/items", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/pagination/items", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRecoverer(t *testing.T) {
	h := recoverer(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := do(t, h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", errorCode(t, rec))
}

func TestRequestLogger_NeverLogsBody(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := requestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))

	do(t, h, http.MethodPost, "/hmac/protected", `{"secret-ish":"payload"}`, map[string]string{
		signature.DefaultHeader: fooBarSignature,
	})
	out := buf.String()
	assert.Contains(t, out, "status=202")
	assert.NotContains(t, out, "payload")
	assert.NotContains(t, out, fooBarSignature)
}

func TestNewHTTPServer(t *testing.T) {
	srv := NewHTTPServer(":0", http.NotFoundHandler(), Timeouts{Read: time.Second, Write: 2 * time.Second, Idle: 3 * time.Second})
	assert.Equal(t, time.Second, srv.ReadTimeout)
	assert.Equal(t, 2*time.Second, srv.WriteTimeout)
	assert.NotNil(t, srv.ConnContext)
}
