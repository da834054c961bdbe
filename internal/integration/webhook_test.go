package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microchallenges/internal/signature"
	"microchallenges/internal/storage"
)

func post(t *testing.T, url string, body []byte, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(signature.DefaultHeader, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestProtectedRouteIntegration(t *testing.T) {
	store := SetupTestDB(t)
	ts := StartServer(t, store)
	url := ts.URL + "/hmac/protected"

	// Whitespace and key order are part of what is signed.
	payload := []byte(`{"action": "test",  "repository": {"full_name": "test/repo"}}`)
	secret := signature.NewSecret(testSecret)

	t.Run("valid signature over raw bytes", func(t *testing.T) {
		resp := post(t, url, payload, signature.Sign(secret, payload))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"success":true}`, string(body))
	})

	t.Run("signature over re-encoded body", func(t *testing.T) {
		var parsed map[string]any
		require.NoError(t, json.Unmarshal(payload, &parsed))
		reencoded, err := json.Marshal(parsed)
		require.NoError(t, err)

		resp := post(t, url, payload, signature.Sign(secret, reencoded))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing signature", func(t *testing.T) {
		resp := post(t, url, payload, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("audit log", func(t *testing.T) {
		deliveries, total, err := store.ListDeliveries(context.Background(), storage.QueryOptions{})
		require.NoError(t, err)
		require.Equal(t, 3, total)

		byOutcome := map[string]*storage.Delivery{}
		for _, d := range deliveries {
			byOutcome[d.Outcome] = d
		}
		require.Contains(t, byOutcome, "allowed")
		require.Contains(t, byOutcome, "invalid_signature")
		require.Contains(t, byOutcome, "missing_signature")

		assert.Equal(t, string(payload), string(byOutcome["allowed"].Payload))
		assert.Empty(t, byOutcome["invalid_signature"].Payload)
		assert.Equal(t, byOutcome["allowed"].PayloadSHA256, byOutcome["invalid_signature"].PayloadSHA256)
		assert.Equal(t, "127.0.0.1", byOutcome["allowed"].RemoteAddr)
	})
}

func TestConcurrentRequestsIntegration(t *testing.T) {
	store := SetupTestDB(t)
	ts := StartServer(t, store)
	secret := signature.NewSecret(testSecret)

	const n = 20
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(`{"i":` + strconv.Itoa(i) + `}`)
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/hmac/protected", bytes.NewReader(payload))
			if err != nil {
				return
			}
			req.Header.Set(signature.DefaultHeader, signature.Sign(secret, payload))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i, s := range statuses {
		assert.Equal(t, http.StatusOK, s, "request %d", i)
	}

	count, err := store.CountDeliveries(context.Background(), storage.QueryOptions{Outcomes: []string{"allowed"}})
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestChallengesIntegration(t *testing.T) {
	ts := StartServer(t, SetupTestDB(t))

	resp, err := http.Get(ts.URL + "/pagination/items?page=2&limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Items []struct {
			ID    int    `json:"id"`
			Value string `json:"value"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Items, 5)
	assert.Equal(t, 6, page.Items[0].ID)
	assert.Equal(t, "Item 10", page.Items[4].Value)
	assert.Equal(t, 100, page.Total)

	resp2, err := http.Get(ts.URL + "/performance/heavy")
	require.NoError(t, err)
	defer resp2.Body.Close()

	var fib struct {
		N      int    `json:"n"`
		Result uint64 `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&fib))
	assert.Equal(t, 35, fib.N)
	assert.Equal(t, uint64(9227465), fib.Result)
}
