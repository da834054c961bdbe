package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"microchallenges/internal/server"
	"microchallenges/internal/signature"
	"microchallenges/internal/storage"
	"microchallenges/internal/storage/factory"
	"microchallenges/internal/worker"
)

const testSecret = "test-secret"

// SetupTestDB creates a SQLite database in a temporary directory.
func SetupTestDB(t testing.TB) storage.Storage {
	t.Helper()

	uri := "sqlite://" + filepath.Join(t.TempDir(), "integration.db")
	store, err := factory.NewStorageFromURI(context.Background(), uri)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// StartServer serves the full router on a loopback listener.
func StartServer(t testing.TB, store storage.Storage) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := worker.NewPool(worker.Options{Size: 2, Logger: logger})

	h, err := server.New(server.Options{
		Logger:           logger,
		Secret:           signature.NewSecret(testSecret),
		Store:            store,
		MetricsCollector: storage.NewDBMetricsCollector(store, logger),
		Pool:             pool,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		ts.Close()
		_ = pool.Close(context.Background())
	})
	return ts
}
