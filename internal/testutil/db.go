package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"microchallenges/internal/storage"
	"microchallenges/internal/storage/factory"
)

// NewTestDB returns a SQLite-backed storage in a temporary directory that is
// closed when the test ends.
func NewTestDB(t *testing.T) storage.Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := factory.NewStorageFromURI(context.Background(), "sqlite://"+dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
