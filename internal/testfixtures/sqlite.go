package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/negotiation-scheduler/internal/persistence/memory"
	"github.com/example/negotiation-scheduler/internal/persistence/sqlite"
)

// NewSQLiteStore opens a migrated SQLite store in a temporary directory. The
// store is closed when the test finishes.
func NewSQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "scheduler.db")

	store, err := sqlite.Open(ctx, sqlite.TestConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	tb.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(tb testing.TB) *memory.Storage {
	tb.Helper()
	store := memory.Open()
	tb.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
