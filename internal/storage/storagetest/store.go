// Package storagetest provides SQLite-backed stores for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/makt28/vigil/internal/model"
	"github.com/makt28/vigil/internal/storage"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	return open(t, ":memory:")
}

// NewFileStore is like NewTestStore but backed by a file in t.TempDir, for
// tests that need the store to survive a reopen.
func NewFileStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	return open(t, filepath.Join(t.TempDir(), "vigil.db"))
}

func open(t *testing.T, dsn string) *storage.SQLiteStore {
	t.Helper()

	s, err := storage.NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedMonitor inserts a minimal monitor with the given id.
func SeedMonitor(t *testing.T, s storage.Store, id string) model.Monitor {
	t.Helper()
	m := model.Monitor{
		ID:          id,
		WorkspaceID: "ws-1",
		Name:        "monitor " + id,
		Active:      true,
		Method:      "http",
		URL:         "https://example.com/" + id,
		Periodicity: 60,
	}
	if err := s.UpsertMonitor(context.Background(), m); err != nil {
		t.Fatalf("seeding monitor %s: %v", id, err)
	}
	return m
}

// Seed syncs c into s.
func Seed(t *testing.T, s storage.Store, c storage.Catalog) {
	t.Helper()
	if err := storage.Seed(context.Background(), s, c); err != nil {
		t.Fatalf("seeding catalog: %v", err)
	}
}
