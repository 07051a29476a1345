// Package testutil provides shared test helpers for setting up data directories and stores.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/agencydesk/internal/docstore"
	"github.com/starford/agencydesk/internal/storage"
)

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDataDir creates a temporary data directory with an FS provider.
func TestDataDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// TestSQLite creates a temporary SQLite-backed provider that is closed on cleanup.
func TestSQLite(t *testing.T) *storage.SQL {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "agencydesk-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore wraps p (an in-memory provider when nil) in a quiet document store.
func TestStore(t *testing.T, p storage.Provider, opts ...docstore.Option) *docstore.Store {
	t.Helper()
	if p == nil {
		p = storage.NewMemory()
	}
	return docstore.New(p, append([]docstore.Option{docstore.WithLogger(QuietLogger())}, opts...)...)
}
