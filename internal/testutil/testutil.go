// Package testutil provides shared test helpers for notes directories,
// index databases and window hosts.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/blink/internal/index"
	"github.com/starford/blink/internal/storage"
)

// TestDB creates a temporary SQLite index that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "blink-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestNotesDir creates a temporary notes directory with a storage.Provider.
func TestNotesDir(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// WriteFile writes a raw note file, failing the test on error.
func WriteFile(t *testing.T, store storage.Provider, path, content string) {
	t.Helper()
	if err := store.Write(path, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadFile reads a raw note file, failing the test on error.
func ReadFile(t *testing.T, store storage.Provider, path string) string {
	t.Helper()
	data, err := store.Read(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// Logger returns a logger that discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
