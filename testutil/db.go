package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/ytlivechat/db"
)

// SetupTestDB opens a throwaway SQLite archive in the test's temp dir with the
// schema applied. It needs no external services.
func SetupTestDB(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "livechat.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// SetupPostgresDB connects to TEST_PG_DSN and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupPostgresDB(t *testing.T) *db.Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	store, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Setup(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
