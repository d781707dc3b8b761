package db

import (
	"context"
	"os"
	"testing"
	"time"
)

func openPostgres(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres migration test")
	}
	s, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	cleanDatabase(t, context.Background(), s)
	return s
}

// cleanDatabase drops all tables to ensure a clean state
func cleanDatabase(t *testing.T, ctx context.Context, s *Store) {
	t.Helper()
	for _, q := range []string{
		`DROP TABLE IF EXISTS chat_messages CASCADE`,
		`DROP TABLE IF EXISTS live_sessions CASCADE`,
		`DROP TABLE IF EXISTS schema_migrations CASCADE`,
	} {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			t.Fatalf("clean database: %v", err)
		}
	}
}

func TestRunMigrations(t *testing.T) {
	s := openPostgres(t)

	if err := s.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	for _, table := range []string{"live_sessions", "chat_messages"} {
		var exists bool
		err := s.DB.QueryRow(`SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after migration", table)
		}
	}

	version, dirty, err := s.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Errorf("version = %d dirty = %v", version, dirty)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := openPostgres(t)
	if err := s.RunMigrations(); err != nil {
		t.Fatalf("first RunMigrations() error = %v", err)
	}
	v1, _, err := s.MigrationVersion()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RunMigrations(); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	v2, _, err := s.MigrationVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Errorf("version changed: %d -> %d (should be stable)", v1, v2)
	}
}

func TestMigrationUpDown(t *testing.T) {
	s := openPostgres(t)
	if err := s.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := s.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	version, dirty, err := s.MigrationVersion()
	if err != nil {
		t.Fatal(err)
	}
	if dirty || version != 0 {
		t.Errorf("after down: version = %d dirty = %v", version, dirty)
	}
	if err := s.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() after rollback error = %v", err)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()
	if err := s.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := s.UpsertLiveSession(ctx, "vid1", "live:vid1", time.Now()); err != nil {
		t.Fatalf("UpsertLiveSession: %v", err)
	}
	sessions, err := s.ListLiveSessions(ctx, 1)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListLiveSessions = %v, %v", sessions, err)
	}
}

func TestVersionedMigrationsRequirePostgres(t *testing.T) {
	s := &Store{dialect: SQLite}
	if err := s.RunMigrations(); err == nil {
		t.Fatal("expected error running versioned migrations on sqlite")
	}
}
