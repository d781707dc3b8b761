package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies idempotent schema changes for all required tables and indices.
// It is the fallback for databases that cannot use versioned migrations (SQLite,
// or Postgres instances predating schema_migrations).
func (s *Store) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if s.dialect == SQLite {
		stmts = sqliteSchema
	}
	for i, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s migrate step %d failed: %w", s.dialect, i, err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS live_sessions (
		live_id TEXT PRIMARY KEY,
		selector TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		end_reason TEXT,
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGSERIAL PRIMARY KEY,
		live_id TEXT NOT NULL REFERENCES live_sessions(live_id),
		message_id TEXT NOT NULL UNIQUE,
		kind TEXT,
		author_channel_id TEXT,
		author_name TEXT,
		message TEXT,
		is_owner BOOLEAN DEFAULT FALSE,
		is_moderator BOOLEAN DEFAULT FALSE,
		is_member BOOLEAN DEFAULT FALSE,
		is_verified BOOLEAN DEFAULT FALSE,
		super_chat_amount TEXT,
		super_chat_currency TEXT,
		super_chat_micros BIGINT,
		published_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_live_published ON chat_messages(live_id, published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON live_sessions(started_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS live_sessions (
		live_id TEXT PRIMARY KEY,
		selector TEXT,
		started_at TEXT NOT NULL,
		ended_at TEXT,
		end_reason TEXT,
		updated_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		live_id TEXT NOT NULL REFERENCES live_sessions(live_id),
		message_id TEXT NOT NULL UNIQUE,
		kind TEXT,
		author_channel_id TEXT,
		author_name TEXT,
		message TEXT,
		is_owner BOOLEAN DEFAULT 0,
		is_moderator BOOLEAN DEFAULT 0,
		is_member BOOLEAN DEFAULT 0,
		is_verified BOOLEAN DEFAULT 0,
		super_chat_amount TEXT,
		super_chat_currency TEXT,
		super_chat_micros INTEGER,
		published_at TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_live_published ON chat_messages(live_id, published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON live_sessions(started_at)`,
}

func (s *Store) newMigrator() (*migrate.Migrate, error) {
	if s.dialect != Postgres {
		return nil, fmt.Errorf("versioned migrations require postgres (have %s)", s.dialect)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations runs the embedded versioned migrations using golang-migrate.
// This function is idempotent and safe to run multiple times.
//
// Migration files follow the naming convention:
//
//	000001_description.up.sql   - applies the migration
//	000001_description.down.sql - reverts the migration
func (s *Store) RunMigrations() error {
	m, err := s.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("error", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}

	slog.Info("migrations applied successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("component", "db_migrate"))
	return nil
}

// MigrateDown rolls back the most recent migration.
// WARNING: This may result in data loss depending on the migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("no migrations to roll back", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationVersion returns the current migration version and dirty state.
func (s *Store) MigrationVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrator()
	if err != nil {
		return 0, false, err
	}
	v, d, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, d, nil
}

// Setup runs versioned migrations where possible and falls back to the embedded schema.
func (s *Store) Setup(ctx context.Context) error {
	if s.dialect == Postgres {
		err := s.RunMigrations()
		if err == nil {
			return nil
		}
		slog.Warn("versioned migrations failed, attempting fallback to embedded schema",
			slog.Any("err", err), slog.String("component", "db_migrate"))
	}
	return s.Migrate(ctx)
}
