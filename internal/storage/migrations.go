package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaMigration is one numbered schema step. Steps run in version order,
// each in its own transaction.
type schemaMigration struct {
	version int
	name    string
	up      func(ctx context.Context, tx *sql.Tx) error
}

var schemaMigrations = []schemaMigration{
	{version: 1, name: "object_store", up: migrateV001},
	{version: 2, name: "trash_index", up: migrateV002},
}

// connection settings applied before any step
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
}

// MigrationRunner brings a database up to the latest schema version.
type MigrationRunner struct {
	db     *sql.DB
	steps  []schemaMigration
	logger *slog.Logger
}

// NewMigrationRunner creates a runner for every known schema step.
func NewMigrationRunner(db *sql.DB, logger *slog.Logger) *MigrationRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationRunner{
		db:     db,
		steps:  schemaMigrations,
		logger: logger.With(slog.String("component", "migrations")),
	}
}

// Run applies every step above the recorded version. Running it on an up to
// date database is a no-op.
func (r *MigrationRunner) Run(ctx context.Context) error {
	for _, p := range pragmas {
		if _, err := r.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	current, err := r.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, step := range r.steps {
		if step.version <= current {
			continue
		}
		if err := r.apply(ctx, step); err != nil {
			return fmt.Errorf("migration %d (%s): %w", step.version, step.name, err)
		}
		r.logger.Debug("schema migrated",
			slog.Int("version", step.version),
			slog.String("name", step.name),
		)
	}
	return nil
}

// Version returns the highest applied step, 0 on a fresh database.
func (r *MigrationRunner) Version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

func (r *MigrationRunner) apply(ctx context.Context, step schemaMigration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := step.up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		step.version, step.name,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// migrateV002 indexes the trash, which Stats and the restore paths scan.
func migrateV002(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_objects_trash ON objects(library_id) WHERE deleted = 1`)
	return err
}
