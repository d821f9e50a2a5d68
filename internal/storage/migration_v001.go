package storage

import (
	"context"
	"database/sql"
)

// migrateV001 creates the initial schema: the generic object table, library
// names, the audit log and their indexes. Every statement uses IF NOT EXISTS
// for idempotency.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS objects (
			key         TEXT PRIMARY KEY,
			library_id  INTEGER NOT NULL DEFAULT 1,
			kind        TEXT NOT NULL CHECK (kind IN ('document', 'note', 'item')),
			parent_key  TEXT NOT NULL DEFAULT '',
			related_key TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			body        TEXT NOT NULL DEFAULT '',
			tags        TEXT NOT NULL DEFAULT '[]',
			deleted     BOOLEAN NOT NULL DEFAULT 0,
			version     INTEGER NOT NULL DEFAULT 1,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS libraries (
			id         INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			action     TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			object_key TEXT,
			ts         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_objects_parent       ON objects(parent_key, deleted)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_library_kind ON objects(library_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_objects_related      ON objects(related_key)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_ts         ON audit_log(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_action     ON audit_log(action)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	// ── Default library ────────────────────────────────────────
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO libraries (id, name) VALUES (1, 'My Library')`)
	return err
}
