package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const schemaVersion = 1

// timeLayout is fixed width so stored timestamps compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application. Definitions are
// stored as JSON documents next to the columns queries filter on.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS capabilities (
		name       TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS secrets (
		scope TEXT NOT NULL,
		key   TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (scope, key)
	)`,

	`CREATE TABLE IF NOT EXISTS sources (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		data TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_records (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		capability    TEXT    NOT NULL,
		kind          TEXT    NOT NULL DEFAULT '',
		origin        TEXT    NOT NULL DEFAULT '',
		caller_kind   TEXT    NOT NULL DEFAULT '',
		thread_id     TEXT    NOT NULL DEFAULT '',
		user_id       TEXT    NOT NULL DEFAULT '',
		channel       TEXT    NOT NULL DEFAULT '',
		input         TEXT    NOT NULL DEFAULT '',
		output        TEXT    NOT NULL DEFAULT '',
		output_ref    TEXT    NOT NULL DEFAULT '',
		success       INTEGER NOT NULL DEFAULT 0,
		reason_code   TEXT    NOT NULL DEFAULT '',
		failure_class TEXT    NOT NULL DEFAULT '',
		error         TEXT    NOT NULL DEFAULT '',
		duration_ms   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_capability ON audit_records(capability, id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_records(created_at)`,

	`CREATE TABLE IF NOT EXISTS audit_blobs (
		ref  TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS audit_summaries (
		capability    TEXT PRIMARY KEY,
		last_audit_id INTEGER NOT NULL,
		data          TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		name        TEXT    NOT NULL,
		enabled     INTEGER NOT NULL DEFAULT 1,
		next_run_at TEXT    NOT NULL DEFAULT '',
		data        TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(enabled, next_run_at)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
