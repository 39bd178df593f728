package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		role      TEXT    NOT NULL CHECK (role IN ('user', 'model', 'system')),
		content   TEXT    NOT NULL DEFAULT '',
		timestamp TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,

	`CREATE TABLE IF NOT EXISTS summaries (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		content          TEXT    NOT NULL,
		start_message_id INTEGER NOT NULL,
		end_message_id   INTEGER NOT NULL,
		timestamp        TEXT    NOT NULL,
		CHECK (start_message_id <= end_message_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_summaries_end ON summaries(end_message_id, id)`,

	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		last_updated TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(last_updated)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	current, err := readSchemaVersion(ctx, db)
	if err != nil {
		return err
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

func readSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return 0, fmt.Errorf("sqlite: read schema version: %w", err)
	}
	return current, nil
}
