package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// SchemaVersion is the current expected schema version.
const SchemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations, each applied exactly
// once and tracked in schema_version. The SQL is limited to what SQLite and
// Postgres both accept; times are stored as unix milliseconds.
var migrations = []migration{
	{
		Version:     1,
		Description: "message_log: canonical inbound messages",
		SQL: `
		CREATE TABLE IF NOT EXISTS message_log (
			message_id      TEXT PRIMARY KEY,
			platform        TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			sender_name     TEXT NOT NULL DEFAULT '',
			content         TEXT NOT NULL DEFAULT '',
			metadata        TEXT NOT NULL DEFAULT '{}',
			sent_at_ms      BIGINT NOT NULL,
			recorded_at_ms  BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_message_log_conv ON message_log(conversation_id, sent_at_ms);
		`,
	},
	{
		Version:     2,
		Description: "knowledge_items: searchable knowledge snippets",
		SQL: `
		CREATE TABLE IF NOT EXISTS knowledge_items (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL DEFAULT '',
			type          TEXT NOT NULL,
			title         TEXT NOT NULL DEFAULT '',
			content       TEXT NOT NULL,
			search_text   TEXT NOT NULL,
			metadata      TEXT NOT NULL DEFAULT '{}',
			created_at_ms BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_user ON knowledge_items(user_id);
		`,
	},
}

// RunMigrations applies all pending schema migrations inside one transaction
// per version.
func RunMigrations(ctx context.Context, db *DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description, "dialect", db.Dialect)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			db.Rebind("INSERT INTO schema_version (version, description) VALUES (?, ?)"),
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration version.
func GetSchemaVersion(ctx context.Context, db *DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
