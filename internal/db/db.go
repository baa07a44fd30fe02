package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the PostgreSQL connection and applies migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")
	return db, nil
}

// Migrations are idempotent; the unique indexes back the get-or-create
// operations of the store.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		participant_a_id BIGINT NOT NULL,
		participant_b_id BIGINT NOT NULL,
		subject_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_message VARCHAR(100) NOT NULL DEFAULT '',
		last_message_at TIMESTAMPTZ,
		last_message_sender_id BIGINT,
		a_last_read_at TIMESTAMPTZ,
		b_last_read_at TIMESTAMPTZ,
		a_archived BOOLEAN NOT NULL DEFAULT FALSE,
		b_archived BOOLEAN NOT NULL DEFAULT FALSE,
		a_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		b_blocked BOOLEAN NOT NULL DEFAULT FALSE,
		CHECK (participant_a_id < participant_b_id)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS conversations_pair_subject_key
		ON conversations (participant_a_id, participant_b_id, (COALESCE(subject_id, '')));`,
	`CREATE INDEX IF NOT EXISTS conversations_participant_b_idx ON conversations (participant_b_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id BIGINT NOT NULL,
		content TEXT NOT NULL,
		original_content TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		edited_at TIMESTAMPTZ,
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		edit_history JSONB NOT NULL DEFAULT '[]'::jsonb,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at TIMESTAMPTZ,
		is_system_message BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at TIMESTAMPTZ,
		deleted_by BIGINT,
		deletion_type TEXT CHECK (deletion_type IN ('soft', 'hard'))
	);`,
	`ALTER TABLE messages ALTER COLUMN content TYPE TEXT;`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx ON messages (conversation_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS reactions (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL,
		emoji VARCHAR(10) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (message_id, user_id, emoji)
	);`,
}

// Migrate applies Migrations in order.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, m := range Migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
