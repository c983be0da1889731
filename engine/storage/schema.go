package storage

import (
	"context"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	handle TEXT UNIQUE NOT NULL,
	title TEXT,
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS raw_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL REFERENCES channels(id),
	external_message_id TEXT NOT NULL,
	text TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	has_media BOOLEAN NOT NULL DEFAULT 0,
	processed BOOLEAN NOT NULL DEFAULT 0,
	is_duplicate BOOLEAN NOT NULL DEFAULT 0,
	llm_score INTEGER,
	rejection_reason TEXT,
	ingested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(channel_id, external_message_id)
);

CREATE INDEX IF NOT EXISTS idx_raw_messages_processed ON raw_messages(processed, occurred_at);

CREATE TABLE IF NOT EXISTS published (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	embedding BLOB NOT NULL,
	source_message_id INTEGER REFERENCES raw_messages(id),
	source_channel_id INTEGER NOT NULL,
	published_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_published_published_at ON published(published_at);
`

func (s *Storage) migrateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("storage: migrate schema: %w", err)
	}
	return nil
}
