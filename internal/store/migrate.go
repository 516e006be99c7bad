package store

import (
	"context"
	"fmt"
)

// schemaDDL is the reference schema for the three ingestion tables.
// Each table is optional at runtime (see package doc), so Migrate is a
// convenience for operators, not a startup requirement.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id                 TEXT PRIMARY KEY,
	source_url         TEXT NOT NULL DEFAULT '',
	content_hash       TEXT NOT NULL,
	last_source_update TIMESTAMP,
	last_ingested_at   TIMESTAMP NOT NULL,
	chunk_count        INTEGER NOT NULL DEFAULT 0,
	total_characters   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id      TEXT NOT NULL,
	source_url  TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	chunk       TEXT NOT NULL,
	chunk_hash  TEXT NOT NULL,
	embedding   BLOB NOT NULL,
	ingested_at TIMESTAMP NOT NULL,
	UNIQUE (doc_id, chunk_hash)
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks (doc_id);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id                  TEXT PRIMARY KEY,
	source              TEXT NOT NULL,
	ingestion_type      TEXT NOT NULL,
	partial_reason      TEXT,
	status              TEXT NOT NULL,
	started_at          TIMESTAMP NOT NULL,
	ended_at            TIMESTAMP,
	duration_ms         INTEGER NOT NULL DEFAULT 0,
	documents_processed INTEGER NOT NULL DEFAULT 0,
	documents_added     INTEGER NOT NULL DEFAULT 0,
	documents_updated   INTEGER NOT NULL DEFAULT 0,
	documents_skipped   INTEGER NOT NULL DEFAULT 0,
	chunks_added        INTEGER NOT NULL DEFAULT 0,
	chunks_updated      INTEGER NOT NULL DEFAULT 0,
	characters_added    INTEGER NOT NULL DEFAULT 0,
	characters_updated  INTEGER NOT NULL DEFAULT 0,
	error_count         INTEGER NOT NULL DEFAULT 0,
	error_logs          TEXT NOT NULL DEFAULT '[]',
	metadata            TEXT NOT NULL DEFAULT '{}'
);
`

// Migrate creates the ingestion tables if they do not exist.
// Idempotent - safe to run on every deployment.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
