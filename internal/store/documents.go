package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DocumentState is the last-known ingestion state of one source document.
// content_hash always reflects the chunk set currently stored for the
// document: state and chunks are written together in the pipeline.
type DocumentState struct {
	DocID            string
	SourceURL        string
	ContentHash      string
	LastSourceUpdate *time.Time // nullable, advisory unchanged-signal from the source system
	LastIngestedAt   time.Time
	ChunkCount       int
	TotalCharacters  int
}

// DocumentStore persists one row per source document in the documents table.
type DocumentStore struct {
	db     *sql.DB
	logger *slog.Logger
	avail  availability
}

// NewDocumentStore creates a DocumentStore backed by db.
func NewDocumentStore(db *DB, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{db: db.db, logger: logger}
}

// GetState returns the stored state for docID, or nil if the document has
// never been ingested. In degraded mode it always returns nil, which forces
// full reprocessing — the safe direction when history is unavailable.
func (s *DocumentStore) GetState(ctx context.Context, docID string) (*DocumentState, error) {
	if s.avail.isDegraded() {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_url, content_hash, last_source_update, last_ingested_at,
		       chunk_count, total_characters
		FROM documents
		WHERE id = ?`, docID)

	var state DocumentState
	var lastUpdate sql.NullTime
	err := row.Scan(&state.DocID, &state.SourceURL, &state.ContentHash,
		&lastUpdate, &state.LastIngestedAt, &state.ChunkCount, &state.TotalCharacters)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if isMissingSchema(err) {
		s.avail.disable(s.logger, "documents", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document state %s: %w", docID, err)
	}

	if lastUpdate.Valid {
		t := lastUpdate.Time
		state.LastSourceUpdate = &t
	}
	return &state, nil
}

// UpsertState writes the state row for state.DocID, inserting or updating as
// needed. Transient errors are retried; a missing table disables the store
// and the write is silently skipped.
func (s *DocumentStore) UpsertState(ctx context.Context, state *DocumentState) error {
	if s.avail.isDegraded() {
		return nil
	}

	var lastUpdate any
	if state.LastSourceUpdate != nil {
		lastUpdate = *state.LastSourceUpdate
	}

	op := func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO documents (id, source_url, content_hash, last_source_update,
			                       last_ingested_at, chunk_count, total_characters)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				source_url = excluded.source_url,
				content_hash = excluded.content_hash,
				last_source_update = excluded.last_source_update,
				last_ingested_at = excluded.last_ingested_at,
				chunk_count = excluded.chunk_count,
				total_characters = excluded.total_characters`,
			state.DocID, state.SourceURL, state.ContentHash, lastUpdate,
			state.LastIngestedAt, state.ChunkCount, state.TotalCharacters)
		if isMissingSchema(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := withWriteRetry(ctx, op); err != nil {
		if isMissingSchema(err) {
			s.avail.disable(s.logger, "documents", err)
			return nil
		}
		return fmt.Errorf("upsert document state %s: %w", state.DocID, err)
	}
	return nil
}
