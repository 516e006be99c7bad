package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Chunk is one embedded slice of a document's text.
// Hash is the chunk fingerprint and, together with DocID, the dedup key.
type Chunk struct {
	DocID      string
	SourceURL  string
	Title      string
	Text       string
	Hash       string
	Embedding  []float32
	IngestedAt time.Time
}

// MatchResult is a chunk returned from similarity search with its score.
type MatchResult struct {
	Chunk      Chunk
	Similarity float64
}

// ChunkStore persists the current chunk set per document in the chunks table.
type ChunkStore struct {
	db     *sql.DB
	logger *slog.Logger
	avail  availability
}

// NewChunkStore creates a ChunkStore backed by db.
func NewChunkStore(db *DB, logger *slog.Logger) *ChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{db: db.db, logger: logger}
}

// Replace atomically swaps the chunk set for docID: all prior chunks are
// deleted, then chunks are inserted in one transaction. An empty chunks
// slice still performs the delete — that correctly represents "document now
// has zero extractable content".
//
// Safe to retry: the delete is idempotent and the insert upserts on
// (doc_id, chunk_hash), so a retry after a partial success cannot
// duplicate rows.
func (s *ChunkStore) Replace(ctx context.Context, docID string, chunks []Chunk) error {
	if s.avail.isDegraded() {
		return nil
	}

	op := func() error {
		err := s.replaceTx(ctx, docID, chunks)
		if isMissingSchema(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := withWriteRetry(ctx, op); err != nil {
		if isMissingSchema(err) {
			s.avail.disable(s.logger, "chunks", err)
			return nil
		}
		return fmt.Errorf("replace chunks for %s: %w", docID, err)
	}
	return nil
}

func (s *ChunkStore) replaceTx(ctx context.Context, docID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
		return err
	}

	for _, chunk := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (doc_id, source_url, title, chunk, chunk_hash, embedding, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (doc_id, chunk_hash) DO UPDATE SET
				source_url = excluded.source_url,
				title = excluded.title,
				chunk = excluded.chunk,
				embedding = excluded.embedding,
				ingested_at = excluded.ingested_at`,
			chunk.DocID, chunk.SourceURL, chunk.Title, chunk.Text, chunk.Hash,
			serializeVector(chunk.Embedding), chunk.IngestedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Count returns the number of stored chunks for docID.
func (s *ChunkStore) Count(ctx context.Context, docID string) (int, error) {
	if s.avail.isDegraded() {
		return 0, nil
	}

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = ?`, docID).Scan(&n)
	if isMissingSchema(err) {
		s.avail.disable(s.logger, "chunks", err)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count chunks for %s: %w", docID, err)
	}
	return n, nil
}

// Match returns the limit most similar chunks to embedding, ordered by
// cosine similarity descending. Similarity is computed Go-side, which keeps
// the store portable across SQLite builds without a vector extension.
func (s *ChunkStore) Match(ctx context.Context, embedding []float32, limit int) ([]MatchResult, error) {
	if s.avail.isDegraded() || limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, source_url, title, chunk, chunk_hash, embedding, ingested_at
		FROM chunks`)
	if isMissingSchema(err) {
		s.avail.disable(s.logger, "chunks", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var results []MatchResult
	for rows.Next() {
		var chunk Chunk
		var blob []byte
		if err := rows.Scan(&chunk.DocID, &chunk.SourceURL, &chunk.Title,
			&chunk.Text, &chunk.Hash, &blob, &chunk.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		vector, err := deserializeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s/%s: %w", chunk.DocID, chunk.Hash, err)
		}
		chunk.Embedding = vector

		results = append(results, MatchResult{
			Chunk:      chunk,
			Similarity: cosineSimilarity(embedding, vector),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
