package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// IngestionType selects full or partial (change-detected) ingestion.
type IngestionType string

const (
	// IngestionFull forces re-embedding regardless of change detection.
	IngestionFull IngestionType = "full"
	// IngestionPartial honors the skip-if-unchanged rule.
	IngestionPartial IngestionType = "partial"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunInProgress          RunStatus = "in_progress"
	RunSuccess             RunStatus = "success"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// RunTotals are the running counters of one ingestion run.
type RunTotals struct {
	DocumentsProcessed int `json:"documents_processed"`
	DocumentsAdded     int `json:"documents_added"`
	DocumentsUpdated   int `json:"documents_updated"`
	DocumentsSkipped   int `json:"documents_skipped"`
	ChunksAdded        int `json:"chunks_added"`
	ChunksUpdated      int `json:"chunks_updated"`
	CharactersAdded    int `json:"characters_added"`
	CharactersUpdated  int `json:"characters_updated"`
	ErrorCount         int `json:"error_count"`
}

// ErrorLogEntry is one structured entry in a run's error log.
type ErrorLogEntry struct {
	Context   string    `json:"context"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Run is the handle for an in-progress ingestion run row.
// A nil *Run is a valid handle: it means the runs table was unavailable and
// the run proceeds without a persisted record.
type Run struct {
	ID        string
	Source    string
	Type      IngestionType
	StartedAt time.Time
}

// FinishInput carries everything Finish writes to the run row.
type FinishInput struct {
	Status    RunStatus
	Duration  time.Duration
	Totals    RunTotals
	ErrorLogs []ErrorLogEntry
}

// RunStore records the lifecycle of ingestion invocations in ingest_runs.
type RunStore struct {
	db     *sql.DB
	logger *slog.Logger
	avail  availability
}

// NewRunStore creates a RunStore backed by db.
func NewRunStore(db *DB, logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{db: db.db, logger: logger}
}

// Start inserts an in_progress run row and returns its handle.
// If the runs table is missing the store degrades and Start returns
// (nil, nil): ingestion proceeds without run history.
func (s *RunStore) Start(ctx context.Context, source string, typ IngestionType, partialReason string, metadata map[string]any) (*Run, error) {
	if s.avail.isDegraded() {
		return nil, nil
	}

	run := &Run{
		ID:        uuid.New().String(),
		Source:    source,
		Type:      typ,
		StartedAt: time.Now().UTC(),
	}

	metaJSON := []byte("{}")
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal run metadata: %w", err)
		}
	}

	var reason any
	if partialReason != "" {
		reason = partialReason
	}

	op := func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO ingest_runs (id, source, ingestion_type, partial_reason, status, started_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Source, string(run.Type), reason, string(RunInProgress),
			run.StartedAt, string(metaJSON))
		if isMissingSchema(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := withWriteRetry(ctx, op); err != nil {
		if isMissingSchema(err) {
			s.avail.disable(s.logger, "ingest_runs", err)
			return nil, nil
		}
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// Finish writes the terminal state of a run. It is a no-op for a nil handle
// or a degraded store, so callers can invoke it unconditionally on every
// exit path.
func (s *RunStore) Finish(ctx context.Context, run *Run, input FinishInput) error {
	if run == nil || s.avail.isDegraded() {
		return nil
	}

	logsJSON := []byte("[]")
	if len(input.ErrorLogs) > 0 {
		var err error
		logsJSON, err = json.Marshal(input.ErrorLogs)
		if err != nil {
			return fmt.Errorf("marshal error logs: %w", err)
		}
	}

	op := func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE ingest_runs SET
				status = ?,
				ended_at = ?,
				duration_ms = ?,
				documents_processed = ?,
				documents_added = ?,
				documents_updated = ?,
				documents_skipped = ?,
				chunks_added = ?,
				chunks_updated = ?,
				characters_added = ?,
				characters_updated = ?,
				error_count = ?,
				error_logs = ?
			WHERE id = ?`,
			string(input.Status), time.Now().UTC(), input.Duration.Milliseconds(),
			input.Totals.DocumentsProcessed, input.Totals.DocumentsAdded,
			input.Totals.DocumentsUpdated, input.Totals.DocumentsSkipped,
			input.Totals.ChunksAdded, input.Totals.ChunksUpdated,
			input.Totals.CharactersAdded, input.Totals.CharactersUpdated,
			input.Totals.ErrorCount, string(logsJSON), run.ID)
		if isMissingSchema(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := withWriteRetry(ctx, op); err != nil {
		if isMissingSchema(err) {
			s.avail.disable(s.logger, "ingest_runs", err)
			return nil
		}
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun reads back a run row, primarily for operator tooling and tests.
func (s *RunStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	if s.avail.isDegraded() {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, ingestion_type, COALESCE(partial_reason, ''), status,
		       started_at, duration_ms,
		       documents_processed, documents_added, documents_updated, documents_skipped,
		       chunks_added, chunks_updated, characters_added, characters_updated,
		       error_count, error_logs, metadata
		FROM ingest_runs
		WHERE id = ?`, id)

	var rec RunRecord
	var durationMs int64
	var logsJSON, metaJSON string
	err := row.Scan(&rec.ID, &rec.Source, &rec.Type, &rec.PartialReason, &rec.Status,
		&rec.StartedAt, &durationMs,
		&rec.Totals.DocumentsProcessed, &rec.Totals.DocumentsAdded,
		&rec.Totals.DocumentsUpdated, &rec.Totals.DocumentsSkipped,
		&rec.Totals.ChunksAdded, &rec.Totals.ChunksUpdated,
		&rec.Totals.CharactersAdded, &rec.Totals.CharactersUpdated,
		&rec.Totals.ErrorCount, &logsJSON, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if isMissingSchema(err) {
		s.avail.disable(s.logger, "ingest_runs", err)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	rec.Duration = time.Duration(durationMs) * time.Millisecond
	if err := json.Unmarshal([]byte(logsJSON), &rec.ErrorLogs); err != nil {
		return nil, fmt.Errorf("decode error logs for run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for run %s: %w", id, err)
	}
	return &rec, nil
}

// RunRecord is a fully materialized run row.
type RunRecord struct {
	ID            string
	Source        string
	Type          string
	PartialReason string
	Status        string
	StartedAt     time.Time
	Duration      time.Duration
	Totals        RunTotals
	ErrorLogs     []ErrorLogEntry
	Metadata      map[string]any
}
