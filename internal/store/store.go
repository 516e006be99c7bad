// Package store persists document state, chunks and ingestion runs in SQLite.
//
// Each table is independently optional: when a store hits a missing-schema
// error ("no such table"), it flips into a degraded mode for the rest of the
// process — reads report no prior state and writes become no-ops — instead of
// failing the ingestion. This is a deliberate availability-over-consistency
// choice so the pipeline keeps working against a not-yet-migrated database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// writeRetryAttempts bounds retries for write operations; writes are the
// calls most likely to hit transient lock contention.
const writeRetryAttempts = 4

// DB wraps the SQLite handle shared by the document, chunk and run stores.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path.
// WAL mode and a single writer connection follow SQLite best practice for
// a process that mixes reads with bursts of writes.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite benefits from a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Health verifies the database connection is usable.
func (d *DB) Health(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// isMissingSchema reports whether err is a missing relation/function error,
// the class of error that flips a store into degraded mode rather than
// being retried.
func isMissingSchema(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such function")
}

// availability tracks whether a store's backing table exists.
// Once degraded, a store stays degraded for the process lifetime.
type availability struct {
	mu       sync.Mutex
	degraded bool
}

// disable flips the store into degraded mode, logging a warning the first
// time only.
func (a *availability) disable(logger *slog.Logger, table string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.degraded {
		return
	}
	a.degraded = true
	logger.Warn("table missing, store entering degraded mode for this process",
		"table", table, "error", err)
}

// isDegraded reports whether the store has been disabled.
func (a *availability) isDegraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// withWriteRetry runs op with bounded exponential backoff, retrying transient
// storage errors. Missing-schema errors must be wrapped in backoff.Permanent
// by the operation so they surface immediately.
func withWriteRetry(ctx context.Context, op backoff.Operation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, writeRetryAttempts-1), ctx))
}
