package ingest

import (
	"sync"
	"time"

	"github.com/petal-labs/siteingest/internal/store"
)

// maxErrorLogs bounds the persisted error log to keep the run row small.
// Further errors are still counted; TruncatedErrors reports how many log
// entries were dropped.
const maxErrorLogs = 50

// runStats accumulates the totals of one run. It is the only cross-document
// shared mutable state, so it must be safe for concurrent increments when
// the per-document loop runs on a worker pool.
type runStats struct {
	mu        sync.Mutex
	totals    store.RunTotals
	errorLogs []store.ErrorLogEntry
	truncated int
}

func newRunStats() *runStats {
	return &runStats{}
}

// recordProcessed counts one candidate document entering the loop,
// regardless of its eventual outcome.
func (s *runStats) recordProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.DocumentsProcessed++
}

// recordAdded counts a first-time ingestion of a document.
func (s *runStats) recordAdded(chunks, characters int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.DocumentsAdded++
	s.totals.ChunksAdded += chunks
	s.totals.CharactersAdded += characters
}

// recordUpdated counts a re-ingestion of a previously known document.
func (s *runStats) recordUpdated(chunks, characters int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.DocumentsUpdated++
	s.totals.ChunksUpdated += chunks
	s.totals.CharactersUpdated += characters
}

// recordSkipped counts a document left untouched (unchanged, or nothing to
// ingest).
func (s *runStats) recordSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.DocumentsSkipped++
}

// recordError counts a failure and appends a structured log entry, dropping
// entries beyond the cap while keeping the count accurate.
func (s *runStats) recordError(context string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.ErrorCount++
	if len(s.errorLogs) >= maxErrorLogs {
		s.truncated++
		return
	}
	s.errorLogs = append(s.errorLogs, store.ErrorLogEntry{
		Context:   context,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// snapshot returns a copy of the current totals.
func (s *runStats) snapshot() store.RunTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// logs returns the captured error log entries and how many were truncated.
func (s *runStats) logs() ([]store.ErrorLogEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ErrorLogEntry, len(s.errorLogs))
	copy(out, s.errorLogs)
	return out, s.truncated
}
