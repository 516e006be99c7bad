package ingest

import (
	"time"

	"github.com/petal-labs/siteingest/internal/store"
)

// ShouldSkip decides whether a document can be skipped without re-embedding.
//
// Full runs never skip: operators use them to force re-embedding after
// model or schema changes. Partial runs skip only when prior state exists,
// its stored hash equals the freshly computed one, and the source timestamp
// does not contradict it (no new timestamp available, or stored and new are
// equal). The content hash is the authoritative signal; the source system's
// last-edited timestamp is advisory only.
func ShouldSkip(state *store.DocumentState, newHash string, newSourceUpdate *time.Time, typ store.IngestionType) bool {
	if typ == store.IngestionFull {
		return false
	}
	if state == nil || state.ContentHash != newHash {
		return false
	}
	if newSourceUpdate == nil {
		return true
	}
	return state.LastSourceUpdate != nil && state.LastSourceUpdate.Equal(*newSourceUpdate)
}
