package ingest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/petal-labs/siteingest/internal/store"
)

// Phase is a coarse progress marker within a run.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseFetched      Phase = "fetched"
	PhaseProcessing   Phase = "processing"
	PhaseEmbedding    Phase = "embedding"
	PhaseSaving       Phase = "saving"
	PhaseFinished     Phase = "finished"
)

// Event is the tagged union of progress events emitted during a run:
// RunStarted | Log | Progress | Complete. Events are emitted in strict
// chronological order on a single emitter per invocation, and exactly one
// Complete is emitted last on every code path.
type Event interface {
	isEvent()
}

// RunStarted carries the persisted run ID. It is the first event of a run
// when a run record was created; runs in degraded mode never emit it.
type RunStarted struct {
	RunID string `json:"runId"`
}

// Log is a human-readable progress line.
type Log struct {
	Message string `json:"message"`
}

// Progress is an advisory completion marker. Percent is monotonically
// non-decreasing within a run but is a coarse phase indicator, not a precise
// completion fraction.
type Progress struct {
	Phase   Phase `json:"phase"`
	Percent int   `json:"percent"`
}

// Complete is always the last event of a run and carries the final outcome.
// Consumers must treat its receipt as the authoritative end-of-stream signal:
// a transport disconnect before Complete means the stream was cut short.
type Complete struct {
	RunID   string          `json:"runId,omitempty"`
	Status  store.RunStatus `json:"status"`
	Message string          `json:"message"`
	Stats   store.RunTotals `json:"stats"`
}

func (RunStarted) isEvent() {}
func (Log) isEvent()        {}
func (Progress) isEvent()   {}
func (Complete) isEvent()   {}

// MarshalEvent encodes an event as a tagged JSON object, the wire shape the
// admin UI consumes: {"type":"log","message":"..."} and so on.
func MarshalEvent(event Event) ([]byte, error) {
	switch ev := event.(type) {
	case RunStarted:
		return json.Marshal(struct {
			Type string `json:"type"`
			RunStarted
		}{"run", ev})
	case Log:
		return json.Marshal(struct {
			Type string `json:"type"`
			Log
		}{"log", ev})
	case Progress:
		return json.Marshal(struct {
			Type string `json:"type"`
			Progress
		}{"progress", ev})
	case Complete:
		return json.Marshal(struct {
			Type string `json:"type"`
			Complete
		}{"complete", ev})
	default:
		return nil, fmt.Errorf("unknown event type %T", event)
	}
}

// Emitter receives the ordered event stream of one run.
// Implementations must tolerate being called after their consumer is gone
// (a disconnected SSE client): emission becomes a no-op, never an error.
type Emitter interface {
	Emit(event Event)
}

// NopEmitter discards all events.
func NopEmitter() Emitter {
	return nopEmitter{}
}

type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

// progressTracker serializes Progress emission and keeps the percent
// monotonically non-decreasing even when workers report out of order.
type progressTracker struct {
	mu      sync.Mutex
	emitter Emitter
	percent int
}

func newProgressTracker(emitter Emitter) *progressTracker {
	return &progressTracker{emitter: emitter}
}

// update raises the percent to at least the given value and emits a
// Progress event for the phase.
func (t *progressTracker) update(phase Phase, percent int) {
	t.mu.Lock()
	if percent > t.percent {
		t.percent = percent
	}
	current := t.percent
	t.mu.Unlock()

	t.emitter.Emit(Progress{Phase: phase, Percent: current})
}

// mark emits a phase marker at the current percent without advancing it.
func (t *progressTracker) mark(phase Phase) {
	t.mu.Lock()
	current := t.percent
	t.mu.Unlock()

	t.emitter.Emit(Progress{Phase: phase, Percent: current})
}
