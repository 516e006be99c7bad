package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/petal-labs/siteingest/internal/ingest"
)

// sseEmitter streams pipeline events to one HTTP response as server-sent
// events. Once the client connection dies, emits become no-ops so a running
// pipeline never blocks or writes to a dead socket.
type sseEmitter struct {
	mu     sync.Mutex
	w      io.Writer
	flush  http.Flusher
	conn   context.Context
	logger *slog.Logger
}

func newSSEEmitter(w io.Writer, flush http.Flusher, conn context.Context, logger *slog.Logger) *sseEmitter {
	return &sseEmitter{w: w, flush: flush, conn: conn, logger: logger}
}

func (e *sseEmitter) Emit(ev ingest.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn.Err() != nil {
		return
	}
	data, err := ingest.MarshalEvent(ev)
	if err != nil {
		e.logger.Error("could not encode event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		e.logger.Debug("event stream write failed", "error", err)
		return
	}
	e.flush.Flush()
}
