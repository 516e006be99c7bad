package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petal-labs/siteingest/internal/ingest"
	"github.com/petal-labs/siteingest/internal/store"
)

type fakeRunner struct {
	lastReq ingest.Request
	events  []ingest.Event
	err     error
}

func (f *fakeRunner) Run(_ context.Context, req ingest.Request, emitter ingest.Emitter) (*ingest.Summary, error) {
	f.lastReq = req
	for _, ev := range f.events {
		emitter.Emit(ev)
	}
	return &ingest.Summary{Status: store.RunSuccess}, f.err
}

type fakeHealth struct{ err error }

func (f *fakeHealth) Health(context.Context) error { return f.err }

func newTestServer(runner *fakeRunner, health *fakeHealth) *Server {
	return New(Options{
		Logger:             slog.New(slog.DiscardHandler),
		Runner:             runner,
		Health:             health,
		Web:                nil,
		DefaultConcurrency: 3,
	})
}

func postIngest(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestIngest_StreamsEvents(t *testing.T) {
	runner := &fakeRunner{events: []ingest.Event{
		ingest.RunStarted{RunID: "run-1"},
		ingest.Log{Message: "Processing 1 document(s)"},
		ingest.Complete{RunID: "run-1", Status: store.RunSuccess, Message: "done"},
	}}
	s := newTestServer(runner, &fakeHealth{})

	rr := postIngest(t, s, `{"mode":"url","url":"https://example.com/a"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(rr.Body.String()), "\n\n")
	require.Len(t, frames, 3)
	for _, frame := range frames {
		assert.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
	}

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first))
	assert.Equal(t, "run", first["type"])
	assert.Equal(t, "run-1", first["runId"])

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "data: ")), &last))
	assert.Equal(t, "complete", last["type"])
}

func TestIngest_URLRequestShape(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(runner, &fakeHealth{})

	rr := postIngest(t, s, `{"mode":"url","urls":[" https://example.com/a ","http://example.com/b"],"ingestionType":"full"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	req := runner.lastReq
	assert.Equal(t, "manual/url", req.Source)
	assert.Equal(t, store.IngestionFull, req.Type)
	assert.Equal(t, 3, req.Concurrency)
	require.Len(t, req.Candidates, 2)
	assert.Equal(t, "https://example.com/a", req.Candidates[0].DocID)
	assert.Equal(t, map[string]any{"url_count": 2}, req.Metadata)
}

func TestIngest_BadRequests(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeHealth{})

	cases := map[string]string{
		"malformed json":  `{"mode":`,
		"unknown field":   `{"mode":"url","url":"https://a.example","bogus":1}`,
		"missing mode":    `{}`,
		"unknown mode":    `{"mode":"rss"}`,
		"no url":          `{"mode":"url"}`,
		"relative url":    `{"mode":"url","url":"/just/a/path"}`,
		"ftp scheme":      `{"mode":"url","url":"ftp://example.com/x"}`,
		"bad ingest type": `{"mode":"url","url":"https://a.example","ingestionType":"incremental"}`,
		"notion no token": `{"mode":"notion_page","pageId":"0123456789abcdef0123456789abcdef"}`,
		"bad notion page": `{"mode":"notion_page","pageId":"nope"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := postIngest(t, s, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var payload map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestSSEEmitter_NoOpAfterDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rr := httptest.NewRecorder()
	emitter := newSSEEmitter(rr, rr, ctx, slog.New(slog.DiscardHandler))

	emitter.Emit(ingest.Log{Message: "before disconnect"})
	require.Contains(t, rr.Body.String(), "before disconnect")

	cancel()
	emitter.Emit(ingest.Log{Message: "after disconnect"})
	assert.NotContains(t, rr.Body.String(), "after disconnect")
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeRunner{}, &fakeHealth{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok"`)

	sick := newTestServer(&fakeRunner{}, &fakeHealth{err: fmt.Errorf("database unreachable")})
	rr = httptest.NewRecorder()
	sick.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "database unreachable")
}
