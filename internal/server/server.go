// Package server exposes the ingestion pipeline over HTTP: a streaming
// ingest endpoint plus a storage health probe.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petal-labs/siteingest/internal/ingest"
	"github.com/petal-labs/siteingest/internal/notion"
	"github.com/petal-labs/siteingest/internal/store"
)

// Runner executes one ingestion request, streaming events to the emitter.
// *ingest.Pipeline is the production implementation.
type Runner interface {
	Run(ctx context.Context, req ingest.Request, emitter ingest.Emitter) (*ingest.Summary, error)
}

// HealthChecker reports whether persistent storage is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server wires the pipeline and source adapters to HTTP routes.
type Server struct {
	logger *slog.Logger
	runner Runner
	health HealthChecker

	// web extracts article text for URL requests.
	web ingest.Extractor
	// notionAPI is nil when no Notion token is configured; Notion requests
	// are then rejected up front.
	notionAPI notion.API

	maxPages           int
	defaultConcurrency int
}

// Options carries the dependencies for New.
type Options struct {
	Logger             *slog.Logger
	Runner             Runner
	Health             HealthChecker
	Web                ingest.Extractor
	NotionAPI          notion.API
	MaxPages           int
	DefaultConcurrency int
}

// New creates a Server from its dependencies.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.DefaultConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Server{
		logger:             logger,
		runner:             opts.Runner,
		health:             opts.Health,
		web:                opts.Web,
		notionAPI:          opts.NotionAPI,
		maxPages:           opts.MaxPages,
		defaultConcurrency: concurrency,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/api/ingest", s.handleIngest)
	r.Get("/health", s.handleHealth)
	return r
}

// ingestRequest is the POST /api/ingest body. "url" and "urls" are
// alternatives: the admin UI sends one URL, scripts may send several.
type ingestRequest struct {
	Mode               string   `json:"mode"`
	PageID             string   `json:"pageId,omitempty"`
	URL                string   `json:"url,omitempty"`
	URLs               []string `json:"urls,omitempty"`
	IngestionType      string   `json:"ingestionType,omitempty"`
	Reason             string   `json:"reason,omitempty"`
	IncludeLinkedPages bool     `json:"includeLinkedPages,omitempty"`
	Concurrency        int      `json:"concurrency,omitempty"`
}

// handleIngest validates the request synchronously so malformed input gets a
// conventional 4xx, then switches the response to an SSE stream and runs the
// pipeline. Client disconnects stop the stream but never the ingestion.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req, err := s.buildRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emitter := newSSEEmitter(w, flusher, r.Context(), s.logger)

	// The pipeline outlives the request: a closed browser tab must not
	// abandon a half-finished run.
	if _, err := s.runner.Run(context.WithoutCancel(r.Context()), *req, emitter); err != nil {
		s.logger.Error("ingestion run failed", "error", err)
	}
}

// buildRequest translates the HTTP body into a pipeline request, rejecting
// anything malformed before any streaming starts.
func (s *Server) buildRequest(body ingestRequest) (*ingest.Request, error) {
	typ, err := parseIngestionType(body.IngestionType)
	if err != nil {
		return nil, err
	}

	concurrency := body.Concurrency
	if concurrency < 1 {
		concurrency = s.defaultConcurrency
	}

	req := &ingest.Request{
		Type:          typ,
		PartialReason: body.Reason,
		Concurrency:   concurrency,
	}

	switch body.Mode {
	case "notion_page":
		if s.notionAPI == nil {
			return nil, fmt.Errorf("notion ingestion is not configured: NOTION_TOKEN is missing")
		}
		pageID, err := notion.NormalizePageID(body.PageID)
		if err != nil {
			return nil, err
		}
		req.Source = "manual/notion-page"
		// Page ingestion is sequential: crawl order is part of the
		// operator-visible log output.
		req.Concurrency = 1
		req.Extractor = notion.NewExtractor(s.notionAPI, s.logger)
		req.Root = ingest.Candidate{DocID: pageID, URL: notion.PageURL(pageID)}
		req.Metadata = map[string]any{"page_id": pageID, "linked": body.IncludeLinkedPages}
		if body.IncludeLinkedPages {
			crawler := notion.NewCrawler(s.notionAPI, s.logger, s.maxPages)
			req.DiscoverLinked = func(ctx context.Context) ([]ingest.Candidate, error) {
				return crawler.DiscoverLinkedPages(ctx, pageID)
			}
		}
		return req, nil

	case "url":
		raws := body.URLs
		if body.URL != "" {
			raws = append([]string{body.URL}, raws...)
		}
		if len(raws) == 0 {
			return nil, fmt.Errorf("url ingestion requires at least one URL")
		}
		candidates := make([]ingest.Candidate, 0, len(raws))
		for _, raw := range raws {
			cand, err := urlCandidate(raw)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, cand)
		}
		req.Source = "manual/url"
		req.Extractor = s.web
		req.Candidates = candidates
		req.Metadata = map[string]any{"url_count": len(candidates)}
		return req, nil

	case "":
		return nil, fmt.Errorf("mode is required (\"notion_page\" or \"url\")")
	default:
		return nil, fmt.Errorf("unknown mode %q", body.Mode)
	}
}

func parseIngestionType(raw string) (store.IngestionType, error) {
	switch raw {
	case "", string(store.IngestionPartial):
		return store.IngestionPartial, nil
	case string(store.IngestionFull):
		return store.IngestionFull, nil
	default:
		return "", fmt.Errorf("unknown ingestion type %q", raw)
	}
}

// urlCandidate validates an absolute http(s) URL and uses its trimmed form
// as the stable document ID.
func urlCandidate(raw string) (ingest.Candidate, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return ingest.Candidate{}, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ingest.Candidate{}, fmt.Errorf("invalid URL %q: must be absolute http(s)", raw)
	}
	return ingest.Candidate{DocID: trimmed, URL: trimmed}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Health(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("could not write response", "error", err)
	}
}
