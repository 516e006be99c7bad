package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/petal-labs/siteingest/internal/store"
	"github.com/petal-labs/siteingest/internal/textproc"
)

// Candidate identifies one document to ingest: a stable document ID (a
// normalized page ID or canonical URL) plus its human-resolvable location.
type Candidate struct {
	DocID string
	URL   string
}

// Extracted is the common output shape of the source extractors.
type Extracted struct {
	Title            string
	Text             string
	LastSourceUpdate *time.Time
}

// Extractor fetches and normalizes the content of one candidate document.
type Extractor interface {
	Extract(ctx context.Context, cand Candidate) (*Extracted, error)
}

// Embedder turns chunk texts into vectors, one per input, order preserved.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStates is the persistence boundary for per-document state.
type DocumentStates interface {
	GetState(ctx context.Context, docID string) (*store.DocumentState, error)
	UpsertState(ctx context.Context, state *store.DocumentState) error
}

// ChunkWriter replaces the stored chunk set of a document.
type ChunkWriter interface {
	Replace(ctx context.Context, docID string, chunks []store.Chunk) error
}

// RunRecorder tracks run lifecycle rows. Start may return a nil run when
// run history is unavailable; Finish must accept that nil handle.
type RunRecorder interface {
	Start(ctx context.Context, source string, typ store.IngestionType, partialReason string, metadata map[string]any) (*store.Run, error)
	Finish(ctx context.Context, run *store.Run, input store.FinishInput) error
}

// Request describes one ingestion invocation.
type Request struct {
	// Source tags the run's origin, e.g. "manual/notion-page", "manual/url", "web".
	Source string
	// Type selects full or partial ingestion.
	Type store.IngestionType
	// PartialReason is free-form operator context for partial runs.
	PartialReason string
	// Extractor resolves candidate documents to normalized text.
	Extractor Extractor

	// Candidates is the explicit document list (batch URL mode). When set,
	// Root and DiscoverLinked are ignored.
	Candidates []Candidate
	// Root is the single entry document (CMS page mode).
	Root Candidate
	// DiscoverLinked optionally enumerates pages linked from Root. A
	// discovery error degrades the run to the root page alone instead of
	// aborting it.
	DiscoverLinked func(ctx context.Context) ([]Candidate, error)

	// Concurrency > 1 processes candidates on a worker pool. The default
	// of 0/1 keeps the per-document loop sequential.
	Concurrency int
	// Metadata is free-form run context (root page id, url count, hostname).
	Metadata map[string]any
}

// Summary is the final outcome of one run.
type Summary struct {
	RunID           string
	Status          store.RunStatus
	Totals          store.RunTotals
	Duration        time.Duration
	Message         string
	TruncatedErrors int
}

// Pipeline coordinates the full ingestion process: candidate enumeration,
// extraction, change detection, chunking, embedding and storage, with run
// bookkeeping and progress events.
type Pipeline struct {
	chunker   *textproc.Chunker
	embedder  Embedder
	documents DocumentStates
	chunks    ChunkWriter
	runs      RunRecorder
	logger    *slog.Logger
}

// NewPipeline creates an ingestion pipeline with the given components.
func NewPipeline(
	chunker *textproc.Chunker,
	embedder Embedder,
	documents DocumentStates,
	chunks ChunkWriter,
	runs RunRecorder,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chunker:   chunker,
		embedder:  embedder,
		documents: documents,
		chunks:    chunks,
		runs:      runs,
		logger:    logger,
	}
}

// Run executes one ingestion invocation and reports progress on emitter.
//
// A single document's failure is logged and counted but never aborts the
// run; only failures outside the per-document loop are fatal. On every path
// the run row is finalized exactly once and exactly one Complete event is
// emitted last. The returned error is non-nil only for fatal runs.
func (p *Pipeline) Run(ctx context.Context, req Request, emitter Emitter) (summary *Summary, err error) {
	if emitter == nil {
		emitter = NopEmitter()
	}
	start := time.Now()
	stats := newRunStats()
	prog := newProgressTracker(emitter)

	run, startErr := p.runs.Start(ctx, req.Source, req.Type, req.PartialReason, req.Metadata)
	if startErr != nil {
		// Run history is optional: keep ingesting without a persisted record.
		p.logger.Warn("could not record run start, continuing without run history", "error", startErr)
		run = nil
	}
	// The run event, when a record exists, precedes every other event.
	if run != nil {
		emitter.Emit(RunStarted{RunID: run.ID})
	}
	prog.update(PhaseInitializing, 5)

	var fatal error
	defer func() {
		// Terminal bookkeeping must happen on every exit path, including a
		// panic inside a source adapter: the run row is finalized once and
		// the consumer always receives its Complete event.
		if r := recover(); r != nil {
			fatal = fmt.Errorf("ingestion panicked: %v", r)
		}
		summary = p.finalize(ctx, run, stats, prog, emitter, fatal, time.Since(start))
		if fatal != nil {
			err = fatal
		}
	}()

	fatal = p.execute(ctx, req, emitter, stats, prog)
	return nil, nil // replaced by the deferred finalize
}

// execute runs candidate enumeration and the per-document loop.
// Its returned error is fatal: it aborts the remaining run.
func (p *Pipeline) execute(ctx context.Context, req Request, emitter Emitter, stats *runStats, prog *progressTracker) error {
	candidates, err := p.collectCandidates(ctx, req, emitter)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		emitter.Emit(Log{Message: "No documents to ingest"})
		return nil
	}

	emitter.Emit(Log{Message: fmt.Sprintf("Processing %d document(s)", len(candidates))})
	prog.update(PhaseFetched, 15)

	total := int64(len(candidates))
	var done int64

	worker := func(cand Candidate) {
		stats.recordProcessed()
		if docErr := p.processDocument(ctx, req, cand, stats, emitter, prog); docErr != nil {
			stats.recordError(cand.DocID, docErr)
			p.logger.Warn("document failed", "doc", cand.DocID, "error", docErr)
			emitter.Emit(Log{Message: fmt.Sprintf("Failed %s: %v", cand.DocID, docErr)})
		}
		n := atomic.AddInt64(&done, 1)
		prog.update(PhaseProcessing, 15+int(70*n/total))
	}

	if req.Concurrency > 1 {
		pool, poolErr := ants.NewPool(req.Concurrency)
		if poolErr != nil {
			return fmt.Errorf("create worker pool: %w", poolErr)
		}
		defer pool.Release()

		var wg sync.WaitGroup
		for _, cand := range candidates {
			wg.Add(1)
			if submitErr := pool.Submit(func() {
				defer wg.Done()
				worker(cand)
			}); submitErr != nil {
				wg.Done()
				stats.recordProcessed()
				stats.recordError(cand.DocID, submitErr)
			}
		}
		wg.Wait()
	} else {
		for _, cand := range candidates {
			worker(cand)
		}
	}

	return nil
}

// collectCandidates builds the deduplicated, traversal-ordered document list
// for the run. Linked-page discovery failure is not fatal: the run degrades
// to the root page alone.
func (p *Pipeline) collectCandidates(ctx context.Context, req Request, emitter Emitter) ([]Candidate, error) {
	if len(req.Candidates) > 0 {
		return dedupCandidates(req.Candidates), nil
	}
	if req.Root.DocID == "" {
		return nil, errors.New("no documents requested")
	}

	out := []Candidate{req.Root}
	if req.DiscoverLinked != nil {
		linked, err := req.DiscoverLinked(ctx)
		if err != nil {
			p.logger.Warn("linked page discovery failed, ingesting root page only", "error", err)
			emitter.Emit(Log{Message: "Linked page discovery failed; ingesting the root page only"})
			return out, nil
		}
		out = append(out, linked...)
	}
	return dedupCandidates(out), nil
}

// processDocument handles one candidate end to end:
// extract, hash, skip-check, chunk, embed, store.
func (p *Pipeline) processDocument(ctx context.Context, req Request, cand Candidate, stats *runStats, emitter Emitter, prog *progressTracker) error {
	extracted, err := req.Extractor.Extract(ctx, cand)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	text := strings.TrimSpace(extracted.Text)
	if text == "" {
		// Nothing to ingest is a skip, not an error.
		stats.recordSkipped()
		emitter.Emit(Log{Message: fmt.Sprintf("Skipped %s: no extractable content", cand.DocID)})
		return nil
	}

	docHash := textproc.DocumentFingerprint(cand.DocID, text)
	state, err := p.documents.GetState(ctx, cand.DocID)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	if ShouldSkip(state, docHash, extracted.LastSourceUpdate, req.Type) {
		stats.recordSkipped()
		emitter.Emit(Log{Message: fmt.Sprintf("Skipped %s: unchanged", cand.DocID)})
		return nil
	}

	chunkTexts := p.chunker.Split(text)
	if len(chunkTexts) == 0 {
		stats.recordSkipped()
		return nil
	}

	prog.mark(PhaseEmbedding)
	vectors, err := p.embedder.EmbedTexts(ctx, chunkTexts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(chunkTexts), err)
	}
	if len(vectors) != len(chunkTexts) {
		return fmt.Errorf("embedding count mismatch: %d texts, %d vectors", len(chunkTexts), len(vectors))
	}

	now := time.Now().UTC()
	rows := make([]store.Chunk, len(chunkTexts))
	for i, chunkText := range chunkTexts {
		rows[i] = store.Chunk{
			DocID:      cand.DocID,
			SourceURL:  cand.URL,
			Title:      extracted.Title,
			Text:       chunkText,
			Hash:       textproc.ChunkFingerprint(cand.DocID, chunkText),
			Embedding:  vectors[i],
			IngestedAt: now,
		}
	}

	prog.mark(PhaseSaving)
	if err := p.chunks.Replace(ctx, cand.DocID, rows); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	if err := p.documents.UpsertState(ctx, &store.DocumentState{
		DocID:            cand.DocID,
		SourceURL:        cand.URL,
		ContentHash:      docHash,
		LastSourceUpdate: extracted.LastSourceUpdate,
		LastIngestedAt:   now,
		ChunkCount:       len(rows),
		TotalCharacters:  len(text),
	}); err != nil {
		return fmt.Errorf("store document state: %w", err)
	}

	if state == nil {
		stats.recordAdded(len(rows), len(text))
	} else {
		stats.recordUpdated(len(rows), len(text))
	}
	emitter.Emit(Log{Message: fmt.Sprintf("Ingested %s (%d chunks)", cand.DocID, len(rows))})
	return nil
}

// finalize derives the terminal status, writes the run row and emits the
// Complete event. Called exactly once per Run invocation.
func (p *Pipeline) finalize(ctx context.Context, run *store.Run, stats *runStats, prog *progressTracker, emitter Emitter, fatal error, duration time.Duration) *Summary {
	if fatal != nil {
		stats.recordError("fatal", fatal)
	}

	totals := stats.snapshot()
	status := store.RunSuccess
	switch {
	case fatal != nil:
		status = store.RunFailed
	case totals.ErrorCount > 0:
		status = store.RunCompletedWithErrors
	}

	errorLogs, truncated := stats.logs()

	// The run row must be finalized even when the caller's context died with
	// its client connection.
	finishCtx := context.WithoutCancel(ctx)
	if finishErr := p.runs.Finish(finishCtx, run, store.FinishInput{
		Status:    status,
		Duration:  duration,
		Totals:    totals,
		ErrorLogs: errorLogs,
	}); finishErr != nil {
		p.logger.Error("could not finalize run record", "error", finishErr)
	}

	message := summaryMessage(status, totals, duration, truncated, fatal)
	prog.update(PhaseFinished, 100)

	runID := ""
	if run != nil {
		runID = run.ID
	}
	emitter.Emit(Complete{
		RunID:   runID,
		Status:  status,
		Message: message,
		Stats:   totals,
	})

	p.logger.Info("ingestion run finished",
		"status", status,
		"documents", totals.DocumentsProcessed,
		"skipped", totals.DocumentsSkipped,
		"errors", totals.ErrorCount,
		"duration", duration.Round(time.Millisecond),
	)

	return &Summary{
		RunID:           runID,
		Status:          status,
		Totals:          totals,
		Duration:        duration,
		Message:         message,
		TruncatedErrors: truncated,
	}
}

// summaryMessage builds the human-readable terminal summary for the UI.
func summaryMessage(status store.RunStatus, totals store.RunTotals, duration time.Duration, truncated int, fatal error) string {
	switch status {
	case store.RunFailed:
		return fmt.Sprintf("Ingestion failed after %s: %v", duration.Round(time.Millisecond), fatal)
	case store.RunCompletedWithErrors:
		msg := fmt.Sprintf("Completed with %d error(s): %d document(s) processed, %d skipped in %s",
			totals.ErrorCount, totals.DocumentsProcessed, totals.DocumentsSkipped, duration.Round(time.Millisecond))
		if truncated > 0 {
			msg += fmt.Sprintf(" (%d error log entries omitted)", truncated)
		}
		return msg
	default:
		return fmt.Sprintf("Ingested %d document(s) (%d added, %d updated, %d skipped, %d chunks) in %s",
			totals.DocumentsProcessed, totals.DocumentsAdded, totals.DocumentsUpdated,
			totals.DocumentsSkipped, totals.ChunksAdded+totals.ChunksUpdated, duration.Round(time.Millisecond))
	}
}

// dedupCandidates removes duplicate document IDs, preserving first-seen order.
func dedupCandidates(in []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, cand := range in {
		if _, ok := seen[cand.DocID]; ok {
			continue
		}
		seen[cand.DocID] = struct{}{}
		out = append(out, cand)
	}
	return out
}
