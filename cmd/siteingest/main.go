// Package main provides the siteingest CLI for ingesting CMS pages and web
// articles into the embedded content store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/siteingest/internal/config"
	"github.com/petal-labs/siteingest/internal/embedding"
	"github.com/petal-labs/siteingest/internal/ingest"
	"github.com/petal-labs/siteingest/internal/notion"
	"github.com/petal-labs/siteingest/internal/store"
	"github.com/petal-labs/siteingest/internal/textproc"
	"github.com/petal-labs/siteingest/internal/webpage"
)

var rootCmd = &cobra.Command{
	Use:   "siteingest",
	Short: "Content ingestion tool for the search index",
	Long:  "CLI for ingesting Notion pages and web articles: extract, chunk, embed and store.",
}

var (
	flagFull        bool
	flagReason      string
	flagConcurrency int
	flagLinked      bool
)

var urlsCmd = &cobra.Command{
	Use:   "urls <url> [url...]",
	Short: "Ingest one or more web articles",
	Long: `Fetches each URL, extracts the article text, and ingests changed
documents into the content store.

Environment variables:
  OPENAI_API_KEY     OpenAI API key for embeddings (required)
  SITEINGEST_DB      SQLite database path (default: siteingest.db)
  INGEST_CONCURRENCY Documents processed in parallel (default: 3)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runURLs,
}

var notionCmd = &cobra.Command{
	Use:   "notion <page-id>",
	Short: "Ingest a Notion page, optionally with its linked pages",
	Long: `Ingests one Notion page by ID. With --linked, every page reachable
from it through child pages and internal links is ingested too.

Environment variables:
  NOTION_TOKEN     Notion integration token (required)
  OPENAI_API_KEY   OpenAI API key for embeddings (required)
  SITEINGEST_DB    SQLite database path (default: siteingest.db)
  NOTION_MAX_PAGES Linked-page crawl limit (default: 100)`,
	Args: cobra.ExactArgs(1),
	RunE: runNotion,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagFull, "full", false, "reprocess documents even when unchanged")
	rootCmd.PersistentFlags().StringVar(&flagReason, "reason", "", "context note recorded with a partial run")
	rootCmd.PersistentFlags().IntVar(&flagConcurrency, "concurrency", 0, "documents processed in parallel (default from INGEST_CONCURRENCY)")
	notionCmd.Flags().BoolVar(&flagLinked, "linked", false, "also ingest pages linked from the root page")

	rootCmd.AddCommand(urlsCmd)
	rootCmd.AddCommand(notionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the shared setup of the ingestion commands.
type app struct {
	cfg      *config.Config
	db       *store.DB
	pipeline *ingest.Pipeline
	logger   *slog.Logger
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	client, err := embedding.NewClient()
	if err != nil {
		db.Close()
		return nil, err
	}
	embedder := embedding.NewEmbedder(client, 0)

	chunker, err := textproc.NewChunker()
	if err != nil {
		db.Close()
		return nil, err
	}

	pipeline := ingest.NewPipeline(
		chunker,
		embedder,
		store.NewDocumentStore(db, logger),
		store.NewChunkStore(db, logger),
		store.NewRunStore(db, logger),
		logger,
	)

	return &app{cfg: cfg, db: db, pipeline: pipeline, logger: logger}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("could not close database", "error", err)
	}
}

func ingestionType() store.IngestionType {
	if flagFull {
		return store.IngestionFull
	}
	return store.IngestionPartial
}

func (a *app) concurrency() int {
	if flagConcurrency > 0 {
		return flagConcurrency
	}
	return a.cfg.Concurrency
}

func runURLs(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	candidates := make([]ingest.Candidate, 0, len(args))
	for _, raw := range args {
		candidates = append(candidates, ingest.Candidate{DocID: raw, URL: raw})
	}

	summary, err := a.pipeline.Run(ctx, ingest.Request{
		Source:        "manual/url",
		Type:          ingestionType(),
		PartialReason: flagReason,
		Extractor:     webpage.NewExtractor(nil, a.logger),
		Candidates:    candidates,
		Concurrency:   a.concurrency(),
		Metadata:      map[string]any{"url_count": len(candidates)},
	}, newConsoleEmitter())
	if err != nil {
		return err
	}
	return reportSummary(summary)
}

func runNotion(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cfg.RequireNotion(); err != nil {
		return err
	}
	pageID, err := notion.NormalizePageID(args[0])
	if err != nil {
		return err
	}

	client := notion.NewClient(a.cfg.NotionToken)
	req := ingest.Request{
		Source:        "manual/notion-page",
		Type:          ingestionType(),
		PartialReason: flagReason,
		Extractor:     notion.NewExtractor(client, a.logger),
		Root:          ingest.Candidate{DocID: pageID, URL: notion.PageURL(pageID)},
		Concurrency:   1,
		Metadata:      map[string]any{"page_id": pageID, "linked": flagLinked},
	}
	if flagLinked {
		crawler := notion.NewCrawler(client, a.logger, a.cfg.MaxPages)
		req.DiscoverLinked = func(ctx context.Context) ([]ingest.Candidate, error) {
			return crawler.DiscoverLinkedPages(ctx, pageID)
		}
	}

	summary, err := a.pipeline.Run(ctx, req, newConsoleEmitter())
	if err != nil {
		return err
	}
	return reportSummary(summary)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", cfg.DatabasePath, err)
	}
	fmt.Printf("Schema ready in %s\n", cfg.DatabasePath)
	return nil
}

// reportSummary prints the outcome and fails the command when any document
// failed, so scripted callers see a non-zero exit.
func reportSummary(summary *ingest.Summary) error {
	fmt.Println()
	fmt.Println(summary.Message)
	fmt.Printf("  Duration: %s\n", summary.Duration.Round(time.Second))
	if summary.RunID != "" {
		fmt.Printf("  Run: %s\n", summary.RunID)
	}

	if summary.Status == store.RunFailed {
		return fmt.Errorf("ingestion failed")
	}
	if summary.Totals.ErrorCount > 0 {
		return fmt.Errorf("%d document(s) failed", summary.Totals.ErrorCount)
	}
	return nil
}

// consoleEmitter renders pipeline events as plain progress lines.
type consoleEmitter struct{}

func newConsoleEmitter() ingest.Emitter { return consoleEmitter{} }

func (consoleEmitter) Emit(event ingest.Event) {
	switch ev := event.(type) {
	case ingest.RunStarted:
		fmt.Printf("Run %s started\n", ev.RunID)
	case ingest.Log:
		fmt.Println(ev.Message)
	case ingest.Progress:
		// Phase markers are for streaming UIs; the CLI stays line-oriented.
	case ingest.Complete:
		// reportSummary prints the final outcome.
	}
}
