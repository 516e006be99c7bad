// Package main runs the ingestion HTTP daemon: a streaming ingest endpoint
// for the admin UI plus a storage health probe.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petal-labs/siteingest/internal/config"
	"github.com/petal-labs/siteingest/internal/embedding"
	"github.com/petal-labs/siteingest/internal/ingest"
	"github.com/petal-labs/siteingest/internal/notion"
	"github.com/petal-labs/siteingest/internal/server"
	"github.com/petal-labs/siteingest/internal/store"
	"github.com/petal-labs/siteingest/internal/textproc"
	"github.com/petal-labs/siteingest/internal/webpage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}
	defer db.Close()

	client, err := embedding.NewClient()
	if err != nil {
		return err
	}

	chunker, err := textproc.NewChunker()
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(
		chunker,
		embedding.NewEmbedder(client, 0),
		store.NewDocumentStore(db, logger),
		store.NewChunkStore(db, logger),
		store.NewRunStore(db, logger),
		logger,
	)

	var notionAPI notion.API
	if cfg.NotionToken != "" {
		notionAPI = notion.NewClient(cfg.NotionToken)
	} else {
		logger.Warn("NOTION_TOKEN not set, Notion ingestion disabled")
	}

	srv := server.New(server.Options{
		Logger:             logger,
		Runner:             pipeline,
		Health:             db,
		Web:                webpage.NewExtractor(nil, logger),
		NotionAPI:          notionAPI,
		MaxPages:           cfg.MaxPages,
		DefaultConcurrency: cfg.Concurrency,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingestion server listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
