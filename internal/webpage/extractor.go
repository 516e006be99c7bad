// Package webpage fetches public web articles over HTTP and reduces them to
// normalized plain text suitable for chunking, using semantic landmarks with
// a whole-body fallback.
package webpage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/petal-labs/siteingest/internal/ingest"
)

const (
	defaultTimeout = 30 * time.Second

	// maxBodyBytes caps how much of a response is parsed; pages past this
	// size are truncated rather than rejected.
	maxBodyBytes = 10 << 20

	userAgent = "siteingest/1.0 (+https://github.com/petal-labs/siteingest)"
)

// Extractor implements article extraction for http(s) URLs.
type Extractor struct {
	client *http.Client
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil client gets a default with a
// request timeout.
func NewExtractor(client *http.Client, logger *slog.Logger) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, logger: logger}
}

// Extract downloads cand.URL and returns the page title and the main
// article text. The Last-Modified header, when present and well-formed,
// becomes the source update timestamp.
func (e *Extractor) Extract(ctx context.Context, cand ingest.Candidate) (*ingest.Extracted, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", cand.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cand.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", cand.URL, resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", cand.URL, err)
	}

	var lastModified *time.Time
	if raw := resp.Header.Get("Last-Modified"); raw != "" {
		if ts, perr := http.ParseTime(raw); perr == nil {
			utc := ts.UTC()
			lastModified = &utc
		}
	}

	return &ingest.Extracted{
		Title:            e.pageTitle(doc, cand.URL),
		Text:             articleText(doc),
		LastSourceUpdate: lastModified,
	}, nil
}

// minContentLen is the smallest subtree, in characters, worth scoring as
// the main content region.
const minContentLen = 140

// articleText prefers text inside <main>/<article> landmarks, then the
// densest content subtree, then the whole body.
func articleText(doc *html.Node) string {
	var lines []string
	for _, root := range findContentRoots(doc) {
		if isBoilerplate(root) {
			continue
		}
		lines = append(lines, textLines(root)...)
	}
	if len(lines) == 0 {
		body := findBody(doc)
		if body == nil {
			body = doc
		}
		if dense := findDensestNode(body, minContentLen); dense != nil {
			lines = textLines(dense)
		} else {
			lines = textLines(body)
		}
	}
	return strings.Join(lines, "\n")
}

func (e *Extractor) pageTitle(doc *html.Node, rawURL string) string {
	if title := findTitle(doc); title != "" {
		return title
	}
	if heading := findFirstHeading(doc); heading != "" {
		return heading
	}
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return rawURL
}
