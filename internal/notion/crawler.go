package notion

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/petal-labs/siteingest/internal/ingest"
)

// defaultMaxPages bounds a linked-page crawl so a densely connected
// workspace cannot turn one request into an unbounded walk.
const defaultMaxPages = 100

var pageIDTail = regexp.MustCompile(`([0-9a-fA-F]{32})$`)

// Crawler discovers pages reachable from a root page through internal links:
// child pages, link_to_page blocks, and notion.so hyperlinks in rich text.
type Crawler struct {
	api      API
	logger   *slog.Logger
	maxPages int
}

// NewCrawler creates a Crawler. maxPages <= 0 selects the default limit.
func NewCrawler(api API, logger *slog.Logger, maxPages int) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Crawler{api: api, logger: logger, maxPages: maxPages}
}

// DiscoverLinkedPages walks outward from rootID breadth-first and returns one
// candidate per reachable page, root first. Cycles and repeated links are
// visited once. Failing to enumerate the root is an error; failures on
// linked pages are logged and skipped so one broken link does not sink the
// crawl.
func (c *Crawler) DiscoverLinkedPages(ctx context.Context, rootID string) ([]ingest.Candidate, error) {
	root, err := NormalizePageID(rootID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{root: true}
	queue := []string{root}
	var out []ingest.Candidate

	for len(queue) > 0 && len(out) < c.maxPages {
		pageID := queue[0]
		queue = queue[1:]
		out = append(out, ingest.Candidate{DocID: pageID, URL: PageURL(pageID)})

		var links []string
		if err := c.pageLinks(ctx, pageID, 0, &links); err != nil {
			if pageID == root {
				return nil, fmt.Errorf("enumerate links of root page %s: %w", root, err)
			}
			c.logger.Warn("skipping links of unreadable page", "page_id", pageID, "error", err)
			continue
		}
		for _, link := range links {
			if !seen[link] {
				seen[link] = true
				queue = append(queue, link)
			}
		}
	}
	return out, nil
}

// pageLinks collects the normalized page IDs linked from a block subtree.
func (c *Crawler) pageLinks(ctx context.Context, blockID string, depth int, links *[]string) error {
	if depth > maxBlockDepth {
		return nil
	}
	blocks, err := c.api.GetBlockChildren(ctx, blockID)
	if err != nil {
		return err
	}
	for _, block := range blocks {
		switch b := block.(type) {
		case *notionapi.ChildPageBlock:
			c.appendLink(links, string(b.GetID()))
			// The child page's own links surface when it is crawled.
			continue
		case *notionapi.LinkToPageBlock:
			if b.LinkToPage.PageID != "" {
				c.appendLink(links, string(b.LinkToPage.PageID))
			}
		default:
			for _, part := range blockRichText(block) {
				if part.Href != "" {
					if id, ok := pageIDFromURL(part.Href); ok {
						c.appendLink(links, id)
					}
				}
			}
		}
		if block.GetHasChildren() {
			if err := c.pageLinks(ctx, string(block.GetID()), depth+1, links); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Crawler) appendLink(links *[]string, raw string) {
	id, err := NormalizePageID(raw)
	if err != nil {
		c.logger.Debug("ignoring malformed page link", "raw", raw)
		return
	}
	*links = append(*links, id)
}

// pageIDFromURL extracts the trailing 32-hex page ID from a Notion URL.
// Non-Notion hosts and URLs without an ID suffix are rejected.
func pageIDFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != "notion.so" && !strings.HasSuffix(host, ".notion.so") && !strings.HasSuffix(host, ".notion.site") {
		return "", false
	}
	m := pageIDTail.FindStringSubmatch(strings.TrimSuffix(u.Path, "/"))
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}
