// Package notion adapts the Notion API into the pipeline's extractor and
// crawl interfaces: page content becomes normalized plain text, and linked
// pages become ingestion candidates.
package notion

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jomei/notionapi"
)

// API is the narrow slice of the Notion client the extractor and crawler
// depend on. Tests substitute a fake.
type API interface {
	GetPage(ctx context.Context, pageID string) (*notionapi.Page, error)
	GetBlockChildren(ctx context.Context, blockID string) ([]notionapi.Block, error)
}

// Client implements API against the real Notion service.
type Client struct {
	api *notionapi.Client
}

// NewClient creates a Notion client from an integration token.
func NewClient(token string) *Client {
	return &Client{api: notionapi.NewClient(notionapi.Token(token))}
}

// GetPage fetches page metadata (title property, last edited time).
func (c *Client) GetPage(ctx context.Context, pageID string) (*notionapi.Page, error) {
	return c.api.Page.Get(ctx, notionapi.PageID(pageID))
}

// GetBlockChildren fetches the direct children of a block, following
// pagination until exhausted.
func (c *Client) GetBlockChildren(ctx context.Context, blockID string) ([]notionapi.Block, error) {
	var blocks []notionapi.Block
	cursor := notionapi.Cursor("")
	for {
		resp, err := c.api.Block.GetChildren(ctx, notionapi.BlockID(blockID), &notionapi.Pagination{
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, resp.Results...)
		if !resp.HasMore {
			return blocks, nil
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}
}

// NormalizePageID validates a Notion page ID (dashed or bare UUID hex) and
// returns its canonical 32-character lowercase form, the stable document ID
// used for dedup and storage keys.
func NormalizePageID(raw string) (string, error) {
	cleaned := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "-", ""))
	parsed, err := uuid.Parse(cleaned)
	if err != nil {
		return "", fmt.Errorf("invalid notion page ID %q: %w", raw, err)
	}
	return strings.ReplaceAll(parsed.String(), "-", ""), nil
}

// PageURL returns the human-resolvable location for a normalized page ID.
func PageURL(pageID string) string {
	return "https://www.notion.so/" + pageID
}
