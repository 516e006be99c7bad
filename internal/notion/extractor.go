package notion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/petal-labs/siteingest/internal/ingest"
)

const (
	defaultTitle = "Untitled"

	// maxBlockDepth bounds recursion into nested blocks (toggles, list
	// items) so a pathological tree cannot run away.
	maxBlockDepth = 16
)

// Extractor pulls a Notion page and flattens its block tree into plain text,
// one line per block, in document order.
type Extractor struct {
	api    API
	logger *slog.Logger
}

// NewExtractor creates an Extractor backed by the given API client.
func NewExtractor(api API, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{api: api, logger: logger}
}

// Extract fetches the page named by cand.DocID and returns its title, text,
// and last edited time.
func (e *Extractor) Extract(ctx context.Context, cand ingest.Candidate) (*ingest.Extracted, error) {
	page, err := e.api.GetPage(ctx, cand.DocID)
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", cand.DocID, err)
	}

	var lines []string
	if err := e.collectLines(ctx, cand.DocID, 0, &lines); err != nil {
		return nil, fmt.Errorf("read blocks of %s: %w", cand.DocID, err)
	}

	lastEdited := page.LastEditedTime
	return &ingest.Extracted{
		Title:            pageTitle(page),
		Text:             strings.Join(lines, "\n"),
		LastSourceUpdate: &lastEdited,
	}, nil
}

func (e *Extractor) collectLines(ctx context.Context, blockID string, depth int, lines *[]string) error {
	if depth > maxBlockDepth {
		e.logger.Warn("block tree deeper than limit, truncating", "block_id", blockID)
		return nil
	}
	blocks, err := e.api.GetBlockChildren(ctx, blockID)
	if err != nil {
		return err
	}
	for _, block := range blocks {
		if line := blockText(block); line != "" {
			*lines = append(*lines, line)
		}
		// Child pages are separate documents; their bodies are not
		// part of this page's text.
		if block.GetHasChildren() && block.GetType() != notionapi.BlockTypeChildPage {
			if err := e.collectLines(ctx, string(block.GetID()), depth+1, lines); err != nil {
				return err
			}
		}
	}
	return nil
}

// blockText renders a single block as one line of plain text. Unsupported
// block kinds render as empty and are dropped.
func blockText(block notionapi.Block) string {
	switch b := block.(type) {
	case *notionapi.ChildPageBlock:
		return strings.TrimSpace(b.ChildPage.Title)
	default:
		return plainText(blockRichText(block))
	}
}

// blockRichText returns the rich text payload of the text-bearing block
// kinds, or nil for anything else.
func blockRichText(block notionapi.Block) []notionapi.RichText {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return b.Paragraph.RichText
	case *notionapi.Heading1Block:
		return b.Heading1.RichText
	case *notionapi.Heading2Block:
		return b.Heading2.RichText
	case *notionapi.Heading3Block:
		return b.Heading3.RichText
	case *notionapi.BulletedListItemBlock:
		return b.BulletedListItem.RichText
	case *notionapi.NumberedListItemBlock:
		return b.NumberedListItem.RichText
	case *notionapi.ToDoBlock:
		return b.ToDo.RichText
	case *notionapi.ToggleBlock:
		return b.Toggle.RichText
	case *notionapi.QuoteBlock:
		return b.Quote.RichText
	case *notionapi.CalloutBlock:
		return b.Callout.RichText
	case *notionapi.CodeBlock:
		return b.Code.RichText
	default:
		return nil
	}
}

func plainText(parts []notionapi.RichText) string {
	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(part.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

// pageTitle returns the page's title property, or a placeholder when the
// page has none.
func pageTitle(page *notionapi.Page) string {
	for _, prop := range page.Properties {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			if title := plainText(tp.Title); title != "" {
				return title
			}
		}
	}
	return defaultTitle
}
