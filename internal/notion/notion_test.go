package notion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petal-labs/siteingest/internal/ingest"
)

type fakeAPI struct {
	pages  map[string]*notionapi.Page
	blocks map[string][]notionapi.Block
	errOn  map[string]error
}

func (f *fakeAPI) GetPage(_ context.Context, pageID string) (*notionapi.Page, error) {
	page, ok := f.pages[pageID]
	if !ok {
		return nil, fmt.Errorf("page %s not found", pageID)
	}
	return page, nil
}

func (f *fakeAPI) GetBlockChildren(_ context.Context, blockID string) ([]notionapi.Block, error) {
	if err := f.errOn[blockID]; err != nil {
		return nil, err
	}
	return f.blocks[blockID], nil
}

func pid(c byte) string {
	return strings.Repeat(string(c), 32)
}

func rt(text string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: text}}
}

func linkRT(text, href string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: text, Href: href}}
}

func basic(id string, typ notionapi.BlockType, hasChildren bool) notionapi.BasicBlock {
	return notionapi.BasicBlock{
		Object:      notionapi.ObjectTypeBlock,
		ID:          notionapi.BlockID(id),
		Type:        typ,
		HasChildren: hasChildren,
	}
}

func paragraph(id string, parts []notionapi.RichText, hasChildren bool) *notionapi.ParagraphBlock {
	return &notionapi.ParagraphBlock{
		BasicBlock: basic(id, notionapi.BlockTypeParagraph, hasChildren),
		Paragraph:  notionapi.Paragraph{RichText: parts},
	}
}

func heading1(id, text string) *notionapi.Heading1Block {
	return &notionapi.Heading1Block{
		BasicBlock: basic(id, notionapi.BlockTypeHeading1, false),
		Heading1:   notionapi.Heading{RichText: rt(text)},
	}
}

func childPage(id, title string) *notionapi.ChildPageBlock {
	b := &notionapi.ChildPageBlock{
		BasicBlock: basic(id, notionapi.BlockTypeChildPage, true),
	}
	b.ChildPage.Title = title
	return b
}

func pageWithTitle(title string, lastEdited time.Time) *notionapi.Page {
	props := notionapi.Properties{}
	if title != "" {
		props["title"] = &notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: rt(title),
		}
	}
	return &notionapi.Page{
		LastEditedTime: lastEdited,
		Properties:     props,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExtractor_FlattensBlockTree(t *testing.T) {
	root := pid('a')
	nested := pid('b')
	edited := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	api := &fakeAPI{
		pages: map[string]*notionapi.Page{
			root: pageWithTitle("Release Notes", edited),
		},
		blocks: map[string][]notionapi.Block{
			root: {
				heading1("h1", "Overview"),
				paragraph(nested, rt("Outer paragraph."), true),
				paragraph("empty", rt("   "), false),
				childPage(pid('c'), "Roadmap"),
			},
			nested: {
				paragraph("inner", rt("Nested detail."), false),
			},
		},
	}

	got, err := NewExtractor(api, testLogger()).Extract(context.Background(), ingest.Candidate{DocID: root})
	require.NoError(t, err)

	assert.Equal(t, "Release Notes", got.Title)
	assert.Equal(t, "Overview\nOuter paragraph.\nNested detail.\nRoadmap", got.Text)
	require.NotNil(t, got.LastSourceUpdate)
	assert.True(t, got.LastSourceUpdate.Equal(edited))
}

func TestExtractor_ChildPageBodyExcluded(t *testing.T) {
	root := pid('a')
	child := pid('c')
	api := &fakeAPI{
		pages: map[string]*notionapi.Page{
			root: pageWithTitle("Parent", time.Now()),
		},
		blocks: map[string][]notionapi.Block{
			root:  {childPage(child, "Child")},
			child: {paragraph("cp", rt("Child body must not leak."), false)},
		},
	}

	got, err := NewExtractor(api, testLogger()).Extract(context.Background(), ingest.Candidate{DocID: root})
	require.NoError(t, err)
	assert.Equal(t, "Child", got.Text)
}

func TestExtractor_TitleFallback(t *testing.T) {
	root := pid('a')
	api := &fakeAPI{
		pages:  map[string]*notionapi.Page{root: pageWithTitle("", time.Now())},
		blocks: map[string][]notionapi.Block{root: {paragraph("p", rt("Body."), false)}},
	}

	got, err := NewExtractor(api, testLogger()).Extract(context.Background(), ingest.Candidate{DocID: root})
	require.NoError(t, err)
	assert.Equal(t, "Untitled", got.Title)
}

func TestExtractor_PageFetchError(t *testing.T) {
	api := &fakeAPI{pages: map[string]*notionapi.Page{}}
	_, err := NewExtractor(api, testLogger()).Extract(context.Background(), ingest.Candidate{DocID: pid('a')})
	require.Error(t, err)
}

func TestNormalizePageID(t *testing.T) {
	bare := "0123456789abcdef0123456789abcdef"
	dashed := "01234567-89ab-cdef-0123-456789abcdef"

	got, err := NormalizePageID(dashed)
	require.NoError(t, err)
	assert.Equal(t, bare, got)

	got, err = NormalizePageID(strings.ToUpper(bare))
	require.NoError(t, err)
	assert.Equal(t, bare, got)

	_, err = NormalizePageID("not-a-page-id")
	assert.Error(t, err)

	_, err = NormalizePageID(bare[:30])
	assert.Error(t, err)
}

func TestCrawler_DiscoversLinkedPagesOnce(t *testing.T) {
	root, pageA, pageB := pid('a'), pid('b'), pid('c')

	linkToB := &notionapi.LinkToPageBlock{
		BasicBlock: basic("ltp", notionapi.BlockTypeLinkToPage, false),
		LinkToPage: notionapi.LinkToPage{PageID: notionapi.PageID(pageB)},
	}

	api := &fakeAPI{
		blocks: map[string][]notionapi.Block{
			root: {
				childPage(pageA, "Child A"),
				paragraph("p1", linkRT("see also", "https://www.notion.so/Some-Page-"+pageA), false),
			},
			pageA: {
				linkToB,
				// Cycle back to the root.
				paragraph("p2", linkRT("home", "https://www.notion.so/"+root), false),
			},
			pageB: {},
		},
	}

	got, err := NewCrawler(api, testLogger(), 0).DiscoverLinkedPages(context.Background(), root)
	require.NoError(t, err)

	var ids []string
	for _, cand := range got {
		ids = append(ids, cand.DocID)
		assert.Equal(t, PageURL(cand.DocID), cand.URL)
	}
	assert.Equal(t, []string{root, pageA, pageB}, ids)
}

func TestCrawler_RootFailureIsFatal(t *testing.T) {
	root := pid('a')
	api := &fakeAPI{errOn: map[string]error{root: fmt.Errorf("boom")}}

	_, err := NewCrawler(api, testLogger(), 0).DiscoverLinkedPages(context.Background(), root)
	require.Error(t, err)
}

func TestCrawler_LinkedPageFailureIsSkipped(t *testing.T) {
	root, broken := pid('a'), pid('b')
	api := &fakeAPI{
		blocks: map[string][]notionapi.Block{
			root: {childPage(broken, "Broken")},
		},
		errOn: map[string]error{broken: fmt.Errorf("403")},
	}

	got, err := NewCrawler(api, testLogger(), 0).DiscoverLinkedPages(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, broken, got[1].DocID)
}

func TestCrawler_MaxPagesBound(t *testing.T) {
	root, pageA, pageB := pid('a'), pid('b'), pid('c')
	api := &fakeAPI{
		blocks: map[string][]notionapi.Block{
			root:  {childPage(pageA, "A"), childPage(pageB, "B")},
			pageA: {},
			pageB: {},
		},
	}

	got, err := NewCrawler(api, testLogger(), 2).DiscoverLinkedPages(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPageIDFromURL(t *testing.T) {
	id := pid('d')

	got, ok := pageIDFromURL("https://www.notion.so/Design-Doc-" + id)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	got, ok = pageIDFromURL("https://acme.notion.site/" + strings.ToUpper(id))
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = pageIDFromURL("https://example.com/" + id)
	assert.False(t, ok)

	_, ok = pageIDFromURL("https://www.notion.so/just-a-slug")
	assert.False(t, ok)
}
