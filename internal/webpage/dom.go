package webpage

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// findContentRoots returns the semantic landmark elements likely to hold the
// article body, preferring <main> over <article>. Empty when the page has
// neither.
func findContentRoots(doc *html.Node) []*html.Node {
	for _, tag := range []atom.Atom{atom.Main, atom.Article} {
		if nodes := findAllByTag(doc, tag); len(nodes) > 0 {
			return nodes
		}
	}
	return nil
}

func findAllByTag(root *html.Node, tag atom.Atom) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}

func findTitle(doc *html.Node) string {
	if nodes := findAllByTag(doc, atom.Title); len(nodes) > 0 && nodes[0].FirstChild != nil {
		return strings.TrimSpace(nodes[0].FirstChild.Data)
	}
	return ""
}

func findFirstHeading(doc *html.Node) string {
	if nodes := findAllByTag(doc, atom.H1); len(nodes) > 0 {
		lines := textLines(nodes[0])
		if len(lines) > 0 {
			return lines[0]
		}
	}
	return ""
}

// textLines flattens a subtree into trimmed, non-blank lines of visible
// text, one line per block-level element, skipping boilerplate regions.
func textLines(root *html.Node) []string {
	var lines []string
	var sb strings.Builder
	flush := func() {
		if line := strings.TrimSpace(sb.String()); line != "" {
			lines = append(lines, line)
		}
		sb.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
			if isBoilerplate(n) {
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		block := n.Type == html.ElementNode && isBlockTag(n.DataAtom)
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(root)
	flush()
	return lines
}

// findDensestNode scores content-bearing subtrees by text-to-markup ratio,
// penalizing link-heavy regions (navigation disguised as content), and
// returns the best one. Nil when nothing holds at least minLen characters.
func findDensestNode(root *html.Node, minLen int) *html.Node {
	type nodeScore struct {
		node  *html.Node
		score float64
	}
	var best *nodeScore

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode || isBoilerplate(n) {
			return
		}
		if isContentTag(n.DataAtom) || n.DataAtom == atom.Body {
			text := strings.Join(textLines(n), "\n")
			if len(text) >= minLen {
				markupLen := len(renderNode(n))
				if markupLen == 0 {
					markupLen = 1
				}
				linkDensity := 0.0
				if linkText := collectLinkText(n); len(text) > 0 {
					linkDensity = float64(len(linkText)) / float64(len(text))
				}
				if linkDensity <= 0.5 {
					score := float64(len(text)) / float64(markupLen) * logScale(len(text)) * (1 - linkDensity)
					if best == nil || score > best.score {
						best = &nodeScore{node: n, score: score}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if best == nil {
		return nil
	}
	return best.node
}

// logScale grows slowly with text length so longer candidates win ties
// without letting raw length dominate density.
func logScale(n int) float64 {
	scale := 1.0
	for n > 100 {
		scale++
		n /= 2
	}
	return scale
}

func collectLinkText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inLink bool) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			inLink = true
		}
		if n.Type == html.TextNode && inLink {
			sb.WriteString(strings.TrimSpace(n.Data))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inLink)
		}
	}
	walk(root, false)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

func isContentTag(a atom.Atom) bool {
	switch a {
	case atom.Main, atom.Article, atom.Section, atom.Div, atom.P,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Figure, atom.Details:
		return true
	}
	return false
}

func isBlockTag(a atom.Atom) bool {
	switch a {
	case atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Blockquote, atom.Pre, atom.Div, atom.Section,
		atom.Table, atom.Tr, atom.Dt, atom.Dd, atom.Figcaption,
		atom.Summary, atom.Br:
		return true
	}
	return false
}

// isBoilerplate reports whether a node is navigation, chrome, or other
// non-article furniture, by tag, ARIA role, or common class/id patterns.
func isBoilerplate(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Nav, atom.Footer, atom.Header, atom.Aside:
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key == "class" || attr.Key == "id" {
			lower := strings.ToLower(attr.Val)
			for _, pattern := range boilerplatePatterns {
				if strings.Contains(lower, pattern) {
					return true
				}
			}
		}
		if attr.Key == "role" {
			switch attr.Val {
			case "navigation", "banner", "contentinfo", "complementary":
				return true
			}
		}
	}
	return false
}

var boilerplatePatterns = []string{
	"sidebar", "footer", "header", "nav", "menu", "breadcrumb",
	"cookie", "banner", "advert", "social", "share", "comment",
	"related", "widget", "popup", "modal",
}
