// Package extract pulls script text out of HTML and strips comments from it.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// parseDocument never fails on malformed markup; it returns nil only when the
// tree builder itself gives up.
func parseDocument(markup string) *goquery.Document {
	node, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	return goquery.NewDocumentFromNode(node)
}

// ExtractScripts returns the bodies of all inline <script> elements in
// document order, each trimmed and joined with a single newline. Elements
// without a body are skipped.
func ExtractScripts(markup string) string {
	doc := parseDocument(markup)
	if doc == nil {
		return ""
	}

	var blocks []string
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		body := scriptBody(s)
		if strings.TrimSpace(body) == "" {
			return
		}
		blocks = append(blocks, strings.TrimSpace(body))
	})
	return strings.Join(blocks, "\n")
}

// scriptBody returns the raw text children of a script element. Script
// content is raw text, so there is at most one text node in practice.
func scriptBody(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
	}
	return b.String()
}

// ScriptSources returns the src attribute of every <script> that has one, in
// document order and as written in the markup.
func ScriptSources(markup string) []string {
	doc := parseDocument(markup)
	if doc == nil {
		return nil
	}

	var sources []string
	doc.Find("script[src]").Each(func(i int, s *goquery.Selection) {
		src, exists := s.Attr("src")
		if !exists {
			return
		}
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		sources = append(sources, src)
	})
	return sources
}
