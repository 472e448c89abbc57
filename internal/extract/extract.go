// Package extract turns the main content of a page into one readable string.
package extract

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/book-expert/readaloud/internal/dom"
)

// rootSelectors are tried in order; the first match is the content root.
var rootSelectors = []string{"main", `[role="main"]`, "article"}

// SkipSelector matches page chrome that is never read aloud.
const SkipSelector = `nav, header, footer, aside, .tts-player, [aria-hidden="true"], [hidden], ` +
	`button, form, input, select, textarea, .toggle-menu, .accessibility-toggle`

// rawTextSelector matches elements whose text is code, not prose.
const rawTextSelector = "script, style"

const sentenceFiller = "."

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	endsWithPause = regexp.MustCompile(`[.!?,;:]$`)
)

// ReadableText returns the text of the page's content root with chrome removed,
// one fragment per text-bearing element, each fragment ending in punctuation so
// that block boundaries become pauses. A page without a content root yields an
// empty string. root is not modified.
func ReadableText(root *html.Node) string {
	content := contentRoot(root)
	if content == nil {
		return ""
	}

	clone := dom.Clone(content)
	for _, skipped := range dom.FindAll(clone, SkipSelector+", "+rawTextSelector) {
		dom.Remove(skipped)
	}

	var (
		fragments []string
		seenText  = make(map[string]struct{})
		processed = make(map[*html.Node]struct{})
	)

	walkText(clone, func(textNode *html.Node) {
		parent := textNode.Parent
		if parent == nil || parent.Type != html.ElementNode {
			return
		}

		if _, done := processed[parent]; done {
			return
		}

		fragment := collapse(dom.TextContent(parent))
		if fragment == "" {
			return
		}

		processed[parent] = struct{}{}

		if !endsWithPause.MatchString(fragment) {
			fragment += sentenceFiller
		}

		if _, dup := seenText[fragment]; dup {
			return
		}

		seenText[fragment] = struct{}{}
		fragments = append(fragments, fragment)
	})

	return strings.Join(fragments, " ")
}

func contentRoot(root *html.Node) *html.Node {
	for _, selector := range rootSelectors {
		if found := dom.Find(root, selector); found != nil {
			return found
		}
	}

	return nil
}

// walkText visits non-blank text nodes in document order. Raw text inside
// script and style elements is not page text.
func walkText(n *html.Node, visit func(*html.Node)) {
	if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
		return
	}

	if n.Type == html.TextNode {
		if strings.TrimSpace(n.Data) != "" {
			visit(n)
		}

		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkText(child, visit)
	}
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// DocumentSource reads the current tree of a live document each time text is
// requested, so it survives page swaps.
type DocumentSource struct {
	doc *dom.Document
}

// FromDocument wraps doc as a content source.
func FromDocument(doc *dom.Document) *DocumentSource {
	return &DocumentSource{doc: doc}
}

// ReadableText extracts from the document's current root.
func (s *DocumentSource) ReadableText() string {
	var text string

	s.doc.View(func(root *html.Node) {
		text = ReadableText(root)
	})

	return text
}
