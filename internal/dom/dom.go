// Package dom holds the live page document and the small set of tree helpers the
// read-aloud components need.
//
// Client-side navigation replaces the whole tree, so callers must never keep a
// node across calls: resolve it again from the current root inside View or
// Update every time.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the live page. All access is serialized.
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// New creates a document around an already parsed tree.
func New(root *html.Node) *Document {
	return &Document{root: root}
}

// Parse reads an HTML page into a new document.
func Parse(r io.Reader) (*Document, error) {
	root, err := ParseTree(r)
	if err != nil {
		return nil, err
	}

	return New(root), nil
}

// ParseTree parses an HTML page without wrapping it in a document.
func ParseTree(r io.Reader) (*html.Node, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	return root, nil
}

// ParseString is ParseTree for an in-memory page.
func ParseString(page string) (*html.Node, error) {
	return ParseTree(strings.NewReader(page))
}

// View runs fn against the current tree. fn must not retain nodes.
func (d *Document) View(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(d.root)
}

// Update runs fn against the current tree with permission to mutate it.
func (d *Document) Update(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(d.root)
}

// Swap replaces the whole tree, as a client-side page transition does.
func (d *Document) Swap(root *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.root = root
}

// Render serializes the current tree.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer

	err := html.Render(&buf, d.root)
	if err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}

	return buf.String(), nil
}

var (
	selectorsMu sync.Mutex
	selectors   = make(map[string]cascadia.Selector)
)

// compile caches parsed selectors; the selector strings used by this service are
// fixed, so the cache stays small.
func compile(selector string) cascadia.Selector {
	selectorsMu.Lock()
	defer selectorsMu.Unlock()

	compiled, ok := selectors[selector]
	if !ok {
		compiled = cascadia.MustCompile(selector)
		selectors[selector] = compiled
	}

	return compiled
}

// Find returns the first element at or below n matching selector, or nil.
func Find(n *html.Node, selector string) *html.Node {
	if n == nil {
		return nil
	}

	return compile(selector).MatchFirst(n)
}

// FindAll returns every element at or below n matching selector in document order.
func FindAll(n *html.Node, selector string) []*html.Node {
	if n == nil {
		return nil
	}

	return compile(selector).MatchAll(n)
}

// Matches reports whether n itself matches selector.
func Matches(n *html.Node, selector string) bool {
	return n != nil && n.Type == html.ElementNode && compile(selector).Match(n)
}

// Closest walks from n up through its ancestors and returns the first element
// matching selector.
func Closest(n *html.Node, selector string) *html.Node {
	for current := n; current != nil; current = current.Parent {
		if Matches(current, selector) {
			return current
		}
	}

	return nil
}

// ByID returns the element with the given id.
func ByID(root *html.Node, id string) *html.Node {
	return Find(root, "#"+id)
}

// Attr returns the value of an attribute.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}

	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			return attr.Val, true
		}
	}

	return "", false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	if n == nil {
		return
	}

	for i, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			n.Attr[i].Val = val

			return
		}
	}

	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute when present.
func RemoveAttr(n *html.Node, key string) {
	if n == nil {
		return
	}

	kept := n.Attr[:0]

	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			continue
		}

		kept = append(kept, attr)
	}

	n.Attr = kept
}

// HasClass reports whether n carries the class name.
func HasClass(n *html.Node, class string) bool {
	classes, _ := Attr(n, "class")

	for _, name := range strings.Fields(classes) {
		if name == class {
			return true
		}
	}

	return false
}

// AddClass adds a class name once.
func AddClass(n *html.Node, class string) {
	if n == nil || HasClass(n, class) {
		return
	}

	classes, _ := Attr(n, "class")
	SetAttr(n, "class", strings.TrimSpace(classes+" "+class))
}

// RemoveClass removes a class name.
func RemoveClass(n *html.Node, class string) {
	if n == nil || !HasClass(n, class) {
		return
	}

	classes, _ := Attr(n, "class")
	kept := make([]string, 0)

	for _, name := range strings.Fields(classes) {
		if name != class {
			kept = append(kept, name)
		}
	}

	SetAttr(n, "class", strings.Join(kept, " "))
}

// TextContent concatenates every text node below n, like the DOM property.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}

	if n.Type == html.TextNode {
		return n.Data
	}

	var builder strings.Builder

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		builder.WriteString(TextContent(child))
	}

	return builder.String()
}

// SetTextContent replaces the children of n with a single text node.
func SetTextContent(n *html.Node, text string) {
	if n == nil {
		return
	}

	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		n.RemoveChild(child)
		child = next
	}

	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

// Remove detaches n from its parent.
func Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Clone deep-copies n. The copy has no parent or siblings.
func Clone(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}

	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		clone.AppendChild(Clone(child))
	}

	return clone
}

// NewElement creates a detached element with the given class and attributes.
func NewElement(tag atom.Atom, class string, attrs ...html.Attribute) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: tag, Data: tag.String()}
	if class != "" {
		n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
	}

	n.Attr = append(n.Attr, attrs...)

	return n
}

// Style returns the value of one inline style property.
func Style(n *html.Node, property string) string {
	style, _ := Attr(n, "style")

	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(name) == property {
			return strings.TrimSpace(value)
		}
	}

	return ""
}

// SetStyle sets one inline style property; an empty value removes it.
func SetStyle(n *html.Node, property, value string) {
	if n == nil {
		return
	}

	style, _ := Attr(n, "style")
	decls := make([]string, 0)

	for _, decl := range strings.Split(style, ";") {
		name, _, ok := strings.Cut(decl, ":")
		if !ok || strings.TrimSpace(name) == property {
			continue
		}

		decls = append(decls, strings.TrimSpace(decl))
	}

	if value != "" {
		decls = append(decls, property+": "+value)
	}

	if len(decls) == 0 {
		RemoveAttr(n, "style")

		return
	}

	SetAttr(n, "style", strings.Join(decls, "; "))
}
