// Package dom is the small typed view of an HTML tree that the extraction
// heuristics are written against. It is backed by goquery.
package dom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed HTML document
type Document struct {
	doc *goquery.Document
}

// Node is a single element
type Node struct {
	sel *goquery.Selection
}

// Parse builds a Document from HTML source
func Parse(source string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Select returns every element matching a CSS selector in document order
func (d *Document) Select(selector string) []Node {
	return nodes(d.doc.Find(selector))
}

// First returns the first match, if any
func (d *Document) First(selector string) (Node, bool) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return Node{}, false
	}
	return Node{sel: sel}, true
}

// Body returns the body element. Parsed documents always have one.
func (d *Document) Body() Node {
	return Node{sel: d.doc.Find("body").First()}
}

// Title returns the trimmed text of the first <title>
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// Remove detaches every element matching selector
func (d *Document) Remove(selector string) {
	d.doc.Find(selector).Remove()
}

// Select returns descendants of n matching selector
func (n Node) Select(selector string) []Node {
	return nodes(n.sel.Find(selector))
}

// Count returns the number of descendants matching selector
func (n Node) Count(selector string) int {
	return n.sel.Find(selector).Length()
}

// Children returns the element children of n
func (n Node) Children() []Node {
	return nodes(n.sel.Children())
}

// Text returns the flattened text of n and its descendants
func (n Node) Text() string {
	return n.sel.Text()
}

// Attr returns an attribute value and whether it is present
func (n Node) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

// AttrOr returns the attribute value or fallback
func (n Node) AttrOr(name, fallback string) string {
	return n.sel.AttrOr(name, fallback)
}

// Tag returns the lowercase element name
func (n Node) Tag() string {
	return goquery.NodeName(n.sel)
}

// Is reports whether n matches selector
func (n Node) Is(selector string) bool {
	return n.sel.Is(selector)
}

// InnerHTML serializes the children of n
func (n Node) InnerHTML() string {
	h, err := n.sel.Html()
	if err != nil {
		return ""
	}
	return h
}

// OuterHTML serializes n itself
func (n Node) OuterHTML() string {
	h, err := goquery.OuterHtml(n.sel)
	if err != nil {
		return ""
	}
	return h
}

// Remove detaches n from its tree
func (n Node) Remove() {
	n.sel.Remove()
}

// Valid reports whether n refers to an element
func (n Node) Valid() bool {
	return n.sel != nil && n.sel.Length() > 0
}

// Remove detaches every node in list
func Remove(list []Node) {
	for _, n := range list {
		n.Remove()
	}
}

func nodes(sel *goquery.Selection) []Node {
	out := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Node{sel: s})
	})
	return out
}
