// Package dom is the thin capability layer the cascade engine needs on top of
// golang.org/x/net/html: query by tag and class, attribute read/write, inner
// content read/write, and serialization with a guaranteed DOCTYPE.
//
// Matchers and mergers only ever see *html.Node values obtained through this
// package, so the concrete parser stays an implementation detail.
package dom

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DirectiveAttr is the processing directive: compose this subtree against
	// the document at the attribute's path.
	DirectiveAttr = "data-unify"

	// BoundaryAttr marks the root of an already composed component. Matching
	// never descends below an element carrying it.
	BoundaryAttr = "data-unify-scope"
)

// Document owns one parsed HTML tree.
type Document struct {
	root *html.Node
}

// Parse parses a complete HTML document. The HTML5 algorithm always
// synthesises <html>, <head> and <body>, so those accessors never return nil
// on a parsed document.
func Parse(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root}, nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// HTML returns the <html> element.
func (d *Document) HTML() *html.Node { return findChild(d.root, atom.Html) }

// Head returns the <head> element.
func (d *Document) Head() *html.Node { return findChild(d.HTML(), atom.Head) }

// Body returns the <body> element.
func (d *Document) Body() *html.Node { return findChild(d.HTML(), atom.Body) }

// Render serialises the document. A missing DOCTYPE is added.
func (d *Document) Render() (string, error) {
	ensureDoctype(d.root)
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

// Clone returns a deep copy of the document. Cached documents are only ever
// cloned, never composed in place.
func (d *Document) Clone() *Document {
	return &Document{root: CloneNode(d.root)}
}

// CloneNode deep-copies n and its descendants. The copy is detached.
func CloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(CloneNode(ch))
	}
	return c
}

func ensureDoctype(root *html.Node) {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.DoctypeNode {
			return
		}
	}
	dt := &html.Node{Type: html.DoctypeNode, Data: "html"}
	root.InsertBefore(dt, root.FirstChild)
}

func findChild(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// IsElement reports whether n is an element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// Tag returns the lower-case tag name of an element, "" otherwise.
func Tag(n *html.Node) string {
	if !IsElement(n) {
		return ""
	}
	return n.Data
}

// Attr returns the value of an attribute and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets an attribute, keeping its position when it already exists.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes every occurrence of an attribute. It reports whether
// anything was removed.
func RemoveAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	kept := n.Attr[:0]
	removed := false
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
	return removed
}

// Classes returns the whitespace-split class tokens of n.
func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

// HasClass reports whether n carries class c.
func HasClass(n *html.Node, c string) bool {
	for _, cls := range Classes(n) {
		if cls == c {
			return true
		}
	}
	return false
}

// Walk visits root and its descendants in document order. When fn returns
// false the children of the visited node are skipped.
func Walk(root *html.Node, fn func(*html.Node) bool) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	for c := root.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}

// ElementsByTag returns all descendant elements of root with the given tag.
func ElementsByTag(root *html.Node, tag string) []*html.Node {
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		if n != root && IsElement(n) && n.Data == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Contains reports whether n is ancestor itself or one of its descendants.
func Contains(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// Attached reports whether n is still reachable from the document root.
func Attached(root, n *html.Node) bool {
	return Contains(root, n)
}

// InnerHTML serialises the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render <%s> content: %w", n.Data, err)
		}
	}
	return buf.String(), nil
}

// OuterHTML serialises n itself.
func OuterHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", fmt.Errorf("render <%s>: %w", n.Data, err)
	}
	return buf.String(), nil
}

// ParseFragment parses content as the children of an element shaped like
// context. context is only read, never modified.
func ParseFragment(content string, context *html.Node) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: context.Data, DataAtom: context.DataAtom, Namespace: context.Namespace}
	nodes, err := html.ParseFragment(strings.NewReader(content), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse <%s> fragment: %w", context.Data, err)
	}
	return nodes, nil
}

// SetInnerHTML replaces the children of n with the parsed content.
func SetInnerHTML(n *html.Node, content string) error {
	nodes, err := ParseFragment(content, n)
	if err != nil {
		return err
	}
	RemoveChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

// RemoveChildren detaches every child of n.
func RemoveChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// Replace puts repl where old is, old is detached.
func Replace(old *html.Node, repl ...*html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	for _, r := range repl {
		if r.Parent != nil {
			r.Parent.RemoveChild(r)
		}
		parent.InsertBefore(r, old)
	}
	parent.RemoveChild(old)
}

// HasContent reports whether n has any element child or non-blank text.
func HasContent(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return true
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return true
			}
		}
	}
	return false
}

// ElementChildren returns the direct element children of n.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// TextContent concatenates all text below n.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

// StripDirectives removes the processing directive and the scope boundary
// marker from every element below root. It returns the number of attributes
// removed.
func StripDirectives(root *html.Node) int {
	removed := 0
	Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if RemoveAttr(n, DirectiveAttr) {
			removed++
		}
		if RemoveAttr(n, BoundaryAttr) {
			removed++
		}
		return true
	})
	return removed
}
