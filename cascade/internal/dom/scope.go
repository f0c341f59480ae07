package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Scope is the region of a document one matching pass may look at: every
// element below Root, stopping at component boundaries. A boundary element is
// itself part of the scope; its descendants belong to the component.
type Scope struct {
	Root *html.Node
}

// NewScope returns the scope rooted at root.
func NewScope(root *html.Node) Scope {
	return Scope{Root: root}
}

// Valid reports whether the scope has a root.
func (s Scope) Valid() bool { return s.Root != nil }

// Elements returns the scope's elements in document order, root excluded.
func (s Scope) Elements() []*html.Node {
	if s.Root == nil {
		return nil
	}
	var out []*html.Node
	Walk(s.Root, func(n *html.Node) bool {
		if n == s.Root {
			return true
		}
		if n.Type != html.ElementNode {
			return false
		}
		out = append(out, n)
		_, boundary := Attr(n, BoundaryAttr)
		return !boundary
	})
	return out
}

// ByTag returns the scope's elements with the given tag.
func (s Scope) ByTag(tag string) []*html.Node {
	var out []*html.Node
	for _, n := range s.Elements() {
		if n.Data == tag {
			out = append(out, n)
		}
	}
	return out
}

// ByClass returns the scope's elements carrying class c.
func (s Scope) ByClass(c string) []*html.Node {
	var out []*html.Node
	for _, n := range s.Elements() {
		if HasClass(n, c) {
			out = append(out, n)
		}
	}
	return out
}

// ByClassPrefix returns the scope's elements carrying at least one class
// starting with prefix.
func (s Scope) ByClassPrefix(prefix string) []*html.Node {
	var out []*html.Node
	for _, n := range s.Elements() {
		if len(PrefixedClasses(n, prefix)) > 0 {
			out = append(out, n)
		}
	}
	return out
}

// PrefixedClasses returns n's class tokens that start with prefix and are
// longer than it.
func PrefixedClasses(n *html.Node, prefix string) []string {
	var out []string
	for _, c := range Classes(n) {
		if len(c) > len(prefix) && strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}
