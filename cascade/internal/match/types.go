// Package match pairs layout-side elements with page-side elements.
//
// Three strategies run in precedence order over one scope:
//
//  1. area classes: elements sharing a unify-* class
//  2. landmarks: the unique header, nav, main, aside and footer elements
//  3. ordered fill: <section> elements under <main>, paired by position
//
// Whatever an earlier strategy claims is excluded from the later ones. The
// matchers hold no per-call state and may be shared between goroutines.
package match

import (
	"errors"

	"golang.org/x/net/html"
)

// Type names the strategy that produced a match.
type Type string

const (
	TypeAreaClass   Type = "area-class"
	TypeLandmark    Type = "landmark"
	TypeSemantic    Type = "semantic" // landmark found through an ARIA role
	TypeOrderedFill Type = "ordered-fill"
)

var (
	// ErrDocumentsRequired is returned when a matcher is called without both
	// scopes.
	ErrDocumentsRequired = errors.New("Both layout and page documents are required")

	// ErrInvalidOption is returned by constructors given an out-of-range
	// option.
	ErrInvalidOption = errors.New("match: invalid option")
)

// Record is one layout element paired with the page content that fills it.
type Record struct {
	Type   Type
	Key    string // area class or landmark tag
	Layout *html.Node
	Page   []*html.Node

	// Content is the page-side inner content. Area matches join the content
	// of every matching page element with a newline, in page order.
	Content string

	Confidence float64

	// SectioningContext is the pair index in sectioning-root mode, -1
	// otherwise.
	SectioningContext int

	// Index is the position of an ordered-fill pair.
	Index int
}

// Appended is a surplus page section that ordered fill could not pair.
type Appended struct {
	Element *html.Node
	Content string
	Index   int
}

// Result accumulates the outcome of matching one scope. Problems are
// collected, never raised.
type Result struct {
	Matches  []Record
	Appended []Appended
	Warnings []string
	Errors   []string
}

// ByType returns the matches of one strategy.
func (r *Result) ByType(t Type) []Record {
	var out []Record
	for _, m := range r.Matches {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *Result) absorb(o Result) {
	r.Matches = append(r.Matches, o.Matches...)
	r.Appended = append(r.Appended, o.Appended...)
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.Errors = append(r.Errors, o.Errors...)
}

// ElementSet is a set of elements. The zero value is usable for lookups.
type ElementSet map[*html.Node]bool

// Covers reports whether n or one of its ancestors is in the set.
func (s ElementSet) Covers(n *html.Node) bool {
	if len(s) == 0 {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if s[p] {
			return true
		}
	}
	return false
}

// MatchingPrecedence classifies how a scope was resolved.
func MatchingPrecedence(r Result) string {
	area := len(r.ByType(TypeAreaClass))
	landmark := len(r.ByType(TypeLandmark)) + len(r.ByType(TypeSemantic))
	ordered := len(r.ByType(TypeOrderedFill))
	switch {
	case area > 0 && landmark == 0 && ordered == 0:
		return "area-only"
	case area > 0:
		return "area-over-landmark"
	case landmark > 0:
		return "landmark-over-ordered-fill"
	case ordered > 0:
		return "ordered-fill-only"
	default:
		return "none"
	}
}
