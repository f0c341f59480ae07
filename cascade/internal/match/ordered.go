package match

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/fwdslsh/unify-sub006/cascade/internal/dom"
)

// DefaultOrderedFillDepth bounds how far below <main> sections are looked for.
const DefaultOrderedFillDepth = 10

// OrderedFillMatcher pairs <section> elements under <main> by position.
type OrderedFillMatcher struct {
	maxDepth int
	warnings bool
}

// OrderedFillOption configures an OrderedFillMatcher.
type OrderedFillOption func(*OrderedFillMatcher) error

// WithMaxDepth sets how many element levels below <main> are searched. A
// direct child of <main> is at depth 1, so zero disables ordered fill.
func WithMaxDepth(n int) OrderedFillOption {
	return func(m *OrderedFillMatcher) error {
		if n < 0 {
			return fmt.Errorf("%w: max depth %d must be >= 0", ErrInvalidOption, n)
		}
		m.maxDepth = n
		return nil
	}
}

// WithWarnings turns count-mismatch warnings on or off. They are on by
// default.
func WithWarnings(on bool) OrderedFillOption {
	return func(m *OrderedFillMatcher) error {
		m.warnings = on
		return nil
	}
}

// NewOrderedFill builds a matcher. It fails only on an invalid option.
func NewOrderedFill(opts ...OrderedFillOption) (*OrderedFillMatcher, error) {
	m := &OrderedFillMatcher{maxDepth: DefaultOrderedFillDepth, warnings: true}
	for _, opt := range opts {
		if opt == nil {
			return nil, fmt.Errorf("%w: nil option", ErrInvalidOption)
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MaxDepth returns the configured search depth.
func (m *OrderedFillMatcher) MaxDepth() int { return m.maxDepth }

// Match pairs the i-th layout section with the i-th page section. Surplus
// page sections are reported as Appended; surplus layout sections are left
// alone. Sections equal to or inside an excluded element are skipped on both
// sides.
func (m *OrderedFillMatcher) Match(layout, page dom.Scope, excluded ElementSet) (res Result, err error) {
	if !layout.Valid() || !page.Valid() {
		return res, ErrDocumentsRequired
	}
	defer func() {
		if r := recover(); r != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ordered fill failed: %v", r))
		}
	}()

	ls := m.sections(layout, excluded)
	ps := m.sections(page, excluded)
	if len(ps) == 0 {
		return res, nil
	}

	n := min(len(ls), len(ps))
	for i := 0; i < n; i++ {
		content, err := dom.InnerHTML(ps[i])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ordered fill section %d: %v", i, err))
			continue
		}
		res.Matches = append(res.Matches, Record{
			Type:              TypeOrderedFill,
			Key:               "section",
			Layout:            ls[i],
			Page:              []*html.Node{ps[i]},
			Content:           content,
			Confidence:        0.5,
			SectioningContext: -1,
			Index:             i,
		})
	}
	for i := n; i < len(ps); i++ {
		content, err := dom.OuterHTML(ps[i])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ordered fill section %d: %v", i, err))
			continue
		}
		res.Appended = append(res.Appended, Appended{Element: ps[i], Content: content, Index: i})
	}

	if m.warnings && len(ls) > 0 {
		switch {
		case len(ps) > len(ls):
			res.Warnings = append(res.Warnings, fmt.Sprintf("Ordered fill: page has %d more <section> elements than layout, appending them", len(ps)-len(ls)))
		case len(ls) > len(ps):
			res.Warnings = append(res.Warnings, fmt.Sprintf("Ordered fill: %d layout <section> elements have no page content", len(ls)-len(ps)))
		}
	}
	return res, nil
}

// sections returns the <section> elements below any <main> of the scope, in
// document order, at most maxDepth levels down and never past a component
// boundary.
func (m *OrderedFillMatcher) sections(s dom.Scope, excluded ElementSet) []*html.Node {
	seen := map[*html.Node]bool{}
	var out []*html.Node
	for _, main := range s.ByTag("main") {
		var walk func(n *html.Node, depth int)
		walk = func(n *html.Node, depth int) {
			if depth > m.maxDepth {
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode {
					continue
				}
				if c.Data == "section" && !seen[c] && !excluded.Covers(c) {
					seen[c] = true
					out = append(out, c)
				}
				if _, boundary := dom.Attr(c, dom.BoundaryAttr); !boundary {
					walk(c, depth+1)
				}
			}
		}
		walk(main, 1)
	}
	return out
}
