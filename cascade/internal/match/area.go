package match

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/fwdslsh/unify-sub006/cascade/internal/dom"
)

// DefaultAreaPrefix is the class prefix marking composable areas.
const DefaultAreaPrefix = "unify-"

// AreaMatcher pairs elements sharing an area class, then hands the rest of
// the scope to the landmark and ordered-fill matchers.
type AreaMatcher struct {
	prefix      string
	landmarks   *LandmarkMatcher
	orderedFill *OrderedFillMatcher
}

// NewAreaMatcher wires the three strategies together. An empty prefix means
// DefaultAreaPrefix; nil fallbacks get their defaults.
func NewAreaMatcher(prefix string, landmarks *LandmarkMatcher, orderedFill *OrderedFillMatcher) *AreaMatcher {
	if prefix == "" {
		prefix = DefaultAreaPrefix
	}
	if landmarks == nil {
		landmarks = &LandmarkMatcher{}
	}
	if orderedFill == nil {
		orderedFill, _ = NewOrderedFill()
	}
	return &AreaMatcher{prefix: prefix, landmarks: landmarks, orderedFill: orderedFill}
}

// Prefix returns the area class prefix.
func (m *AreaMatcher) Prefix() string { return m.prefix }

// Match runs all three strategies over one scope pair.
func (m *AreaMatcher) Match(layout, page dom.Scope) (res Result) {
	if !layout.Valid() || !page.Valid() {
		res.Errors = append(res.Errors, "area matching: "+ErrDocumentsRequired.Error())
		return res
	}

	claimed := map[string]bool{}
	excluded := ElementSet{}

	func() {
		defer func() {
			if r := recover(); r != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("area matching failed: %v", r))
			}
		}()
		m.matchAreas(layout, page, claimed, excluded, &res)
	}()

	res.absorb(m.landmarks.Match(layout, page, LandmarkOptions{
		ExcludeMatchedClasses: claimed,
		ExcludedElements:      excluded,
	}))

	ordered, err := m.orderedFill.Match(layout, page, excluded)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	res.absorb(ordered)
	return res
}

func (m *AreaMatcher) matchAreas(layout, page dom.Scope, claimed map[string]bool, excluded ElementSet, res *Result) {
	hosts := layout.ByClassPrefix(m.prefix)
	layoutClasses := map[string]bool{}
	for _, host := range hosts {
		for _, cls := range dom.PrefixedClasses(host, m.prefix) {
			layoutClasses[cls] = true
		}
	}

	seenHost := map[*html.Node]bool{}
	for _, host := range hosts {
		if excluded.Covers(host) {
			continue
		}
		for _, cls := range dom.PrefixedClasses(host, m.prefix) {
			if claimed[cls] {
				if !seenHost[host] {
					res.Warnings = append(res.Warnings, fmt.Sprintf("Ambiguous area matching: multiple .%s targets found in layout", cls))
				}
				continue
			}
			pages := page.ByClass(cls)
			if len(pages) == 0 {
				continue
			}
			if seenHost[host] {
				claimed[cls] = true
				res.Warnings = append(res.Warnings, fmt.Sprintf("Area .%s shares its layout element with another matched area and was ignored", cls))
				continue
			}
			content, err := combine(pages)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("area .%s: %v", cls, err))
				continue
			}
			res.Matches = append(res.Matches, Record{
				Type:              TypeAreaClass,
				Key:               cls,
				Layout:            host,
				Page:              pages,
				Content:           content,
				Confidence:        1,
				SectioningContext: -1,
			})
			claimed[cls] = true
			seenHost[host] = true
			excluded[host] = true
			for _, p := range pages {
				excluded[p] = true
			}
		}
	}

	// A claimed class is spoken for on both sides, including duplicate layout
	// targets and classes dropped from a shared host.
	for cls := range claimed {
		for _, n := range layout.ByClass(cls) {
			excluded[n] = true
		}
		for _, n := range page.ByClass(cls) {
			excluded[n] = true
		}
	}

	warned := map[string]bool{}
	for _, p := range page.ByClassPrefix(m.prefix) {
		for _, cls := range dom.PrefixedClasses(p, m.prefix) {
			if layoutClasses[cls] || warned[cls] {
				continue
			}
			warned[cls] = true
			res.Warnings = append(res.Warnings, fmt.Sprintf("Page area .%s has no matching target in layout", cls))
		}
	}
}

// combine joins the inner content of every page element, in page order.
func combine(pages []*html.Node) (string, error) {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		inner, err := dom.InnerHTML(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, inner)
	}
	return strings.Join(parts, "\n"), nil
}
