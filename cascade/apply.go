package cascade

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/fwdslsh/unify-sub006/cascade/internal/attrs"
	"github.com/fwdslsh/unify-sub006/cascade/internal/dom"
	"github.com/fwdslsh/unify-sub006/cascade/internal/match"
)

// apply writes the matches of one scope into the layout side. With no match
// at all, the page content goes into fallback.
//
// A landmark <main> and ordered sections under it can both match. When the
// page <main> holds nothing but sections, the sections are filled by position
// and <main> only takes the page attributes; otherwise <main> is replaced as
// a whole and the section matches are dropped.
//
// A layout landmark wrapping an area host only takes the page attributes, so
// the area fill and the layout content around it survive.
func (c *Composer) apply(st *state, layout, page *html.Node, res match.Result, fallback *html.Node, fallbackWarning string) {
	st.res.Warnings = append(st.res.Warnings, res.Warnings...)
	for _, e := range res.Errors {
		c.recoverable(st, fmt.Errorf("matching: %s", e))
	}

	if len(res.Matches) == 0 && len(res.Appended) == 0 {
		if fallback == nil || !dom.HasContent(page) {
			return
		}
		content, err := dom.InnerHTML(page)
		if err == nil {
			err = appendHTML(fallback, nil, content)
		}
		if err != nil {
			c.recoverable(st, fmt.Errorf("fallback placement: %w", err))
			return
		}
		if fallbackWarning != "" {
			st.res.Warnings = append(st.res.Warnings, fallbackWarning)
		}
		return
	}

	areas := res.ByType(match.TypeAreaClass)
	wrapsArea := func(n *html.Node) bool {
		for _, a := range areas {
			if dom.Contains(n, a.Layout) {
				return true
			}
		}
		return false
	}

	main := landmarkMain(res)
	keepMain := main != nil && (sectionStructured(*main, res) || wrapsArea(main.Layout))

	for _, rec := range res.Matches {
		isLandmark := rec.Type == match.TypeLandmark || rec.Type == match.TypeSemantic
		if rec.Type == match.TypeOrderedFill && main != nil && !keepMain && dom.Contains(main.Layout, rec.Layout) {
			continue
		}
		if !dom.Attached(layout, rec.Layout) {
			continue
		}
		// Attributes come from the last page element, content from all.
		last := rec.Page[len(rec.Page)-1]
		rec.Layout.Attr = attrs.MergeNodes(rec.Layout, last)
		if isLandmark && ((keepMain && rec.Layout == main.Layout) || wrapsArea(rec.Layout)) {
			continue
		}
		if err := dom.SetInnerHTML(rec.Layout, rec.Content); err != nil {
			c.recoverable(st, fmt.Errorf("fill %s: %w", rec.Key, err))
		}
	}

	if len(res.Appended) > 0 && (main == nil || keepMain) {
		c.appendSections(st, layout, res)
	}
}

// appendSections places surplus page sections after the last filled layout
// section, or at the end of the first layout <main>.
func (c *Composer) appendSections(st *state, layout *html.Node, res match.Result) {
	var parent, before *html.Node
	ordered := res.ByType(match.TypeOrderedFill)
	for i := len(ordered) - 1; i >= 0; i-- {
		if a := ordered[i].Layout; dom.Attached(layout, a) {
			parent, before = a.Parent, a.NextSibling
			break
		}
	}
	if parent == nil {
		parent = firstMain(layout)
	}
	if parent == nil {
		st.res.Warnings = append(st.res.Warnings,
			fmt.Sprintf("Ordered fill: no place for %d surplus page sections", len(res.Appended)))
		return
	}
	for _, a := range res.Appended {
		if err := appendHTML(parent, before, a.Content); err != nil {
			c.recoverable(st, fmt.Errorf("append section %d: %w", a.Index, err))
		}
	}
}

func landmarkMain(res match.Result) *match.Record {
	for i, rec := range res.Matches {
		if rec.Key == "main" && (rec.Type == match.TypeLandmark || rec.Type == match.TypeSemantic) {
			return &res.Matches[i]
		}
	}
	return nil
}

func sectionStructured(main match.Record, res match.Result) bool {
	ordered := res.ByType(match.TypeOrderedFill)
	if len(ordered) == 0 {
		return false
	}
	for _, o := range ordered {
		if !dom.Contains(main.Layout, o.Layout) {
			return false
		}
	}
	kids := dom.ElementChildren(main.Page[0])
	if len(kids) == 0 {
		return false
	}
	for _, k := range kids {
		if k.Data != "section" {
			return false
		}
	}
	return true
}

// appendHTML parses content in the context of parent and inserts it before
// the given child, or at the end when before is nil.
func appendHTML(parent, before *html.Node, content string) error {
	nodes, err := dom.ParseFragment(content, parent)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		parent.InsertBefore(n, before)
	}
	return nil
}
