package match

import (
	"fmt"

	"golang.org/x/net/html"

	"github.com/fwdslsh/unify-sub006/cascade/internal/dom"
)

// Landmarks lists the landmark tags in matching order.
var Landmarks = []string{"header", "nav", "main", "aside", "footer"}

var landmarkConfidence = map[string]float64{
	"main":   0.9,
	"header": 0.8,
	"footer": 0.8,
	"nav":    0.7,
	"aside":  0.6,
}

// ARIA landmark roles and the tag each one stands in for.
var landmarkRoles = map[string]string{
	"banner":        "header",
	"navigation":    "nav",
	"main":          "main",
	"complementary": "aside",
	"contentinfo":   "footer",
}

// LandmarkOptions narrows one landmark pass.
type LandmarkOptions struct {
	// ExcludeMatchedClasses holds area classes already claimed; elements
	// carrying one are not candidates.
	ExcludeMatchedClasses map[string]bool

	// ExcludedElements holds elements already claimed. Candidates equal to
	// or inside one are skipped.
	ExcludedElements ElementSet
}

// LandmarkMatcher pairs layout and page landmarks by tag.
type LandmarkMatcher struct {
	// RequireSectioningRoot pairs the i-th layout candidate with the i-th
	// page candidate instead of pairing only the first of each.
	RequireSectioningRoot bool
}

type candidate struct {
	node   *html.Node
	byRole bool
}

// Match pairs landmarks between the two scopes. It never fails; problems are
// returned as errors in the result.
func (m *LandmarkMatcher) Match(layout, page dom.Scope, opts LandmarkOptions) (res Result) {
	if !layout.Valid() || !page.Valid() {
		res.Errors = append(res.Errors, "landmark matching: "+ErrDocumentsRequired.Error())
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("landmark matching failed: %v", r))
		}
	}()

	layoutEls := layout.Elements()
	pageEls := page.Elements()
	for _, tag := range Landmarks {
		lc := candidates(layoutEls, tag, opts)
		pc := candidates(pageEls, tag, opts)
		if len(lc) == 0 || len(pc) == 0 {
			continue
		}

		if m.RequireSectioningRoot {
			n := min(len(lc), len(pc))
			for i := 0; i < n; i++ {
				res.Matches = append(res.Matches, landmarkRecord(tag, lc[i], pc[i], i))
			}
			continue
		}

		if len(lc) > 1 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Ambiguous landmark matching: multiple <%s> elements found in layout", tag))
		}
		if len(pc) > 1 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Ambiguous landmark matching: multiple <%s> elements found in page", tag))
		}
		res.Matches = append(res.Matches, landmarkRecord(tag, lc[0], pc[0], -1))
	}
	return res
}

func landmarkRecord(tag string, l, p candidate, ctx int) Record {
	typ := TypeLandmark
	if l.byRole || p.byRole {
		typ = TypeSemantic
	}
	content, err := dom.InnerHTML(p.node)
	if err != nil {
		panic(err)
	}
	return Record{
		Type:              typ,
		Key:               tag,
		Layout:            l.node,
		Page:              []*html.Node{p.node},
		Content:           content,
		Confidence:        landmarkConfidence[tag],
		SectioningContext: ctx,
	}
}

// candidates returns the elements standing for tag, in document order: the
// tag itself or any element whose role maps to it.
func candidates(els []*html.Node, tag string, opts LandmarkOptions) []candidate {
	var out []candidate
	for _, n := range els {
		var c candidate
		switch {
		case n.Data == tag:
			c = candidate{node: n}
		default:
			role, _ := dom.Attr(n, "role")
			if landmarkRoles[role] != tag {
				continue
			}
			c = candidate{node: n, byRole: true}
		}
		if opts.ExcludedElements.Covers(n) || claimedClass(n, opts.ExcludeMatchedClasses) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func claimedClass(n *html.Node, claimed map[string]bool) bool {
	if len(claimed) == 0 {
		return false
	}
	for _, c := range dom.Classes(n) {
		if claimed[c] {
			return true
		}
	}
	return false
}
