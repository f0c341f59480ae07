// Package cascade composes a page against its chain of layouts and the
// components it imports.
//
// A data-unify attribute on <html>, <head> or <body> names the page's layout;
// on any other element it imports a component that replaces the element. At
// every link the layout's body is matched against the page's body (area
// classes, then landmarks, then ordered sections), attributes are merged, and
// the heads are cascaded layout → components → page. The output never
// carries a data-unify attribute.
//
// Usage:
//
//	c, err := cascade.New(cascade.Config{}, cascade.FSSource{FS: os.DirFS("src")})
//	res := c.Compose(ctx, "blog/post.html")
//
// A Composer is safe for concurrent use. Its only shared state is the parse
// cache; cycle detection state belongs to each call.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/net/html"

	"github.com/fwdslsh/unify-sub006/cascade/internal/attrs"
	"github.com/fwdslsh/unify-sub006/cascade/internal/dom"
	"github.com/fwdslsh/unify-sub006/cascade/internal/head"
	"github.com/fwdslsh/unify-sub006/cascade/internal/match"
	"github.com/fwdslsh/unify-sub006/horosafe"
)

// Composer resolves layout chains and component imports.
type Composer struct {
	cfg      Config
	src      Source
	areas    *match.AreaMatcher
	cache    *docCache // nil when disabled
	inFlight atomic.Int64
	logger   *slog.Logger
}

// New validates cfg and builds a Composer reading documents from src.
func New(cfg Config, src Source) (*Composer, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidConfig)
	}
	of, err := match.NewOrderedFill(
		match.WithMaxDepth(cfg.OrderedFill.depth()),
		match.WithWarnings(!cfg.OrderedFill.DisableWarnings),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ordered_fill: %w", ErrInvalidConfig, err)
	}

	c := &Composer{
		cfg: cfg,
		src: src,
		areas: match.NewAreaMatcher(cfg.AreaPrefix,
			&match.LandmarkMatcher{RequireSectioningRoot: cfg.Landmarks.RequireSectioningRoot}, of),
		logger: cfg.Logger,
	}
	if !cfg.DisableCache {
		c.cache = &docCache{}
	}
	return c, nil
}

// ClearCache drops every cached document.
func (c *Composer) ClearCache() {
	if c.cache != nil {
		c.cache.clear()
	}
}

// CachedDocuments returns the number of cached documents.
func (c *Composer) CachedDocuments() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.len()
}

// InFlight returns how many documents are being resolved right now, across
// all calls. It is zero whenever no Compose call is running.
func (c *Composer) InFlight() int {
	return int(c.inFlight.Load())
}

// Compose reads the page name from the source and composes it.
func (c *Composer) Compose(ctx context.Context, name string) *Result {
	res := newResult(name)
	resolved, err := c.cfg.Validator.ValidateAndResolve(name, c.cfg.Root)
	if err != nil {
		c.fail(res, fmt.Errorf("page %s: %w", name, err))
		return res
	}
	res.Path = resolved

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	e, err := c.load(ctx, resolved)
	if err != nil {
		c.fail(res, fmt.Errorf("page %s: %w", resolved, err))
		return res
	}
	return c.run(ctx, res, resolved, e)
}

// ComposeHTML composes page text that does not come from the source. name
// places the page in the tree so relative directives resolve.
func (c *Composer) ComposeHTML(ctx context.Context, name, text string) *Result {
	res := newResult(name)
	resolved, err := c.cfg.Validator.ValidateAndResolve(name, c.cfg.Root)
	if err != nil {
		c.fail(res, fmt.Errorf("page %s: %w", name, err))
		return res
	}
	res.Path = resolved

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc, err := dom.Parse(text)
	if err != nil {
		c.fail(res, fmt.Errorf("page %s: %w", resolved, err))
		return res
	}
	return c.run(ctx, res, resolved, &entry{raw: text, doc: doc})
}

func (c *Composer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// state is owned by one Compose call.
type state struct {
	res   *Result
	stack []string
}

func (c *Composer) push(st *state, name string) {
	st.stack = append(st.stack, name)
	c.inFlight.Add(1)
}

func (c *Composer) pop(st *state) {
	st.stack = st.stack[:len(st.stack)-1]
	c.inFlight.Add(-1)
}

func (c *Composer) cycle(st *state, name string) error {
	chain := append(slices.Clone(st.stack), name)
	return fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(chain, " -> "))
}

func (c *Composer) run(ctx context.Context, res *Result, name string, page *entry) *Result {
	st := &state{res: res}
	out, err := c.resolve(ctx, st, name, page.doc.Clone(), 0, true)
	if err != nil {
		c.fail(res, err)
		res.HTML = stripped(page)
		return res
	}

	dom.StripDirectives(out.Root())
	rendered, err := out.Render()
	if err != nil {
		c.fail(res, fmt.Errorf("page %s: %w", name, err))
		res.HTML = stripped(page)
		return res
	}
	res.HTML = rendered
	res.Success = true
	c.logger.Debug("cascade: composed",
		"path", name,
		"layouts", res.LayoutsProcessed,
		"components", res.ComponentsProcessed,
		"warnings", len(res.Warnings))
	return res
}

func (c *Composer) fail(res *Result, err error) {
	res.Success = false
	res.CompositionApplied = false
	res.Error = err.Error()
	res.err = err
	c.logger.Error("cascade: composition failed", "path", res.Path, "error", err)
}

func (c *Composer) recoverable(st *state, err error) {
	st.res.RecoverableErrors = append(st.res.RecoverableErrors, err.Error())
	c.logger.Warn("cascade: recoverable error", "path", st.res.Path, "error", err)
}

var directiveRe = regexp.MustCompile(`\s+data-unify(?:-[a-z]+)?\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)

// stripped renders the untouched page without directives. The text fallback
// covers a tree that cannot be rendered.
func stripped(e *entry) string {
	doc := e.doc.Clone()
	dom.StripDirectives(doc.Root())
	if s, err := doc.Render(); err == nil {
		return s
	}
	return directiveRe.ReplaceAllString(e.raw, "")
}

func (c *Composer) load(ctx context.Context, name string) (*entry, error) {
	read := func(ctx context.Context, name string) (*entry, error) {
		raw, err := c.src.ReadFile(ctx, name)
		if err != nil {
			return nil, err
		}
		doc, err := dom.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &entry{raw: raw, doc: doc}, nil
	}
	if c.cache == nil {
		return read(ctx, name)
	}
	return c.cache.load(ctx, name, read)
}

// resolve composes doc, named name, and returns the resulting document: doc
// itself when it has no layout, otherwise its composed layout with doc merged
// in. Only fatal conditions are returned as errors.
func (c *Composer) resolve(ctx context.Context, st *state, name string, doc *dom.Document, depth int, isPage bool) (*dom.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("composing %s: %w", name, err)
	}
	c.push(st, name)
	defer c.pop(st)

	var comps []*head.Model
	if err := c.expand(ctx, st, name, doc.Body(), depth, &comps); err != nil {
		return nil, err
	}

	ref := c.takeLayoutDirective(st, name, doc)
	fromDefault := false
	if ref == "" && isPage && c.cfg.DefaultLayout != "" {
		ref = "/" + strings.TrimPrefix(c.cfg.DefaultLayout, "/")
		fromDefault = true
	}
	if ref == "" {
		c.ownHead(st, doc, comps)
		return doc, nil
	}

	layoutName, ok := c.resolveRef(st, name, ref)
	if !ok || (fromDefault && layoutName == name) {
		c.ownHead(st, doc, comps)
		return doc, nil
	}
	if depth >= c.cfg.MaxDepth {
		c.recoverable(st, fmt.Errorf("%w: limit %d reached at layout %s referenced from %s", ErrMaxDepth, c.cfg.MaxDepth, layoutName, name))
		c.ownHead(st, doc, comps)
		return doc, nil
	}
	if slices.Contains(st.stack, layoutName) {
		return nil, c.cycle(st, layoutName)
	}

	le, err := c.load(ctx, layoutName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("composing %s: %w", name, ctx.Err())
		}
		if isContextErr(err) {
			return nil, fmt.Errorf("composing %s: layout %s: %w", name, layoutName, err)
		}
		c.recoverable(st, fmt.Errorf("layout %s referenced from %s: %w", layoutName, name, err))
		c.ownHead(st, doc, comps)
		return doc, nil
	}

	c.logger.Debug("cascade: applying layout", "page", name, "layout", layoutName, "depth", depth)
	layout, err := c.resolve(ctx, st, layoutName, le.doc.Clone(), depth+1, false)
	if err != nil {
		return nil, err
	}
	c.merge(st, layout, doc, comps, layoutName, name)
	st.res.LayoutsProcessed++
	st.res.CompositionApplied = true
	return layout, nil
}

// takeLayoutDirective removes the directive from <html>, <head> and <body>
// and returns the first value found.
func (c *Composer) takeLayoutDirective(st *state, name string, doc *dom.Document) string {
	var ref string
	for _, n := range []*html.Node{doc.HTML(), doc.Head(), doc.Body()} {
		v, ok := dom.Attr(n, dom.DirectiveAttr)
		if !ok {
			continue
		}
		dom.RemoveAttr(n, dom.DirectiveAttr)
		v = strings.TrimSpace(v)
		switch {
		case ref == "":
			ref = v
		case v != "" && v != ref:
			st.res.Warnings = append(st.res.Warnings,
				fmt.Sprintf("%s: conflicting layout directives %q and %q, using %q", name, ref, v, ref))
		}
	}
	return ref
}

// resolveRef turns a directive value into a source name. Absolute values are
// relative to the source root, others to the referencing document.
func (c *Composer) resolveRef(st *state, from, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		c.recoverable(st, fmt.Errorf("%s: empty %s directive", from, dom.DirectiveAttr))
		return "", false
	}
	candidate := ref
	if !strings.HasPrefix(ref, "/") {
		if dir := path.Dir(from); dir != "." {
			candidate = dir + "/" + ref
		}
	}
	name, err := c.cfg.Validator.ValidateAndResolve(candidate, c.cfg.Root)
	if err != nil {
		if errors.Is(err, horosafe.ErrPathTraversal) {
			st.res.SecurityWarnings = append(st.res.SecurityWarnings,
				fmt.Sprintf("%s: directive %q rejected: %v", from, ref, err))
			c.logger.Warn("cascade: directive path rejected", "path", from, "ref", ref, "error", err)
		} else {
			c.recoverable(st, fmt.Errorf("%s: directive %q: %w", from, ref, err))
		}
		return "", false
	}
	return name, true
}

// expand imports every component below n, innermost first.
func (c *Composer) expand(ctx context.Context, st *state, from string, n *html.Node, depth int, comps *[]*head.Model) error {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.ElementNode {
			if _, boundary := dom.Attr(child, dom.BoundaryAttr); !boundary {
				if err := c.expand(ctx, st, from, child, depth, comps); err != nil {
					return err
				}
				if ref, ok := dom.Attr(child, dom.DirectiveAttr); ok {
					if err := c.importComponent(ctx, st, from, child, ref, depth, comps); err != nil {
						return err
					}
				}
			}
		}
		child = next
	}
	return nil
}

// importComponent composes the component named by ref and puts it in place
// of el. The content of el fills the component the way a page fills a
// layout.
func (c *Composer) importComponent(ctx context.Context, st *state, from string, el *html.Node, ref string, depth int, comps *[]*head.Model) error {
	dom.RemoveAttr(el, dom.DirectiveAttr)

	name, ok := c.resolveRef(st, from, ref)
	if !ok {
		return nil
	}
	if depth >= c.cfg.MaxDepth {
		c.recoverable(st, fmt.Errorf("%w: limit %d reached at component %s referenced from %s", ErrMaxDepth, c.cfg.MaxDepth, name, from))
		return nil
	}
	if slices.Contains(st.stack, name) {
		return c.cycle(st, name)
	}

	ce, err := c.load(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("composing %s: %w", from, ctx.Err())
		}
		if isContextErr(err) {
			return fmt.Errorf("composing %s: component %s: %w", from, name, err)
		}
		c.recoverable(st, fmt.Errorf("component %s referenced from %s: %w", name, from, err))
		return nil
	}

	comp, err := c.resolve(ctx, st, name, ce.doc.Clone(), depth+1, false)
	if err != nil {
		return err
	}

	body := comp.Body()
	host := firstElement(body)
	fallback := firstMain(body)
	if fallback == nil {
		fallback = host
	}
	c.apply(st, body, el, c.areas.Match(dom.NewScope(body), dom.NewScope(el)), fallback, "")

	if host != nil && dom.Attached(body, host) {
		host.Attr = attrs.MergeNodes(host, el)
		dom.SetAttr(host, dom.BoundaryAttr, name)
	}

	var nodes []*html.Node
	for n := body.FirstChild; n != nil; n = n.NextSibling {
		nodes = append(nodes, n)
	}
	dom.Replace(el, nodes...)

	m := head.Extract(comp.Head())
	*comps = append(*comps, &m)
	st.res.ComponentsProcessed++
	c.logger.Debug("cascade: component imported", "component", name, "into", from, "depth", depth)
	return nil
}

// merge fills layout with page and cascades the heads.
func (c *Composer) merge(st *state, layout, page *dom.Document, comps []*head.Model, layoutName, pageName string) {
	lb, pb := layout.Body(), page.Body()
	fallback := firstMain(lb)
	where := "<main>"
	if fallback == nil {
		fallback, where = lb, "<body>"
	}
	c.apply(st, lb, pb, c.areas.Match(dom.NewScope(lb), dom.NewScope(pb)), fallback,
		fmt.Sprintf("No matching areas between %s and layout %s, page content placed in %s", pageName, layoutName, where))

	layout.HTML().Attr = attrs.MergeNodes(layout.HTML(), page.HTML())
	lb.Attr = attrs.MergeNodes(lb, pb)

	lh := head.Extract(layout.Head())
	ph := head.Extract(page.Head())
	if err := head.Apply(layout.Head(), head.MergeWithComponents(&lh, comps, &ph)); err != nil {
		c.recoverable(st, fmt.Errorf("%s: head merge: %w", pageName, err))
	}
}

// ownHead folds imported component heads into the head of a document that
// has no layout.
func (c *Composer) ownHead(st *state, doc *dom.Document, comps []*head.Model) {
	if len(comps) == 0 {
		return
	}
	own := head.Extract(doc.Head())
	if err := head.Apply(doc.Head(), head.MergeWithComponents(nil, comps, &own)); err != nil {
		c.recoverable(st, fmt.Errorf("%s: head merge: %w", st.res.Path, err))
	}
}

func firstElement(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func firstMain(n *html.Node) *html.Node {
	if mains := dom.NewScope(n).ByTag("main"); len(mains) > 0 {
		return mains[0]
	}
	return nil
}
