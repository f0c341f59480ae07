package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fwdslsh/unify-sub006/cascade/internal/match"
)

const baseLayout = `<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Site</title>
<meta name="description" content="layout">
<link rel="stylesheet" href="/site.css"></head>
<body class="site"><header class="unify-header">Default header</header><main class="unify-content">Default</main><footer>Footer</footer></body></html>`

func newComposer(t *testing.T, src Source, mut ...func(*Config)) *Composer {
	t.Helper()
	cfg := Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, m := range mut {
		m(&cfg)
	}
	c, err := New(cfg, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func compose(t *testing.T, c *Composer, name string) *Result {
	t.Helper()
	res := c.Compose(context.Background(), name)
	if strings.Contains(res.HTML, "data-unify") {
		t.Errorf("%s: output still carries a directive:\n%s", name, res.HTML)
	}
	if n := c.InFlight(); n != 0 {
		t.Errorf("%s: %d documents still in flight after the call", name, n)
	}
	return res
}

func mustContain(t *testing.T, html string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(html, p) {
			t.Errorf("output missing %q:\n%s", p, html)
		}
	}
}

func TestCompose_AreaLayout(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": baseLayout,
		"index.html": `<html data-unify="/layout.html"><head><title>Home</title>
<meta name="description" content="page"></head>
<body><main class="unify-content"><h1>Hello</h1></main></body></html>`,
	})

	res := compose(t, c, "index.html")
	if !res.Success || !res.CompositionApplied || res.LayoutsProcessed != 1 {
		t.Fatalf("result: %+v", res)
	}
	mustContain(t, res.HTML,
		"<!DOCTYPE html>",
		`<html lang="en">`,
		`<title>Home</title>`,
		`<meta name="description" content="page"/>`,
		`<link rel="stylesheet" href="/site.css"/>`,
		`<body class="site">`,
		`<header class="unify-header">Default header</header>`,
		`<main class="unify-content"><h1>Hello</h1></main>`,
		`<footer>Footer</footer>`,
	)
	if strings.Contains(res.HTML, `content="layout"`) {
		t.Error("layout description should be replaced by the page's")
	}
	if len(res.Warnings) != 0 || len(res.RecoverableErrors) != 0 {
		t.Errorf("unexpected diagnostics: %v %v", res.Warnings, res.RecoverableErrors)
	}
}

func TestCompose_MissingLayoutStripsDirective(t *testing.T) {
	c := newComposer(t, MapSource{
		"index.html": `<body data-unify="missing.html"><p>x</p><div data-unify="nope.html">y</div></body>`,
	})

	res := compose(t, c, "index.html")
	if !res.Success {
		t.Fatalf("missing resources must not fail the page: %s", res.Error)
	}
	if res.CompositionApplied || res.LayoutsProcessed != 0 {
		t.Errorf("no layout was applied: %+v", res)
	}
	if len(res.RecoverableErrors) != 2 {
		t.Fatalf("recoverable errors: %v", res.RecoverableErrors)
	}
	mustContain(t, res.HTML, "<p>x</p>", "<div>y</div>")
}

func TestCompose_CircularDependency(t *testing.T) {
	c := newComposer(t, MapSource{
		"a.html":      `<html data-unify="b.html"><body><p>A</p></body></html>`,
		"b.html":      `<html data-unify="a.html"><body><main>B</main></body></html>`,
		"c.html":      `<html data-unify="layout.html"><body><main class="unify-content">C</main></body></html>`,
		"layout.html": baseLayout,
	})

	res := compose(t, c, "a.html")
	if res.Success {
		t.Fatal("cycle must fail the page")
	}
	if !strings.Contains(res.Error, "circular dependency") || !strings.Contains(res.Error, "a.html -> b.html -> a.html") {
		t.Errorf("error: %q", res.Error)
	}
	mustContain(t, res.HTML, "<p>A</p>")

	// The same composer keeps working for unrelated pages.
	res = compose(t, c, "c.html")
	if !res.Success || res.LayoutsProcessed != 1 {
		t.Fatalf("unrelated page after a cycle: %+v", res)
	}
}

func TestCompose_ComponentCycle(t *testing.T) {
	c := newComposer(t, MapSource{
		"index.html": `<body><div data-unify="loop.html"></div></body>`,
		"loop.html":  `<body><div data-unify="loop.html"></div></body>`,
	})
	res := compose(t, c, "index.html")
	if res.Success || !strings.Contains(res.Error, "circular dependency") {
		t.Fatalf("result: %+v", res)
	}
}

func TestCompose_OrderedFillSurplus(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": `<body><main class="doc"><section>L1</section><section>L2</section></main></body>`,
		"index.html": `<body data-unify="layout.html"><main id="m"><section>P1</section><section>P2</section>` +
			`<section>P3</section><section>P4</section></main></body>`,
	})

	res := compose(t, c, "index.html")
	if !res.Success {
		t.Fatal(res.Error)
	}
	mustContain(t, res.HTML,
		`<main class="doc" id="m"><section>P1</section><section>P2</section><section>P3</section><section>P4</section></main>`)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "2 more <section>") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings: %v", res.Warnings)
	}
}

func TestCompose_LandmarkReplacesMixedMain(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": `<body><main><h2>x</h2><section>L1</section></main></body>`,
		"index.html":  `<body data-unify="layout.html"><main><h1>T</h1><section>P1</section></main></body>`,
	})
	res := compose(t, c, "index.html")
	mustContain(t, res.HTML, `<main><h1>T</h1><section>P1</section></main>`)
	if strings.Contains(res.HTML, "L1") {
		t.Error("layout sections should be replaced with the whole <main>")
	}
}

func TestCompose_Component(t *testing.T) {
	c := newComposer(t, MapSource{
		"components/card.html": `<html><head><style>.card{}</style></head><body>` +
			`<div class="card"><h3 class="unify-title">Untitled</h3><div class="unify-body">Empty</div></div></body></html>`,
		"index.html": `<html><head><title>P</title></head><body>` +
			`<div data-unify="components/card.html" id="c1"><h3 class="unify-title">Hello</h3><p class="unify-body">World</p></div>` +
			`</body></html>`,
	})

	res := compose(t, c, "index.html")
	if !res.Success || res.ComponentsProcessed != 1 {
		t.Fatalf("result: %+v", res)
	}
	mustContain(t, res.HTML,
		`<div class="card" id="c1"><h3 class="unify-title">Hello</h3><div class="unify-body">World</div></div>`,
		`<style>.card{}</style>`,
		`<title>P</title>`,
	)
	if strings.Contains(res.HTML, "data-unify-scope") {
		t.Error("boundary marker must be stripped")
	}
}

func TestCompose_ComponentScopeIsolation(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": `<body><h3 class="unify-title">Layout title</h3><main></main></body>`,
		"card.html":   `<body><div class="card"><h3 class="unify-title">Card</h3></div></body>`,
		"index.html":  `<body data-unify="layout.html"><div data-unify="card.html"></div></body>`,
	})

	res := compose(t, c, "index.html")
	if !res.Success {
		t.Fatal(res.Error)
	}
	mustContain(t, res.HTML,
		`<h3 class="unify-title">Layout title</h3>`,
		`<main><div class="card"><h3 class="unify-title">Card</h3></div></main>`,
	)
}

func TestCompose_SecurityWarning(t *testing.T) {
	c := newComposer(t, MapSource{
		"index.html": `<body data-unify="../../etc/passwd.html"><p>x</p></body>`,
	})
	res := compose(t, c, "index.html")
	if !res.Success {
		t.Fatalf("traversal must not fail the page: %s", res.Error)
	}
	if len(res.SecurityWarnings) != 1 {
		t.Fatalf("security warnings: %v", res.SecurityWarnings)
	}
	mustContain(t, res.HTML, "<p>x</p>")
}

func TestCompose_RelativeLayoutChain(t *testing.T) {
	c := newComposer(t, MapSource{
		"_layouts/site.html": baseLayout,
		"_layouts/blog.html": `<html data-unify="site.html"><body><main class="unify-content"><article class="unify-post">none</article></main></body></html>`,
		"blog/post.html":     `<body data-unify="../_layouts/blog.html"><div class="unify-post">Post body</div></body>`,
	})

	res := compose(t, c, "blog/post.html")
	if !res.Success || res.LayoutsProcessed != 2 {
		t.Fatalf("result: %+v", res)
	}
	mustContain(t, res.HTML, `<main class="unify-content"><article class="unify-post">Post body</article></main>`, "Default header")
}

func TestCompose_MaxDepth(t *testing.T) {
	c := newComposer(t, MapSource{
		"index.html": `<body data-unify="a.html"><main>page</main></body>`,
		"a.html":     `<body data-unify="b.html"><main>a</main></body>`,
		"b.html":     `<body data-unify="c.html"><main>b</main></body>`,
		"c.html":     `<body><main>c</main></body>`,
	}, func(cfg *Config) { cfg.MaxDepth = 2 })

	res := compose(t, c, "index.html")
	if !res.Success || res.LayoutsProcessed != 2 {
		t.Fatalf("result: %+v", res)
	}
	if len(res.RecoverableErrors) != 1 || !strings.Contains(res.RecoverableErrors[0], ErrMaxDepth.Error()) {
		t.Errorf("recoverable errors: %v", res.RecoverableErrors)
	}
	mustContain(t, res.HTML, "<main>page</main>")
}

func TestCompose_BodyFallback(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": `<body><header>H</header><main></main></body>`,
		"index.html":  `<body data-unify="layout.html"><p>Loose</p></body>`,
	})
	res := compose(t, c, "index.html")
	mustContain(t, res.HTML, "<main><p>Loose</p></main>")
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "No matching areas") {
		t.Errorf("warnings: %v", res.Warnings)
	}
}

func TestCompose_UnmatchedAreaWarning(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": baseLayout,
		"index.html":  `<body data-unify="layout.html"><main class="unify-content">x</main><aside class="unify-extra">e</aside></body>`,
	})
	res := compose(t, c, "index.html")
	found := false
	for _, w := range res.Warnings {
		if w == "Page area .unify-extra has no matching target in layout" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings: %v", res.Warnings)
	}
}

func TestCompose_DefaultLayout(t *testing.T) {
	c := newComposer(t, MapSource{
		"_layouts/default.html": baseLayout,
		"about.html":            `<body><main class="unify-content">About</main></body>`,
	}, func(cfg *Config) { cfg.DefaultLayout = "_layouts/default.html" })

	res := compose(t, c, "about.html")
	if res.LayoutsProcessed != 1 {
		t.Fatalf("default layout not applied: %+v", res)
	}
	mustContain(t, res.HTML, `<main class="unify-content">About</main>`, "Footer")

	res = compose(t, c, "_layouts/default.html")
	if res.LayoutsProcessed != 0 || !res.Success {
		t.Errorf("default layout must not apply to itself: %+v", res)
	}
}

func TestCompose_UnreadablePage(t *testing.T) {
	c := newComposer(t, MapSource{})
	res := compose(t, c, "nope.html")
	if res.Success || res.HTML != "" || !strings.Contains(res.Error, "document not found") {
		t.Fatalf("result: %+v", res)
	}
}

func TestComposeHTML(t *testing.T) {
	c := newComposer(t, MapSource{"layout.html": baseLayout})
	res := c.ComposeHTML(context.Background(), "draft.html", `<body data-unify="layout.html"><main class="unify-content">Draft</main></body>`)
	if !res.Success {
		t.Fatal(res.Error)
	}
	mustContain(t, res.HTML, `<main class="unify-content">Draft</main>`)
}

func TestCompose_Parallel(t *testing.T) {
	src := MapSource{"layout.html": baseLayout}
	for i := 0; i < 20; i++ {
		src[fmt.Sprintf("p%d.html", i)] = fmt.Sprintf(
			`<html data-unify="layout.html"><head><title>Page %d</title></head><body><main class="unify-content">Body %d</main></body></html>`, i, i)
	}
	c := newComposer(t, src)

	results := make([]*Result, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Compose(context.Background(), fmt.Sprintf("p%d.html", i))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if !res.Success {
			t.Fatalf("page %d: %s", i, res.Error)
		}
		mustContain(t, res.HTML, fmt.Sprintf("<title>Page %d</title>", i), fmt.Sprintf(">Body %d</main>", i))
	}
	if n := c.InFlight(); n != 0 {
		t.Errorf("in flight after parallel run: %d", n)
	}
	if n := c.CachedDocuments(); n != 21 {
		t.Errorf("cached documents: got %d, want 21", n)
	}
}

func TestClearCache(t *testing.T) {
	src := MapSource{
		"layout.html": `<body><main class="unify-content">v1</main><footer>v1</footer></body>`,
		"index.html":  `<body data-unify="layout.html"><main class="unify-content">x</main></body>`,
	}
	c := newComposer(t, src)
	compose(t, c, "index.html")

	src["layout.html"] = `<body><main class="unify-content">v2</main><footer>v2</footer></body>`
	if res := compose(t, c, "index.html"); !strings.Contains(res.HTML, "<footer>v1</footer>") {
		t.Error("second composition should use the cached layout")
	}
	c.ClearCache()
	if c.CachedDocuments() != 0 {
		t.Error("cache not cleared")
	}
	if res := compose(t, c, "index.html"); !strings.Contains(res.HTML, "<footer>v2</footer>") {
		t.Error("composition after ClearCache should reread the layout")
	}
}

type blockingSource struct{ MapSource }

func (s blockingSource) ReadFile(ctx context.Context, name string) (string, error) {
	if name == "slow.html" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.MapSource.ReadFile(ctx, name)
}

func TestCompose_Timeout(t *testing.T) {
	c := newComposer(t, blockingSource{MapSource{
		"index.html": `<body data-unify="slow.html"><p>x</p></body>`,
	}}, func(cfg *Config) { cfg.Timeout = 20 * time.Millisecond })

	res := compose(t, c, "index.html")
	if res.Success || !strings.Contains(res.Error, context.DeadlineExceeded.Error()) {
		t.Fatalf("timeout must be fatal: %+v", res)
	}
	mustContain(t, res.HTML, "<p>x</p>")
}

func TestNew_InvalidConfig(t *testing.T) {
	src := MapSource{}
	if _, err := New(Config{MaxDepth: -1}, src); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("negative max depth: %v", err)
	}
	if _, err := New(Config{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil source: %v", err)
	}
	_, err := New(Config{OrderedFill: OrderedFillConfig{MaxDepth: -1}}, src)
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, match.ErrInvalidOption) {
		t.Errorf("ordered fill depth: %v", err)
	}
}

func TestCompose_AreaInsideLandmarkSurvives(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": `<body><main><nav class="toc">Layout TOC</nav>` +
			`<div class="unify-hero" id="hero" data-x="layout">Default</div></main></body>`,
		"index.html": `<body data-unify="layout.html"><main id="page-main" data-role="doc">` +
			`<div class="unify-hero" id="other">Page hero</div><p>Body text</p></main></body>`,
	})

	res := compose(t, c, "index.html")
	if !res.Success {
		t.Fatal(res.Error)
	}
	mustContain(t, res.HTML,
		`<nav class="toc">Layout TOC</nav>`,
		`id="hero"`,
		`data-x="layout"`,
		`>Page hero</div>`,
		`data-role="doc"`,
	)
	if strings.Contains(res.HTML, "Default") || strings.Contains(res.HTML, `id="other"`) {
		t.Errorf("area fill was overwritten:\n%s", res.HTML)
	}
}

func TestCompose_AreaAttributesFromLastPageElement(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": `<body><div class="unify-x" data-k="0">default</div></body>`,
		"index.html": `<body data-unify="layout.html">` +
			`<p class="unify-x" data-k="1">one</p><p class="unify-x" data-k="2">two</p></body>`,
	})

	res := compose(t, c, "index.html")
	if !res.Success {
		t.Fatal(res.Error)
	}
	mustContain(t, res.HTML, `data-k="2"`, ">one\ntwo</div>")
	if strings.Contains(res.HTML, `data-k="1"`) || strings.Contains(res.HTML, `data-k="0"`) {
		t.Errorf("attributes must come from the last page element:\n%s", res.HTML)
	}
}

func TestCompose_OrderedFillDisabled(t *testing.T) {
	c := newComposer(t, MapSource{
		"layout.html": `<body><main class="doc"><section>L1</section><section>L2</section></main></body>`,
		"index.html":  `<body data-unify="layout.html"><main><section>P1</section></main></body>`,
	}, func(cfg *Config) { cfg.OrderedFill.Disable = true })

	res := compose(t, c, "index.html")
	mustContain(t, res.HTML, `<main class="doc"><section>P1</section></main>`)
	for _, w := range res.Warnings {
		if strings.Contains(w, "Ordered fill") {
			t.Errorf("ordered fill ran while disabled: %q", w)
		}
	}
}

// gatedSource holds reads of layout.html until release is closed or the
// reader's context ends.
type gatedSource struct {
	MapSource
	started chan struct{}
	once    *sync.Once
	release chan struct{}
}

func (s gatedSource) ReadFile(ctx context.Context, name string) (string, error) {
	if name == "layout.html" {
		s.once.Do(func() { close(s.started) })
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.release:
		}
	}
	return s.MapSource.ReadFile(ctx, name)
}

func TestCompose_SharedLoadSurvivesCancelledCaller(t *testing.T) {
	src := gatedSource{
		MapSource: MapSource{
			"layout.html": baseLayout,
			"a.html":      `<body data-unify="layout.html"><main class="unify-content">A</main></body>`,
			"b.html":      `<body data-unify="layout.html"><main class="unify-content">B</main></body>`,
		},
		started: make(chan struct{}),
		once:    &sync.Once{},
		release: make(chan struct{}),
	}
	c := newComposer(t, src)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := make(chan *Result, 1)
	go func() { resA <- c.Compose(ctxA, "a.html") }()
	<-src.started

	resB := make(chan *Result, 1)
	go func() { resB <- c.Compose(context.Background(), "b.html") }()
	// Give b.html time to join the pending layout read.
	time.Sleep(20 * time.Millisecond)
	cancelA()

	a := <-resA
	if a.Success || !errors.Is(a.Err(), context.Canceled) {
		t.Fatalf("cancelled caller: success=%v err=%v", a.Success, a.Err())
	}

	close(src.release)
	b := <-resB
	if !b.Success || b.LayoutsProcessed != 1 || len(b.RecoverableErrors) != 0 {
		t.Fatalf("other caller: %+v", b)
	}
	mustContain(t, b.HTML, `<main class="unify-content">B</main>`, `<footer>Footer</footer>`)
}
