// Package site builds a whole source tree: every page is composed through
// the cascade engine and written to the output tree, other files are copied.
package site

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fwdslsh/unify-sub006/buildlog"
	"github.com/fwdslsh/unify-sub006/cascade"
	"github.com/fwdslsh/unify-sub006/watch"
)

// Builder composes a source tree into an output tree.
type Builder struct {
	cfg      Config
	srcFS    fs.FS
	composer *cascade.Composer
	log      *buildlog.Store
	logger   *slog.Logger
}

// PageReport is the outcome of one page.
type PageReport struct {
	Path     string          `json:"path"`
	Output   string          `json:"output,omitempty"`
	Duration time.Duration   `json:"duration"`
	Result   *cascade.Result `json:"result"`
}

// Report summarises a build.
type Report struct {
	BuildID  string        `json:"build_id,omitempty"`
	Pages    []PageReport  `json:"pages"`
	Assets   int           `json:"assets"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// New validates cfg and prepares a Builder. The build log, when configured,
// is opened here; call Close when done.
func New(cfg Config) (*Builder, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	srcFS := os.DirFS(cfg.SourceDir)
	composer, err := cascade.New(cfg.Cascade, cascade.FSSource{FS: srcFS})
	if err != nil {
		return nil, fmt.Errorf("site: %w", err)
	}

	b := &Builder{
		cfg:      cfg,
		srcFS:    srcFS,
		composer: composer,
		logger:   cfg.Logger,
	}
	if cfg.BuildLog != "" {
		store, err := buildlog.Open(cfg.BuildLog)
		if err != nil {
			return nil, fmt.Errorf("site: %w", err)
		}
		b.log = store
	}
	return b, nil
}

// Composer returns the shared composer, for serving the same tree.
func (b *Builder) Composer() *cascade.Composer { return b.composer }

// SourceFS returns the source tree, for serving its assets.
func (b *Builder) SourceFS() fs.FS { return b.srcFS }

// SourceDir returns the source directory after defaults.
func (b *Builder) SourceDir() string { return b.cfg.SourceDir }

// Watcher returns a watcher over the source tree. An output directory
// inside the source tree is ignored so writing the build does not retrigger it.
func (b *Builder) Watcher(opts watch.Options) *watch.Watcher {
	if opts.Logger == nil {
		opts.Logger = b.logger
	}
	if opts.Detector == nil {
		opts.Detector = watch.TreeVersion
	}
	if rel := b.outputInsideSource(); rel != "" && rel != "." {
		opts.Detector = watch.SkipDir(rel, opts.Detector)
	}
	return watch.New(b.srcFS, opts)
}

// BuildLog returns the build log store, nil when none is configured.
func (b *Builder) BuildLog() *buildlog.Store { return b.log }

// Close releases the build log.
func (b *Builder) Close() error {
	if b.log == nil {
		return nil
	}
	return b.log.Close()
}

// Build composes every page concurrently and copies the remaining files. A
// failing page is reported and never stops the others; the returned error is
// set only when the build itself could not run to completion.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	start := time.Now()
	pages, assets, err := b.scan()
	if err != nil {
		return nil, err
	}

	report := &Report{Pages: make([]PageReport, len(pages))}
	if b.log != nil {
		run, err := b.log.StartBuild(ctx, b.cfg.SourceDir, b.cfg.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("site: %w", err)
		}
		report.BuildID = run.ID
	}
	b.logger.Info("site: build started",
		"build_id", report.BuildID,
		"pages", len(pages),
		"assets", len(assets),
		"concurrency", b.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, name := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report.Pages[i] = b.buildPage(gctx, report.BuildID, name)
			return nil
		})
	}
	for _, name := range assets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := b.copyAsset(name); err != nil {
				b.logger.Warn("site: copy asset failed", "path", name, "error", err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	for _, p := range report.Pages {
		if p.Result != nil && !p.Result.Success {
			report.Failed++
		}
	}
	report.Assets = len(assets)
	report.Duration = time.Since(start)

	if b.log != nil && report.BuildID != "" {
		// The build context may be cancelled; the run is still closed.
		if _, err := b.log.FinishBuild(context.WithoutCancel(ctx), report.BuildID); err != nil {
			b.logger.Warn("site: finish build log", "build_id", report.BuildID, "error", err)
		}
	}

	if waitErr != nil {
		return report, fmt.Errorf("site: build interrupted: %w", waitErr)
	}
	b.logger.Info("site: build finished",
		"build_id", report.BuildID,
		"pages", len(pages),
		"failed", report.Failed,
		"duration", report.Duration)
	return report, nil
}

func (b *Builder) buildPage(ctx context.Context, buildID, name string) PageReport {
	start := time.Now()
	res := b.composer.Compose(ctx, name)
	pr := PageReport{Path: name, Result: res}

	if res.Success {
		out := filepath.Join(b.cfg.OutputDir, filepath.FromSlash(name))
		if err := writeFile(out, []byte(res.HTML)); err != nil {
			res.Success = false
			res.Error = err.Error()
			b.logger.Error("site: write page failed", "path", name, "error", err)
		} else {
			pr.Output = out
		}
	}
	pr.Duration = time.Since(start)

	if b.log != nil && buildID != "" {
		err := b.log.RecordPage(context.WithoutCancel(ctx), &buildlog.Page{
			BuildID:           buildID,
			Path:              name,
			Success:           res.Success,
			Layouts:           res.LayoutsProcessed,
			Components:        res.ComponentsProcessed,
			Warnings:          res.Warnings,
			RecoverableErrors: res.RecoverableErrors,
			SecurityWarnings:  res.SecurityWarnings,
			Error:             res.Error,
			Duration:          pr.Duration,
		})
		if err != nil {
			b.logger.Warn("site: record page failed", "path", name, "error", err)
		}
	}
	return pr
}

// scan lists pages and assets in lexical order. Paths with a segment
// starting with "_" or "." are sources only (layouts, components, drafts)
// and never reach the output.
func (b *Builder) scan() (pages, assets []string, err error) {
	skipOut := b.outputInsideSource()
	err = fs.WalkDir(b.srcFS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if hidden(d.Name()) || (skipOut != "" && p == skipOut) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsPage(p) {
			pages = append(pages, p)
		} else {
			assets = append(assets, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("site: scan %s: %w", b.cfg.SourceDir, err)
	}
	return pages, assets, nil
}

// outputInsideSource returns the output directory relative to the source
// directory in slash form, or "" when it lies outside.
func (b *Builder) outputInsideSource() string {
	src, err1 := filepath.Abs(b.cfg.SourceDir)
	out, err2 := filepath.Abs(b.cfg.OutputDir)
	if err1 != nil || err2 != nil {
		return ""
	}
	rel, err := filepath.Rel(src, out)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}

// IsPage reports whether name is composed rather than copied.
func IsPage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func hidden(segment string) bool {
	return strings.HasPrefix(segment, "_") || strings.HasPrefix(segment, ".")
}

func (b *Builder) copyAsset(name string) error {
	in, err := b.srcFS.Open(name)
	if err != nil {
		return err
	}
	defer in.Close()

	out := filepath.Join(b.cfg.OutputDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeFile(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
