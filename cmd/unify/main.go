// Command unify composes a static site from pages, layouts and components.
//
// Usage:
//
//	unify -mode build -src site -out dist      # compose every page once
//	unify -mode build -watch                   # rebuild on every source change
//	unify -mode serve -src site -addr :8080    # compose pages on request
//	unify -mode mcp -src site                  # MCP tools over stdio
//	unify -config unify.yaml -mode build       # settings from a file
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/fwdslsh/unify-sub006/preview"
	"github.com/fwdslsh/unify-sub006/site"
	"github.com/fwdslsh/unify-sub006/watch"
)

const version = "0.6.0"

func main() {
	mode := flag.String("mode", "build", "build, serve or mcp")
	configPath := flag.String("config", "", "path to unify.yaml config file")
	srcDir := flag.String("src", "", "source directory (overrides config)")
	outDir := flag.String("out", "", "output directory (overrides config)")
	addr := flag.String("addr", ":8080", "listen address for serve mode")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	watchSrc := flag.Bool("watch", false, "build mode: rebuild when the source tree changes")
	interval := flag.Duration("watch-interval", 500*time.Millisecond, "source polling interval for -watch and serve mode")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := watch.Options{Interval: *interval, Debounce: 200 * time.Millisecond}
	if err := run(ctx, logger, *mode, *configPath, *srcDir, *outDir, *addr, *watchSrc, opts); err != nil {
		logger.Error("unify: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, mode, configPath, srcDir, outDir, addr string, watching bool, watchOpts watch.Options) error {
	cfg, err := resolveConfig(configPath, srcDir, outDir)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	b, err := site.New(*cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer b.Close()

	switch mode {
	case "build":
		if !watching {
			return build(ctx, b)
		}
		if err := build(ctx, b); err != nil {
			logger.Warn("unify: build", "error", err)
		}
		logger.Info("unify: watching for changes", "src", b.SourceDir(), "interval", watchOpts.Interval)
		b.Watcher(watchOpts).OnChange(ctx, func() error {
			b.Composer().ClearCache()
			if err := build(ctx, b); err != nil {
				logger.Warn("unify: rebuild", "error", err)
			}
			return nil
		})
		return nil
	case "serve":
		// Pages compose on request; a change only has to drop cached layouts.
		go b.Watcher(watchOpts).OnChange(ctx, func() error {
			b.Composer().ClearCache()
			return nil
		})
		return serve(ctx, logger, b, addr)
	case "mcp":
		srv := mcp.NewServer(&mcp.Implementation{Name: "unify", Version: version}, nil)
		b.Composer().RegisterMCP(srv)
		logger.Info("unify: mcp on stdio", "src", b.SourceDir())
		return srv.Run(ctx, &mcp.StdioTransport{})
	default:
		return fmt.Errorf("unknown mode %q (want build, serve or mcp)", mode)
	}
}

func build(ctx context.Context, b *site.Builder) error {
	report, err := b.Build(ctx)
	if err != nil {
		return err
	}
	// Per-page diagnostics go to stdout; HTML is already on disk.
	type pageLine struct {
		Path              string   `json:"path"`
		Success           bool     `json:"success"`
		Error             string   `json:"error,omitempty"`
		Warnings          []string `json:"warnings,omitempty"`
		RecoverableErrors []string `json:"recoverableErrors,omitempty"`
		SecurityWarnings  []string `json:"securityWarnings,omitempty"`
	}
	enc := json.NewEncoder(os.Stdout)
	for _, p := range report.Pages {
		if p.Result == nil {
			continue
		}
		r := p.Result
		if r.Success && len(r.Warnings) == 0 && len(r.RecoverableErrors) == 0 && len(r.SecurityWarnings) == 0 {
			continue
		}
		enc.Encode(pageLine{
			Path:              r.Path,
			Success:           r.Success,
			Error:             r.Error,
			Warnings:          r.Warnings,
			RecoverableErrors: r.RecoverableErrors,
			SecurityWarnings:  r.SecurityWarnings,
		})
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d pages failed", report.Failed, len(report.Pages))
	}
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, b *site.Builder, addr string) error {
	p := preview.New(b.Composer(), logger, preview.WithStatic(b.SourceFS()))
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("unify: serving", "addr", addr, "src", b.SourceDir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("unify: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func resolveConfig(configPath, srcDir, outDir string) (*site.Config, error) {
	cfg := &site.Config{}
	if configPath != "" {
		var err error
		if cfg, err = site.LoadConfigFile(configPath); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if srcDir != "" {
		cfg.SourceDir = srcDir
	}
	if outDir != "" {
		cfg.OutputDir = outDir
	}
	return cfg, nil
}
