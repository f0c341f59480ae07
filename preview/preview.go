// Package preview serves a source tree over HTTP, composing each page on
// request.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fwdslsh/unify-sub006/cascade"
	"github.com/fwdslsh/unify-sub006/horosafe"
	"github.com/fwdslsh/unify-sub006/idgen"
	"github.com/fwdslsh/unify-sub006/kit"
	"github.com/fwdslsh/unify-sub006/site"
)

// Server composes pages for a live preview.
type Server struct {
	composer *cascade.Composer
	logger   *slog.Logger
	static   fs.FS
	newID    idgen.Generator
	compose  kit.Endpoint
}

// Option configures a Server.
type Option func(*Server)

// WithStatic serves files that are not pages from fsys.
func WithStatic(fsys fs.FS) Option { return func(s *Server) { s.static = fsys } }

// WithIDGenerator overrides the request ID generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Server) { s.newID = gen } }

// New creates a preview server over composer.
func New(composer *cascade.Composer, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		composer: composer,
		logger:   logger,
		newID:    idgen.Prefixed("req_", idgen.NanoID(12)),
	}
	for _, o := range opts {
		o(s)
	}
	s.compose = kit.Logging(logger, "preview.compose")(s.composeEndpoint)
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	// Preview output changes with every edit.
	r.Use(middleware.NoCache)
	r.Use(middleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(middleware.SetHeader("Referrer-Policy", "strict-origin-when-cross-origin"))
	r.Use(s.requestID)

	r.Get("/_unify/health", s.handleHealth)
	r.Get("/*", s.handlePage)
	return r
}

// requestID tags the request context for kit.Logging and echoes the ID.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = s.newID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"cached":    s.composer.CachedDocuments(),
		"in_flight": s.composer.InFlight(),
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	name, ok := PagePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !site.IsPage(name) {
		s.serveStatic(w, r, name)
		return
	}

	out, err := s.compose(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, cascade.ErrNoSource), errors.Is(err, horosafe.ErrPathTraversal):
			http.NotFound(w, r)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	res := out.(*cascade.Result)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(res.HTML))
}

func (s *Server) composeEndpoint(ctx context.Context, req any) (any, error) {
	res := s.composer.Compose(ctx, req.(string))
	if !res.Success {
		if err := res.Err(); err != nil {
			return res, err
		}
		return res, errors.New(res.Error)
	}
	for _, w := range res.SecurityWarnings {
		s.logger.Warn("preview: security warning", "path", res.Path, "warning", w)
	}
	return res, nil
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, name string) {
	if s.static == nil {
		http.NotFound(w, r)
		return
	}
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/" + name
	http.FileServerFS(s.static).ServeHTTP(w, r2)
}

// PagePath maps a request path to a source-relative page: "/" is
// index.html, "/x/" is x/index.html and an extensionless "/x" is x.html.
// Paths touching a "_" or "." segment are never served.
func PagePath(urlPath string) (string, bool) {
	p := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if strings.HasSuffix(urlPath, "/") {
		p = path.Join(p, "index.html")
	}
	if p == "" || p == "." {
		p = "index.html"
	}
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, "_") || strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	if path.Ext(p) == "" {
		p += ".html"
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
