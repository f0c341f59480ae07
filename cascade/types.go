package cascade

import (
	"context"
	"errors"
)

var (
	// ErrCircularDependency is returned when a document is re-entered while
	// it is still being resolved.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrMaxDepth is recorded when layout or component nesting exceeds
	// Config.MaxDepth.
	ErrMaxDepth = errors.New("maximum composition depth exceeded")

	// ErrNoSource is returned by a Source for a document that does not exist.
	ErrNoSource = errors.New("document not found")

	// ErrInvalidConfig is returned by New.
	ErrInvalidConfig = errors.New("invalid composer configuration")
)

// Source supplies raw document text by source-relative name.
type Source interface {
	ReadFile(ctx context.Context, name string) (string, error)
}

// PathValidator keeps directive paths inside the source tree. A failure
// wrapping horosafe.ErrPathTraversal is reported as a security warning.
type PathValidator interface {
	ValidatePath(p, root string) error
	ValidateAndResolve(p, root string) (string, error)
}

// Result is the outcome of composing one page. Per-page problems never
// surface as Go errors; they are reported here.
type Result struct {
	Path                string   `json:"path"`
	Success             bool     `json:"success"`
	HTML                string   `json:"html"`
	LayoutsProcessed    int      `json:"layoutsProcessed"`
	ComponentsProcessed int      `json:"componentsProcessed"`
	CompositionApplied  bool     `json:"compositionApplied"`
	RecoverableErrors   []string `json:"recoverableErrors"`
	SecurityWarnings    []string `json:"securityWarnings"`
	Warnings            []string `json:"warnings"`
	Error               string   `json:"error,omitempty"`

	err error
}

// Err returns the fatal error behind a failed Result, nil on success. Use
// errors.Is with ErrNoSource or ErrCircularDependency.
func (r *Result) Err() error {
	return r.err
}

func newResult(path string) *Result {
	return &Result{
		Path:              path,
		RecoverableErrors: []string{},
		SecurityWarnings:  []string{},
		Warnings:          []string{},
	}
}
