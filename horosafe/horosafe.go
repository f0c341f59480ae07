// Package horosafe guards the file access of a build: directive paths must
// stay inside the source tree, and reads are bounded.
//
// Paths are slash-separated names relative to the source root, the form
// io/fs uses ("pages/about.html"). A leading slash is accepted and means the
// same thing.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxFileSize is the default cap for reading one source file (16 MiB).
const MaxFileSize int64 = 16 << 20

// ErrPathTraversal is returned when a path escapes its root.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("horosafe: content exceeds size limit")

// ValidatePath reports whether p stays inside root.
func ValidatePath(p, root string) error {
	_, err := ValidateAndResolve(p, root)
	return err
}

// ValidateAndResolve cleans p and returns it as a source-relative name. It
// fails with ErrPathTraversal when the cleaned path climbs above the source
// root or lands outside root. An empty root, "." and "/" all mean the whole
// source tree.
func ValidateAndResolve(p, root string) (string, error) {
	if p == "" || strings.ContainsAny(p, "\x00\\") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}

	base := cleanRoot(root)
	if base != "." && cleaned != base && !strings.HasPrefix(cleaned, base+"/") {
		return "", fmt.Errorf("%w: %q is outside %q", ErrPathTraversal, p, root)
	}
	return cleaned, nil
}

func cleanRoot(root string) string {
	r := path.Clean("/" + strings.TrimSpace(root))
	if r == "/" {
		return "."
	}
	return r[1:]
}

// Validator adapts the package functions to an interface value.
type Validator struct{}

// ValidatePath implements the composer's path validator.
func (Validator) ValidatePath(p, root string) error { return ValidatePath(p, root) }

// ValidateAndResolve implements the composer's path validator.
func (Validator) ValidateAndResolve(p, root string) (string, error) {
	return ValidateAndResolve(p, root)
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrTooLarge if the
// limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}
