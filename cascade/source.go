package cascade

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fwdslsh/unify-sub006/horosafe"
)

// MapSource serves documents from memory, keyed by source-relative name.
type MapSource map[string]string

// ReadFile implements Source.
func (m MapSource) ReadFile(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s, ok := m[strings.TrimPrefix(name, "/")]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoSource, name)
}

// FSSource reads documents from a file system, typically os.DirFS of the
// source directory.
type FSSource struct {
	FS fs.FS

	// MaxSize caps one document. Default horosafe.MaxFileSize.
	MaxSize int64
}

// ReadFile implements Source.
func (s FSSource) ReadFile(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := s.FS.Open(strings.TrimPrefix(name, "/"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoSource, name)
		}
		return "", err
	}
	defer f.Close()

	limit := s.MaxSize
	if limit <= 0 {
		limit = horosafe.MaxFileSize
	}
	data, err := horosafe.LimitedReadAll(f, limit)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}
