// Package buildlog records build runs and the composition outcome of every
// page in SQLite.
package buildlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fwdslsh/unify-sub006/dbopen"
	"github.com/fwdslsh/unify-sub006/idgen"
)

// Build statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Store wraps a SQLite database holding the build log.
type Store struct {
	DB *sql.DB

	// NewID generates build IDs. Nil means idgen.Default.
	NewID idgen.Generator
}

// Open opens (or creates) the build log at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	opts = append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("buildlog: %w", err)
	}
	return &Store{DB: db}, nil
}

// Init creates the tables on a database opened elsewhere.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("buildlog: init: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Build is one build run.
type Build struct {
	ID         string `json:"id"`
	SourceDir  string `json:"source_dir"`
	OutputDir  string `json:"output_dir"`
	Status     string `json:"status"`
	Pages      int    `json:"pages"`
	Failed     int    `json:"failed"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt *int64 `json:"finished_at,omitempty"`
}

// Page is the recorded outcome of composing one page.
type Page struct {
	BuildID           string        `json:"build_id"`
	Path              string        `json:"path"`
	Success           bool          `json:"success"`
	Layouts           int           `json:"layouts"`
	Components        int           `json:"components"`
	Warnings          []string      `json:"warnings"`
	RecoverableErrors []string      `json:"recoverable_errors"`
	SecurityWarnings  []string      `json:"security_warnings"`
	Error             string        `json:"error,omitempty"`
	Duration          time.Duration `json:"duration"`
	RecordedAt        int64         `json:"recorded_at"`
}

// StartBuild inserts a running build and returns it.
func (s *Store) StartBuild(ctx context.Context, sourceDir, outputDir string) (*Build, error) {
	gen := s.NewID
	if gen == nil {
		gen = idgen.Default
	}
	b := &Build{
		ID:        gen(),
		SourceDir: sourceDir,
		OutputDir: outputDir,
		Status:    StatusRunning,
		StartedAt: time.Now().UnixMilli(),
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO builds (id, source_dir, output_dir, status, started_at)
		VALUES (?,?,?,?,?)`,
		b.ID, b.SourceDir, b.OutputDir, b.Status, b.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("buildlog: start build: %w", err)
	}
	return b, nil
}

// RecordPage stores the outcome of one page. Recording the same path twice
// for a build keeps the latest outcome.
func (s *Store) RecordPage(ctx context.Context, p *Page) error {
	if p.BuildID == "" || p.Path == "" {
		return errors.New("buildlog: record page: build ID and path are required")
	}
	if p.RecordedAt == 0 {
		p.RecordedAt = time.Now().UnixMilli()
	}
	warnings, err := encodeList(p.Warnings)
	if err != nil {
		return err
	}
	recoverable, err := encodeList(p.RecoverableErrors)
	if err != nil {
		return err
	}
	security, err := encodeList(p.SecurityWarnings)
	if err != nil {
		return err
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO build_pages (build_id, path, success, layouts, components, warnings,
		                         recoverable, security, error_message, duration_ms, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(build_id, path) DO UPDATE SET
			success=excluded.success, layouts=excluded.layouts, components=excluded.components,
			warnings=excluded.warnings, recoverable=excluded.recoverable, security=excluded.security,
			error_message=excluded.error_message, duration_ms=excluded.duration_ms,
			recorded_at=excluded.recorded_at`,
		p.BuildID, p.Path, boolInt(p.Success), p.Layouts, p.Components, warnings,
		recoverable, security, p.Error, p.Duration.Milliseconds(), p.RecordedAt)
	if err != nil {
		return fmt.Errorf("buildlog: record page %s: %w", p.Path, err)
	}
	return nil
}

// FinishBuild closes a build, counting its recorded pages. The build is
// failed when any page failed.
func (s *Store) FinishBuild(ctx context.Context, buildID string) (*Build, error) {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var pages, failed int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
			FROM build_pages WHERE build_id = ?`, buildID).Scan(&pages, &failed); err != nil {
			return err
		}
		status := StatusDone
		if failed > 0 {
			status = StatusFailed
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE builds SET status=?, pages=?, failed=?, finished_at=? WHERE id=?`,
			status, pages, failed, time.Now().UnixMilli(), buildID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("unknown build %q", buildID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("buildlog: finish build: %w", err)
	}
	return s.GetBuild(ctx, buildID)
}

const buildColumns = `id, source_dir, output_dir, status, pages, failed, started_at, finished_at`

// GetBuild returns one build, or nil when it does not exist.
func (s *Store) GetBuild(ctx context.Context, id string) (*Build, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	return scanBuild(row)
}

// LastBuild returns the most recently started build, or nil when the log is
// empty.
func (s *Store) LastBuild(ctx context.Context) (*Build, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds ORDER BY started_at DESC, id DESC LIMIT 1`)
	return scanBuild(row)
}

func scanBuild(row *sql.Row) (*Build, error) {
	b := &Build{}
	var finishedAt sql.NullInt64
	err := row.Scan(&b.ID, &b.SourceDir, &b.OutputDir, &b.Status, &b.Pages, &b.Failed,
		&b.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("buildlog: scan build: %w", err)
	}
	if finishedAt.Valid {
		b.FinishedAt = &finishedAt.Int64
	}
	return b, nil
}

// Pages returns the pages recorded for a build, ordered by path.
func (s *Store) Pages(ctx context.Context, buildID string) ([]*Page, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT build_id, path, success, layouts, components, warnings, recoverable,
		       security, error_message, duration_ms, recorded_at
		FROM build_pages WHERE build_id = ? ORDER BY path`, buildID)
	if err != nil {
		return nil, fmt.Errorf("buildlog: pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		p := &Page{}
		var success int
		var durationMS int64
		var warnings, recoverable, security string
		if err := rows.Scan(&p.BuildID, &p.Path, &success, &p.Layouts, &p.Components,
			&warnings, &recoverable, &security, &p.Error, &durationMS, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("buildlog: scan page: %w", err)
		}
		p.Success = success != 0
		p.Duration = time.Duration(durationMS) * time.Millisecond
		if p.Warnings, err = decodeList(warnings); err != nil {
			return nil, err
		}
		if p.RecoverableErrors, err = decodeList(recoverable); err != nil {
			return nil, err
		}
		if p.SecurityWarnings, err = decodeList(security); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("buildlog: encode: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("buildlog: decode: %w", err)
	}
	return v, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
