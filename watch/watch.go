// Package watch polls a source tree, detects changes, debounces them and
// runs an action: clearing the parse cache for the preview server or
// rebuilding the site.
//
// Typical usage:
//
//	w := watch.New(os.DirFS("site"), watch.Options{Interval: 500*time.Millisecond, Debounce: 200*time.Millisecond})
//	go w.OnChange(ctx, func() error { composer.ClearCache(); return nil })
package watch

import (
	"context"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token from a tree. Two calls returning
// different values mean something changed; the values carry no order.
type ChangeDetector func(ctx context.Context, fsys fs.FS) (int64, error)

// Options tunes the watcher.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action fires.
	// Further changes during the window restart it. 0 fires immediately.
	Debounce time.Duration
	// Detector overrides TreeVersion.
	Detector ChangeDetector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = TreeVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a tree and runs an action on change. It is safe for
// concurrent use.
type Watcher struct {
	fsys fs.FS
	opts Options

	version atomic.Int64

	// mu + cond broadcast after every successful reload, for WaitForReload.
	mu   sync.Mutex
	cond *sync.Cond

	checks   atomic.Int64
	changes  atomic.Int64
	errors   atomic.Int64
	reloads  atomic.Int64
	reloadNs atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks          int64         `json:"checks"`
	ChangesDetected int64         `json:"changes_detected"`
	Errors          int64         `json:"errors"`
	Reloads         int64         `json:"reloads"`
	AvgReloadTime   time.Duration `json:"avg_reload_time"`
}

// New creates a Watcher. Call OnChange to start the loop.
func New(fsys fs.FS, opts Options) *Watcher {
	opts.defaults()
	w := &Watcher{fsys: fsys, opts: opts}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errors.Load(),
		Reloads:         w.reloads.Load(),
	}
	if s.Reloads > 0 {
		s.AvgReloadTime = time.Duration(w.reloadNs.Load() / s.Reloads)
	}
	return s
}

// Version returns the last processed version token.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange blocks until ctx is cancelled, polling at Options.Interval. When
// the tree changes and the debounce window passes quietly, action runs. A
// failed action leaves the version unchanged so the next poll retries.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.opts.Detector(ctx, w.fsys); err != nil {
		log.Warn("watch: initial scan failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	var pending int64
	hasPending := false

	log.Debug("watch: started", "interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			log.Debug("watch: stopped")
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.fsys)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: scan failed", "error", err)
				continue
			}
			if cur == w.version.Load() || (hasPending && cur == pending) {
				continue
			}
			w.changes.Add(1)
			pending, hasPending = cur, true
			if w.opts.Debounce <= 0 {
				w.fire(log, action, pending)
				hasPending = false
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceCh = debounce.C
			log.Debug("watch: change detected, debouncing")

		case <-debounceCh:
			debounceCh = nil
			if hasPending {
				w.fire(log, action, pending)
				hasPending = false
			}
		}
	}
}

// WaitForReload blocks until at least n actions have completed
// successfully, or ctx ends.
func (w *Watcher) WaitForReload(ctx context.Context, n int64) error {
	if w.reloads.Load() >= n {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.reloads.Load() < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.cond.Wait()
	}
	return nil
}

func (w *Watcher) fire(log *slog.Logger, action func() error, ver int64) {
	start := time.Now()
	if err := action(); err != nil {
		w.errors.Add(1)
		log.Error("watch: action failed", "error", err)
		return
	}
	elapsed := time.Since(start)
	w.reloadNs.Add(int64(elapsed))
	w.version.Store(ver)

	w.mu.Lock()
	w.reloads.Add(1)
	w.cond.Broadcast()
	w.mu.Unlock()
	log.Info("watch: source changed, reloaded", "duration", elapsed)
}

// TreeVersion hashes the path, size and modification time of every file in
// fsys. Any add, remove, rename or write changes the token.
func TreeVersion(ctx context.Context, fsys fs.FS) (int64, error) {
	h := fnv.New64a()
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(strconv.AppendInt(nil, info.Size(), 10))
		h.Write([]byte{0})
		h.Write(strconv.AppendInt(nil, info.ModTime().UnixNano(), 10))
		h.Write([]byte{'\n'})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int64(h.Sum64()), nil
}

// SkipDir returns a detector that ignores the directory at the slash path
// name, typically an output directory inside the source tree.
func SkipDir(name string, next ChangeDetector) ChangeDetector {
	return func(ctx context.Context, fsys fs.FS) (int64, error) {
		sub := filteredFS{FS: fsys, skip: name}
		return next(ctx, sub)
	}
}

type filteredFS struct {
	fs.FS
	skip string
}

func (f filteredFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(f.FS, name)
	if err != nil {
		return entries, err
	}
	out := entries[:0:0]
	for _, e := range entries {
		if path.Join(name, e.Name()) != f.skip {
			out = append(out, e)
		}
	}
	return out, nil
}
