// Package watcher runs the import drop directory: JSON files created or
// modified under the watched directory are debounced and handed to an
// import callback in sorted batches.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// ImportFunc receives a batch of JSON file paths ready to import.
type ImportFunc func(ctx context.Context, paths []string) error

// Watcher observes a drop directory for DB-ingest JSON files.
type Watcher struct {
	dir      string
	debounce time.Duration
	importFn ImportFunc
	log      *slog.Logger
}

// New creates a watcher over dir. A non-positive debounce falls back to
// the default window.
func New(dir string, debounce time.Duration, importFn ImportFunc, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{dir: dir, debounce: debounce, importFn: importFn, log: logger}
}

// Run watches until ctx is cancelled. Import failures are logged, never
// fatal: the next drop retries naturally since imports are append-only.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}

	deb := NewDebouncer(w.debounce)
	defer deb.Stop()

	w.log.Info("watching drop directory",
		slog.String("dir", w.dir),
		slog.Duration("debounce", w.debounce))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				continue
			}
			deb.Add(ev.Name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", slog.String("error", err.Error()))

		case paths := <-deb.Output():
			sort.Strings(paths)
			w.log.Info("importing dropped files", slog.Int("count", len(paths)))
			if err := w.importFn(ctx, paths); err != nil {
				w.log.Error("drop import failed", slog.String("error", err.Error()))
			}
		}
	}
}
