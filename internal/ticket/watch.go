package ticket

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before it is read.
const DefaultDebounce = 300 * time.Millisecond

// Watcher files tickets from YAML documents dropped into a directory.
// A document whose id already exists in the store is skipped, so editing a
// file never overwrites a ticket the workflow is working on.
type Watcher struct {
	dir      string
	store    Store
	log      *zap.SugaredLogger
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
	created int
}

// NewWatcher returns a Watcher for dir. Call Run to start it.
func NewWatcher(dir string, store Store, log *zap.SugaredLogger) *Watcher {
	return &Watcher{
		dir:      dir,
		store:    store,
		log:      log,
		debounce: DefaultDebounce,
		pending:  make(map[string]time.Time),
	}
}

// Created returns how many tickets the watcher has filed.
func (w *Watcher) Created() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.created
}

// Run files the tickets already in the directory, then watches it until ctx
// is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("ticket watcher: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ticket watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("ticket watcher: watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("ticket watcher: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isYAML(e.Name()) {
			w.file(filepath.Join(w.dir, e.Name()))
		}
	}
	w.log.Infow("watching for ticket files", "dir", w.dir)

	tick := time.NewTicker(w.debounce / 3)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isYAML(ev.Name) || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("ticket watcher error", "error", err)
		case now := <-tick.C:
			for _, path := range w.due(now) {
				w.file(path)
			}
		}
	}
}

// due removes and returns the pending paths that have been quiet long enough.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

func (w *Watcher) file(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warnw("read ticket file", "path", path, "error", err)
		}
		return
	}
	t, err := ParseYAML(data)
	if err != nil {
		w.log.Warnw("skipping ticket file", "path", path, "error", err)
		return
	}
	switch err := w.store.Create(t); {
	case errors.Is(err, ErrExists):
		w.log.Debugw("ticket already filed", "ticket", t.ID, "path", path)
	case err != nil:
		w.log.Errorw("file ticket", "ticket", t.ID, "error", err)
	default:
		w.mu.Lock()
		w.created++
		w.mu.Unlock()
		w.log.Infow("ticket filed", "ticket", t.ID, "title", t.Title, "path", filepath.Base(path))
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
