package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/hallpass/internal/store"
)

// DefaultDebounce is how long the watcher waits after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-applies a settings file whenever it changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	store    store.Store
	logger   *slog.Logger
	debounce time.Duration

	// Applied, when set, is called after each sync attempt.
	Applied func(error)
}

// NewWatcher watches the directory holding path, so editors that replace
// the file on save are still seen.
func NewWatcher(path string, s store.Store, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		watcher:  w,
		path:     abs,
		store:    s,
		logger:   logger,
		debounce: DefaultDebounce,
	}, nil
}

// Run syncs once, then on every change until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.sync(ctx)

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, func() { w.sync(ctx) })
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("settings watcher error", "error", err)
		}
	}
}

// sync is skipped once ctx is done; a debounce timer may still fire after
// Run has returned.
func (w *Watcher) sync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := Sync(ctx, w.path, w.store)
	if err != nil {
		w.logger.Warn("settings sync failed", "path", w.path, "error", err)
	} else {
		w.logger.Info("settings applied", "path", w.path)
	}
	if w.Applied != nil {
		w.Applied(err)
	}
}
