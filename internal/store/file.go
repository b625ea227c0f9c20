package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// errCorrupt marks a store document that exists but cannot be parsed.
var errCorrupt = errors.New("corrupt store document")

// FileStore persists all keys as a single JSON document.
// The document is re-read on every Get so that other processes
// (e.g. `hallpass status`) observe the daemon's writes.
//
// A document that cannot be parsed fails Get, so readers fall back to
// defaults. The next Set moves it aside to <path>.corrupt-<unixms> and
// starts from an empty document.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore creates a FileStore at path, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("cannot create store directory: %w", err)
	}
	return &FileStore{path: path, logger: slog.Default(), now: time.Now}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.read()
	if err != nil {
		return nil, err
	}
	return pick(all, keys), nil
}

func (f *FileStore) Set(ctx context.Context, values map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.read()
	if errors.Is(err, errCorrupt) {
		all, err = f.quarantine(err)
	}
	if err != nil {
		return err
	}
	for k, v := range values {
		all[k] = v
	}
	return f.writeAtomic(all)
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}
	all := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse store %s: %w: %w", f.path, errCorrupt, err)
	}
	return all, nil
}

// quarantine renames the unparseable document aside and returns an empty one.
func (f *FileStore) quarantine(cause error) (map[string]json.RawMessage, error) {
	aside := fmt.Sprintf("%s.corrupt-%d", f.path, f.now().UnixMilli())
	if err := os.Rename(f.path, aside); err != nil {
		return nil, fmt.Errorf("move corrupt store aside: %w", err)
	}
	f.logger.Warn("store document unreadable, moved aside", "path", f.path, "moved_to", aside, "error", cause)
	return make(map[string]json.RawMessage), nil
}

func (f *FileStore) writeAtomic(all map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}
