// Package store holds the persistent key/value contract that backs hall passes,
// friction settings and visit counts, plus the concrete backends.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Logical keys persisted in a Store.
const (
	KeyBlockedSites     = "blockedSites"
	KeyFrictionMode     = "frictionMode"
	KeyUnlockDuration   = "unlockDurationMinutes"
	KeyUnlockExpireTime = "unlockExpireTime"
	KeyVisitCounts      = "visitCounts"
)

// Store is an asynchronous key/value store.
// Get returns only the keys that exist; a missing key is not an error.
// Set is a partial update: keys not named in values are left untouched.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, values map[string]json.RawMessage) error
	Close() error
}

// Config selects and parameterizes a Store backend.
type Config struct {
	Backend string `yaml:"backend"` // "memory", "file", "sqlite"
	Path    string `yaml:"path"`
}

// DefaultDir returns the default hallpass state directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hallpass")
	}
	return filepath.Join(home, ".hallpass")
}

// Open creates the backend named by cfg.Backend. Empty backend means "file".
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return NewMemoryStore(), nil
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(DefaultDir(), "state.json")
		}
		return NewFileStore(path)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(DefaultDir(), "hallpass.db")
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func pick(all map[string]json.RawMessage, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}
