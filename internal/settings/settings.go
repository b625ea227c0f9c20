// Package settings syncs a YAML settings file into the store. It stands in
// for the options page: only the keys present in the file are written, and
// the block list is cleaned the same way the page cleans user input.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/hallpass/internal/store"
)

// File is the on-disk settings document. Absent fields leave the stored
// value alone.
type File struct {
	BlockedSites          *[]string `yaml:"blocked_sites"`
	FrictionMode          *string   `yaml:"friction_mode"`
	UnlockDurationMinutes *int      `yaml:"unlock_duration_minutes"`
}

// Load parses the settings file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return &f, nil
}

// NormalizeSites trims and lowercases each entry, drops blanks and keeps the
// first occurrence of duplicates.
func NormalizeSites(sites []string) []string {
	out := make([]string, 0, len(sites))
	seen := make(map[string]bool, len(sites))
	for _, s := range sites {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Values returns the store entries the file sets.
func (f *File) Values() (map[string]json.RawMessage, error) {
	values := make(map[string]json.RawMessage)
	if f.BlockedSites != nil {
		raw, err := json.Marshal(NormalizeSites(*f.BlockedSites))
		if err != nil {
			return nil, err
		}
		values[store.KeyBlockedSites] = raw
	}
	if f.FrictionMode != nil {
		mode := strings.ToLower(strings.TrimSpace(*f.FrictionMode))
		if mode != string(store.ModeNormal) && mode != string(store.ModeDepletion) {
			return nil, fmt.Errorf("friction_mode must be %q or %q, got %q", store.ModeNormal, store.ModeDepletion, *f.FrictionMode)
		}
		raw, _ := json.Marshal(mode)
		values[store.KeyFrictionMode] = raw
	}
	if f.UnlockDurationMinutes != nil {
		if *f.UnlockDurationMinutes <= 0 {
			return nil, fmt.Errorf("unlock_duration_minutes must be positive, got %d", *f.UnlockDurationMinutes)
		}
		values[store.KeyUnlockDuration] = json.RawMessage(fmt.Sprintf("%d", *f.UnlockDurationMinutes))
	}
	return values, nil
}

// Apply writes the file's settings into s as one partial update.
func (f *File) Apply(ctx context.Context, s store.Store) error {
	values, err := f.Values()
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.Set(ctx, values); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return nil
}

// Sync loads path and applies it to s.
func Sync(ctx context.Context, path string, s store.Store) error {
	f, err := Load(path)
	if err != nil {
		return err
	}
	return f.Apply(ctx, s)
}

// DefaultYAML returns a commented settings file holding the built-in defaults.
func DefaultYAML() string {
	return `# hallpass friction settings. Only the keys present here are written.

blocked_sites:
  - instagram.com
  - youtube.com
  - twitter.com

# normal: type the commitment phrase. depletion: sit through a countdown.
friction_mode: normal

unlock_duration_minutes: 10
`
}
