package settings

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ppiankov/hallpass/internal/logging"
	"github.com/ppiankov/hallpass/internal/store"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNormalizeSites(t *testing.T) {
	got := NormalizeSites([]string{" YouTube.com ", "reddit.com", "", "youtube.com", "  "})
	want := []string{"youtube.com", "reddit.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeSites = %v, want %v", got, want)
	}
}

func TestSyncWritesPresentKeysOnly(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	grants := store.NewGrants(s)
	if err := grants.ApplySettings(ctx, store.Settings{BlockedSites: []string{"a.com"}, Mode: store.ModeDepletion, UnlockDurationMinutes: 25}); err != nil {
		t.Fatal(err)
	}

	path := writeTempFile(t, "settings.yaml", `
blocked_sites:
  - Reddit.com
  - news.ycombinator.com
friction_mode: normal
`)
	if err := Sync(ctx, path, s); err != nil {
		t.Fatal(err)
	}

	got, err := grants.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.BlockedSites, []string{"reddit.com", "news.ycombinator.com"}) {
		t.Errorf("sites = %v", got.BlockedSites)
	}
	if got.Mode != store.ModeNormal {
		t.Errorf("mode = %s", got.Mode)
	}
	if got.UnlockDurationMinutes != 25 {
		t.Errorf("duration = %d, want 25 (untouched)", got.UnlockDurationMinutes)
	}
}

func TestSyncEmptyListIsKept(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	path := writeTempFile(t, "settings.yaml", "blocked_sites: []\n")
	if err := Sync(ctx, path, s); err != nil {
		t.Fatal(err)
	}
	got, _ := store.NewGrants(s).Settings(ctx)
	if len(got.BlockedSites) != 0 {
		t.Errorf("expected empty block list, got %v", got.BlockedSites)
	}
}

func TestSyncRejectsInvalidValues(t *testing.T) {
	ctx := context.Background()
	for _, content := range []string{
		"friction_mode: brutal\n",
		"unlock_duration_minutes: 0\n",
		"blocked_sites: {a: b}\n",
	} {
		s := store.NewMemoryStore()
		path := writeTempFile(t, "settings.yaml", content)
		if err := Sync(ctx, path, s); err == nil {
			t.Errorf("expected error for %q", content)
		}
		vals, _ := s.Get(ctx, store.KeyBlockedSites, store.KeyFrictionMode, store.KeyUnlockDuration)
		if len(vals) != 0 {
			t.Errorf("invalid file %q wrote %v", content, vals)
		}
	}
}

func TestSyncMissingFile(t *testing.T) {
	if err := Sync(context.Background(), filepath.Join(t.TempDir(), "none.yaml"), store.NewMemoryStore()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatcherAppliesChanges(t *testing.T) {
	path := writeTempFile(t, "settings.yaml", "friction_mode: normal\n")
	s := store.NewMemoryStore()
	grants := store.NewGrants(s)

	w, err := NewWatcher(path, s, logging.Discard())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 20 * time.Millisecond
	applied := make(chan error, 8)
	w.Applied = func(err error) { applied <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-applied:
		if err != nil {
			t.Fatalf("initial sync: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initial sync did not run")
	}

	if err := os.WriteFile(path, []byte("friction_mode: depletion\n"), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-applied:
			got, _ := grants.Settings(context.Background())
			if got.Mode == store.ModeDepletion {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("Run returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("watcher did not apply the change")
		}
	}
}

func TestWatcherSkipsSyncAfterCancel(t *testing.T) {
	path := writeTempFile(t, "settings.yaml", "friction_mode: depletion\n")
	s := store.NewMemoryStore()
	grants := store.NewGrants(s)

	w, err := NewWatcher(path, s, logging.Discard())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.watcher.Close()
	called := false
	w.Applied = func(error) { called = true }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.sync(ctx)

	if called {
		t.Error("Applied ran after cancel")
	}
	got, _ := grants.Settings(context.Background())
	if got.Mode == store.ModeDepletion {
		t.Error("settings were written after cancel")
	}
}

func TestDefaultYAMLMatchesBuiltins(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	path := writeTempFile(t, "settings.yaml", DefaultYAML())
	if err := Sync(ctx, path, s); err != nil {
		t.Fatal(err)
	}
	got, err := store.NewGrants(s).Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, store.DefaultSettings()) {
		t.Errorf("settings = %+v, want %+v", got, store.DefaultSettings())
	}
}
