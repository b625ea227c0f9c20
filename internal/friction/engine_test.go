package friction

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/hallpass/internal/audit"
	"github.com/ppiankov/hallpass/internal/logging"
	"github.com/ppiankov/hallpass/internal/store"
)

type failingStore struct {
	store.Store
}

func (failingStore) Set(ctx context.Context, values map[string]json.RawMessage) error {
	return errors.New("quota exceeded")
}

func newEngine(t *testing.T, settings store.Settings, cfg Config) (*Engine, *store.Grants, time.Time) {
	t.Helper()
	grants := store.NewGrants(store.NewMemoryStore())
	if err := grants.ApplySettings(context.Background(), settings); err != nil {
		t.Fatal(err)
	}
	now := time.UnixMilli(1_700_000_000_000)
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return now }
	}
	cfg.Logger = logging.Discard()
	return NewEngine(grants, cfg), grants, now
}

func completeRitual(t *testing.T, e *Engine, id string) {
	t.Helper()
	if _, err := e.Proceed(id); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Input(id, DefaultPhrase); err != nil {
		t.Fatal(err)
	}
}

func TestConfirmWritesPassAndReturnsTarget(t *testing.T) {
	e, grants, now := newEngine(t, store.Settings{Mode: store.ModeNormal, UnlockDurationMinutes: 10}, Config{})
	ctx := context.Background()

	s, err := e.Open(ctx, "https://youtube.com/watch?v=1")
	if err != nil {
		t.Fatal(err)
	}
	completeRitual(t, e, s.ID())

	g, err := e.Confirm(ctx, s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if want := now.UnixMilli() + 600_000; g.Pass.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d", g.Pass.ExpiresAt, want)
	}
	if g.Destination != "https://youtube.com/watch?v=1" {
		t.Errorf("destination = %q", g.Destination)
	}

	stored, err := grants.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ExpiresAt != g.Pass.ExpiresAt {
		t.Errorf("stored pass = %d, want %d", stored.ExpiresAt, g.Pass.ExpiresAt)
	}
	if v := s.View(); v.Stage != StageGranted || v.Destination != g.Destination {
		t.Errorf("view after grant = %+v", v)
	}
}

func TestConfirmFallsBackWithoutTarget(t *testing.T) {
	e, _, _ := newEngine(t, store.Settings{UnlockDurationMinutes: 5}, Config{})
	ctx := context.Background()

	s, _ := e.Open(ctx, "")
	completeRitual(t, e, s.ID())
	g, err := e.Confirm(ctx, s.ID())
	if err != nil {
		t.Fatal(err)
	}
	if g.Destination != DefaultFallbackURL {
		t.Errorf("destination = %q, want %q", g.Destination, DefaultFallbackURL)
	}
}

func TestConfirmRejectsNonHTTPTarget(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"javascript:alert(1)", DefaultFallbackURL},
		{"data:text/html,<script>alert(1)</script>", DefaultFallbackURL},
		{"file:///etc/passwd", DefaultFallbackURL},
		{"youtube.com/watch", DefaultFallbackURL},
		{"http://reddit.com/r/golang", "http://reddit.com/r/golang"},
		{"HTTPS://YouTube.com/", "HTTPS://YouTube.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			e, _, _ := newEngine(t, store.Settings{UnlockDurationMinutes: 5}, Config{})
			ctx := context.Background()

			s, _ := e.Open(ctx, tt.target)
			completeRitual(t, e, s.ID())
			g, err := e.Confirm(ctx, s.ID())
			if err != nil {
				t.Fatal(err)
			}
			if g.Destination != tt.want {
				t.Errorf("destination = %q, want %q", g.Destination, tt.want)
			}
		})
	}
}

func TestConfirmRecoversFromCorruptStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"unlockExpireTime": 12`), 0600); err != nil {
		t.Fatal(err)
	}
	fs, err := store.NewFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	grants := store.NewGrants(fs)
	now := time.UnixMilli(1_700_000_000_000)
	e := NewEngine(grants, Config{Logger: logging.Discard(), Now: func() time.Time { return now }})
	ctx := context.Background()

	s, err := e.Open(ctx, "https://youtube.com/")
	if err != nil {
		t.Fatal(err)
	}
	completeRitual(t, e, s.ID())
	g, err := e.Confirm(ctx, s.ID())
	if err != nil {
		t.Fatalf("confirm over corrupt state: %v", err)
	}
	if s.Stage() != StageGranted {
		t.Errorf("stage = %s, want granted", s.Stage())
	}
	p, err := grants.Pass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p.ExpiresAt != g.Pass.ExpiresAt || p.ExpiresAt != now.Add(store.DefaultUnlockMinutes*time.Minute).UnixMilli() {
		t.Errorf("stored pass = %d, granted %d", p.ExpiresAt, g.Pass.ExpiresAt)
	}
}

func TestConfirmReplacesExistingPass(t *testing.T) {
	e, grants, now := newEngine(t, store.Settings{UnlockDurationMinutes: 3}, Config{})
	ctx := context.Background()
	grants.SetPass(ctx, store.Pass{ExpiresAt: now.Add(time.Hour).UnixMilli()})

	s, _ := e.Open(ctx, "https://youtube.com/")
	completeRitual(t, e, s.ID())
	if _, err := e.Confirm(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	p, _ := grants.Pass(ctx)
	if want := now.Add(3 * time.Minute).UnixMilli(); p.ExpiresAt != want {
		t.Errorf("ExpiresAt = %d, want %d (replaced, not extended)", p.ExpiresAt, want)
	}
}

func TestDeclineAndAbortWriteNoPass(t *testing.T) {
	e, grants, _ := newEngine(t, store.Settings{UnlockDurationMinutes: 10}, Config{})
	ctx := context.Background()

	s1, _ := e.Open(ctx, "https://youtube.com/")
	completeRitual(t, e, s1.ID())
	if _, err := e.Decline(s1.ID()); err != nil {
		t.Fatal(err)
	}

	s2, _ := e.Open(ctx, "https://youtube.com/")
	if _, err := e.Abort(s2.ID()); err != nil {
		t.Fatal(err)
	}

	p, _ := grants.Pass(ctx)
	if p.ExpiresAt != 0 {
		t.Errorf("expected no pass, got %d", p.ExpiresAt)
	}
	if _, err := e.Confirm(ctx, s1.ID()); !IsTransitionError(err) {
		t.Errorf("confirm after decline: %v", err)
	}
}

func TestConfirmRequiresConfirmationStage(t *testing.T) {
	e, grants, _ := newEngine(t, store.Settings{UnlockDurationMinutes: 10}, Config{})
	ctx := context.Background()

	s, _ := e.Open(ctx, "https://youtube.com/")
	e.Proceed(s.ID())
	if _, err := e.Confirm(ctx, s.ID()); !IsTransitionError(err) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if p, _ := grants.Pass(ctx); p.ExpiresAt != 0 {
		t.Error("no pass may be written before confirmation")
	}
}

func TestFailedPassWriteKeepsConfirmation(t *testing.T) {
	grants := store.NewGrants(failingStore{Store: store.NewMemoryStore()})
	e := NewEngine(grants, Config{Logger: logging.Discard()})
	ctx := context.Background()

	s, _ := e.Open(ctx, "https://youtube.com/")
	completeRitual(t, e, s.ID())
	if _, err := e.Confirm(ctx, s.ID()); err == nil {
		t.Fatal("expected write error")
	}
	if s.Stage() != StageConfirming {
		t.Errorf("stage = %s, want confirming after failed write", s.Stage())
	}
}

func TestOpenCapturesSettingsAndVisitCount(t *testing.T) {
	e, grants, _ := newEngine(t, store.Settings{Mode: store.ModeDepletion, UnlockDurationMinutes: 7}, Config{})
	ctx := context.Background()
	grants.IncrementVisit(ctx, "www.youtube.com")
	grants.IncrementVisit(ctx, "www.youtube.com")

	s, _ := e.Open(ctx, "https://www.youtube.com/feed")
	v := s.View()
	if v.Mode != store.ModeDepletion || v.UnlockDurationMinutes != 7 {
		t.Errorf("view = %+v", v)
	}
	if v.VisitCount != 2 {
		t.Errorf("visit count = %d, want 2", v.VisitCount)
	}

	// later settings changes do not affect the open session
	grants.ApplySettings(ctx, store.Settings{Mode: store.ModeNormal, UnlockDurationMinutes: 1})
	if s.View().Mode != store.ModeDepletion {
		t.Error("mode changed mid-session")
	}
}

func TestCountdownRunsToChallenge(t *testing.T) {
	e, _, _ := newEngine(t, store.Settings{Mode: store.ModeDepletion, UnlockDurationMinutes: 10}, Config{
		DepletionTicks: 3,
		TickInterval:   5 * time.Millisecond,
	})
	s, _ := e.Open(context.Background(), "https://youtube.com/")
	ch, cancel := s.Subscribe()
	defer cancel()

	if _, err := e.Proceed(s.ID()); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case v := <-ch:
			if v.Stage == StageChallenge {
				return
			}
		case <-timeout:
			t.Fatalf("countdown did not finish, stage = %s", s.Stage())
		}
	}
}

func TestAbortStopsCountdown(t *testing.T) {
	e, _, _ := newEngine(t, store.Settings{Mode: store.ModeDepletion, UnlockDurationMinutes: 10}, Config{
		DepletionTicks: 1000,
		TickInterval:   time.Millisecond,
	})
	s, _ := e.Open(context.Background(), "")
	e.Proceed(s.ID())
	if _, err := e.Abort(s.ID()); err != nil {
		t.Fatal(err)
	}
	remaining := s.View().Remaining
	time.Sleep(20 * time.Millisecond)
	if s.View().Remaining != remaining {
		t.Error("countdown kept ticking after abort")
	}
}

func TestUnknownSession(t *testing.T) {
	e, _, _ := newEngine(t, store.Settings{}, Config{})
	if _, err := e.Proceed("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := e.Confirm(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestReapDropsIdleSessions(t *testing.T) {
	e, _, _ := newEngine(t, store.Settings{}, Config{SessionTTL: time.Minute})
	ctx := context.Background()
	e.Open(ctx, "a")
	e.Open(ctx, "b")

	if n := e.Reap(time.Now()); n != 0 {
		t.Errorf("reaped %d fresh sessions", n)
	}
	if n := e.Reap(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("reaped %d, want 2", n)
	}
	if e.Len() != 0 {
		t.Errorf("len = %d after reap", e.Len())
	}
}

func TestCloseRemovesSession(t *testing.T) {
	e, _, _ := newEngine(t, store.Settings{}, Config{})
	s, _ := e.Open(context.Background(), "")
	e.Close(s.ID())
	if _, err := e.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected session to be gone, got %v", err)
	}
}

func TestGrantIsAudited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	e, _, _ := newEngine(t, store.Settings{UnlockDurationMinutes: 10}, Config{Audit: log})
	ctx := context.Background()

	s, _ := e.Open(ctx, "https://youtube.com/")
	completeRitual(t, e, s.ID())
	e.Confirm(ctx, s.ID())
	log.Close()

	entries, err := audit.Tail(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Event != audit.EventGrant || entries[0].SessionID != s.ID() {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
