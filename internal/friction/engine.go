package friction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ppiankov/hallpass/internal/alert"
	"github.com/ppiankov/hallpass/internal/audit"
	"github.com/ppiankov/hallpass/internal/match"
	"github.com/ppiankov/hallpass/internal/store"
)

// DefaultFallbackURL is where a grant lands when the session has no target.
const DefaultFallbackURL = "https://google.com"

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 30 * time.Minute

// Config tunes the engine. Zero values pick the defaults.
type Config struct {
	RequiredPhrase string
	DepletionTicks int
	TickInterval   time.Duration
	FallbackURL    string
	SessionTTL     time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
	Audit          *audit.Log
	Alerts         *alert.Dispatcher
}

// Grant is the outcome of a confirmed session.
type Grant struct {
	Pass        store.Pass `json:"pass"`
	Destination string     `json:"destination"`
}

// Engine owns the live sessions and performs grants against the store.
type Engine struct {
	grants *store.Grants
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewEngine creates an Engine over grants.
func NewEngine(grants *store.Grants, cfg Config) *Engine {
	if cfg.RequiredPhrase == "" {
		cfg.RequiredPhrase = DefaultPhrase
	}
	if cfg.DepletionTicks <= 0 {
		cfg.DepletionTicks = DefaultDepletionTicks
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = DefaultFallbackURL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		grants:   grants,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session for target, which may be empty. Mode, unlock
// duration and the visit count are read from the store once; read failures
// fall back to defaults.
func (e *Engine) Open(ctx context.Context, target string) (*Session, error) {
	settings, err := e.grants.Settings(ctx)
	if err != nil {
		e.cfg.Logger.Warn("settings unavailable, using defaults", "error", err)
	}
	counts, err := e.grants.VisitCounts(ctx)
	if err != nil {
		e.cfg.Logger.Warn("visit counts unavailable", "error", err)
	}
	key, count := match.LookupCount(target, counts)
	if key != "" {
		e.cfg.Logger.Debug("matched usage count", "key", key, "count", count)
	}

	s := NewSession(ulid.Make().String(), target, settings, count, e.cfg.RequiredPhrase, e.cfg.DepletionTicks)

	e.mu.Lock()
	e.sessions[s.ID()] = s
	e.mu.Unlock()

	e.cfg.Logger.Info("friction session opened", "session_id", s.ID(), "mode", settings.Mode, "target", target)
	return s, nil
}

// Get returns a live session.
func (e *Engine) Get(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Proceed leaves reflection and starts the countdown in depletion mode.
func (e *Engine) Proceed(id string) (View, error) {
	s, err := e.Get(id)
	if err != nil {
		return View{}, err
	}
	stage, err := s.Proceed()
	if err != nil {
		return s.View(), err
	}
	if stage == StageDepleting {
		startCountdown(s, e.cfg.TickInterval)
	}
	return s.View(), nil
}

// Input submits typed text to the challenge.
func (e *Engine) Input(id, text string) (View, error) {
	s, err := e.Get(id)
	if err != nil {
		return View{}, err
	}
	if _, err := s.SubmitInput(text); err != nil {
		return s.View(), err
	}
	return s.View(), nil
}

// VisibilityHidden reports that the intervention page lost visibility.
func (e *Engine) VisibilityHidden(id string) (View, error) {
	s, err := e.Get(id)
	if err != nil {
		return View{}, err
	}
	if s.VisibilityHidden() {
		e.cfg.Logger.Info("countdown reset on visibility loss", "session_id", id)
	}
	return s.View(), nil
}

// Confirm affirms the confirmation stage: the pass is replaced with one
// expiring unlockDurationMinutes from now, and the destination is the
// captured target, or the fallback URL when the target is empty or not
// an http(s) URL.
func (e *Engine) Confirm(ctx context.Context, id string) (Grant, error) {
	s, err := e.Get(id)
	if err != nil {
		return Grant{}, err
	}

	pass, dest, err := s.affirm(func(minutes int) (store.Pass, string, error) {
		now := e.cfg.Now()
		pass := store.NewPass(now, time.Duration(minutes)*time.Minute)
		if err := e.grants.SetPass(ctx, pass); err != nil {
			return store.Pass{}, "", fmt.Errorf("write pass: %w", err)
		}
		dest := s.Target()
		if !navigable(dest) {
			dest = e.cfg.FallbackURL
		}
		return pass, dest, nil
	})
	if err != nil {
		return Grant{}, err
	}

	expires := time.UnixMilli(pass.ExpiresAt).UTC().Format(time.RFC3339)
	e.cfg.Logger.Info("pass granted", "session_id", id, "expires_at", expires, "destination", dest)
	e.record(audit.AuditEntry{Event: audit.EventGrant, SessionID: id, URL: dest, Reason: "ritual completed", ExpiresAt: pass.ExpiresAt})
	e.cfg.Alerts.Dispatch(alert.AlertEvent{
		Timestamp: e.cfg.Now().UTC().Format(time.RFC3339),
		Type:      alert.EventPassGranted,
		URL:       dest,
		ExpiresAt: expires,
	})
	return Grant{Pass: pass, Destination: dest}, nil
}

// navigable reports whether target is an absolute http(s) URL the page may
// navigate to after a grant.
func navigable(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Decline ends the session from confirmation without a pass.
func (e *Engine) Decline(id string) (View, error) {
	s, err := e.Get(id)
	if err != nil {
		return View{}, err
	}
	if err := s.Decline(); err != nil {
		return s.View(), err
	}
	e.record(audit.AuditEntry{Event: audit.EventDecline, SessionID: id, URL: s.Target(), Reason: "declined at confirmation"})
	return s.View(), nil
}

// Abort ends the session without a pass.
func (e *Engine) Abort(id string) (View, error) {
	s, err := e.Get(id)
	if err != nil {
		return View{}, err
	}
	if err := s.Abort(); err != nil {
		return s.View(), err
	}
	e.record(audit.AuditEntry{Event: audit.EventAbort, SessionID: id, URL: s.Target(), Reason: "aborted"})
	return s.View(), nil
}

// Close discards a session, stopping its countdown. Used when the tab goes away.
func (e *Engine) Close(id string) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len returns the number of tracked sessions.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Reap discards sessions untouched for longer than the TTL and returns how many.
func (e *Engine) Reap(now time.Time) int {
	e.mu.Lock()
	var stale []*Session
	for id, s := range e.sessions {
		if now.Sub(s.idleSince()) > e.cfg.SessionTTL {
			stale = append(stale, s)
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// Run reaps idle sessions periodically until ctx is cancelled, then closes
// every remaining session.
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.SessionTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.closeAll()
			return
		case <-ticker.C:
			if n := e.Reap(time.Now()); n > 0 {
				e.cfg.Logger.Debug("reaped idle sessions", "count", n)
			}
		}
	}
}

func (e *Engine) closeAll() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*Session)
	e.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (e *Engine) record(entry audit.AuditEntry) {
	if err := e.cfg.Audit.Record(entry); err != nil {
		e.cfg.Logger.Warn("audit write failed", "error", err)
	}
}

// IsTransitionError reports whether err is a rejected state-machine event.
func IsTransitionError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
