package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Mode selects the friction ritual.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeDepletion Mode = "depletion"
)

// ParseMode maps a stored value to a Mode. Anything other than
// "depletion" is treated as normal.
func ParseMode(s string) Mode {
	if s == string(ModeDepletion) {
		return ModeDepletion
	}
	return ModeNormal
}

// DefaultBlockedSites is used when no block list has ever been stored.
var DefaultBlockedSites = []string{"instagram.com", "youtube.com", "twitter.com"}

// DefaultUnlockMinutes is the pass length when none is configured.
const DefaultUnlockMinutes = 10

// Settings is the user-editable configuration read by the gate and the friction engine.
type Settings struct {
	BlockedSites          []string `json:"blocked_sites" yaml:"blocked_sites"`
	Mode                  Mode     `json:"friction_mode" yaml:"friction_mode"`
	UnlockDurationMinutes int      `json:"unlock_duration_minutes" yaml:"unlock_duration_minutes"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		BlockedSites:          append([]string(nil), DefaultBlockedSites...),
		Mode:                  ModeNormal,
		UnlockDurationMinutes: DefaultUnlockMinutes,
	}
}

// UnlockDuration returns the pass length as a time.Duration.
func (s Settings) UnlockDuration() time.Duration {
	return time.Duration(s.UnlockDurationMinutes) * time.Minute
}

// Pass is the single global access grant. Zero means no pass.
type Pass struct {
	ExpiresAt int64 `json:"expires_at"` // epoch milliseconds
}

// Active reports whether now is strictly before the expiry.
func (p Pass) Active(now time.Time) bool {
	return now.UnixMilli() < p.ExpiresAt
}

// Remaining returns the time left on the pass, or 0.
func (p Pass) Remaining(now time.Time) time.Duration {
	if !p.Active(now) {
		return 0
	}
	return time.Duration(p.ExpiresAt-now.UnixMilli()) * time.Millisecond
}

// NewPass returns a pass expiring d after now.
func NewPass(now time.Time, d time.Duration) Pass {
	return Pass{ExpiresAt: now.UnixMilli() + d.Milliseconds()}
}

// Snapshot is everything the store knows, for status output.
type Snapshot struct {
	Settings    Settings    `json:"settings"`
	Pass        Pass        `json:"pass"`
	VisitCounts VisitCounts `json:"visit_counts"`
}

// Grants is the typed view over a Store used by the gate and the friction engine.
// Every read falls back to a default; a store error is returned alongside the
// defaulted value so callers can log it and carry on.
type Grants struct {
	store Store
	mu    sync.Mutex // serializes visit-count read-modify-write within this process
}

// NewGrants wraps s.
func NewGrants(s Store) *Grants {
	return &Grants{store: s}
}

// Store returns the underlying store.
func (g *Grants) Store() Store {
	return g.store
}

// Settings loads the block list, friction mode and unlock duration.
func (g *Grants) Settings(ctx context.Context) (Settings, error) {
	s := DefaultSettings()
	vals, err := g.store.Get(ctx, KeyBlockedSites, KeyFrictionMode, KeyUnlockDuration)
	if err != nil {
		return s, fmt.Errorf("load settings: %w", err)
	}
	var errs []error

	if raw, ok := vals[KeyBlockedSites]; ok && !isNull(raw) {
		var sites []string
		if err := json.Unmarshal(raw, &sites); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyBlockedSites, err))
		} else if sites != nil {
			s.BlockedSites = sites
		}
	}
	if raw, ok := vals[KeyFrictionMode]; ok && !isNull(raw) {
		var mode string
		if err := json.Unmarshal(raw, &mode); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyFrictionMode, err))
		} else {
			s.Mode = ParseMode(mode)
		}
	}
	if raw, ok := vals[KeyUnlockDuration]; ok && !isNull(raw) {
		var minutes float64
		if err := json.Unmarshal(raw, &minutes); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyUnlockDuration, err))
		} else if int(minutes) > 0 {
			s.UnlockDurationMinutes = int(minutes)
		}
	}
	return s, errors.Join(errs...)
}

// ApplySettings writes all three settings keys.
func (g *Grants) ApplySettings(ctx context.Context, s Settings) error {
	if s.BlockedSites == nil {
		s.BlockedSites = []string{}
	}
	sites, err := json.Marshal(s.BlockedSites)
	if err != nil {
		return err
	}
	mode, _ := json.Marshal(string(ParseMode(string(s.Mode))))
	minutes := s.UnlockDurationMinutes
	if minutes <= 0 {
		minutes = DefaultUnlockMinutes
	}
	return g.store.Set(ctx, map[string]json.RawMessage{
		KeyBlockedSites:   sites,
		KeyFrictionMode:   mode,
		KeyUnlockDuration: json.RawMessage(fmt.Sprintf("%d", minutes)),
	})
}

// Pass loads the current pass. Missing means no pass.
func (g *Grants) Pass(ctx context.Context) (Pass, error) {
	vals, err := g.store.Get(ctx, KeyUnlockExpireTime)
	if err != nil {
		return Pass{}, fmt.Errorf("load pass: %w", err)
	}
	raw, ok := vals[KeyUnlockExpireTime]
	if !ok || isNull(raw) {
		return Pass{}, nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return Pass{}, fmt.Errorf("%s: %w", KeyUnlockExpireTime, err)
	}
	return Pass{ExpiresAt: int64(ms)}, nil
}

// SetPass replaces the pass.
func (g *Grants) SetPass(ctx context.Context, p Pass) error {
	return g.store.Set(ctx, map[string]json.RawMessage{
		KeyUnlockExpireTime: json.RawMessage(fmt.Sprintf("%d", p.ExpiresAt)),
	})
}

// VisitCounts loads the visit-count mapping in storage order.
func (g *Grants) VisitCounts(ctx context.Context) (VisitCounts, error) {
	vals, err := g.store.Get(ctx, KeyVisitCounts)
	if err != nil {
		return nil, fmt.Errorf("load visit counts: %w", err)
	}
	raw, ok := vals[KeyVisitCounts]
	if !ok {
		return VisitCounts{}, nil
	}
	var vc VisitCounts
	if err := json.Unmarshal(raw, &vc); err != nil {
		return VisitCounts{}, fmt.Errorf("%s: %w", KeyVisitCounts, err)
	}
	return vc, nil
}

// IncrementVisit reads the full mapping, adds one to key and writes it back.
// Concurrent writers in other processes can still lose updates.
func (g *Grants) IncrementVisit(ctx context.Context, key string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	vc, err := g.VisitCounts(ctx)
	if err != nil {
		return 0, err
	}
	n := vc.Increment(key)
	raw, err := json.Marshal(vc)
	if err != nil {
		return 0, err
	}
	if err := g.store.Set(ctx, map[string]json.RawMessage{KeyVisitCounts: raw}); err != nil {
		return 0, fmt.Errorf("save visit counts: %w", err)
	}
	return n, nil
}

// Snapshot loads settings, pass and visit counts together.
func (g *Grants) Snapshot(ctx context.Context) (Snapshot, error) {
	settings, sErr := g.Settings(ctx)
	pass, pErr := g.Pass(ctx)
	vc, vErr := g.VisitCounts(ctx)
	return Snapshot{Settings: settings, Pass: pass, VisitCounts: vc}, errors.Join(sErr, pErr, vErr)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
