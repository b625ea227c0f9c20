// Package gatekeeper decides, on every completed navigation, whether to let
// the tab through or send it to the intervention page.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/hallpass/internal/alert"
	"github.com/ppiankov/hallpass/internal/audit"
	"github.com/ppiankov/hallpass/internal/match"
	"github.com/ppiankov/hallpass/internal/store"
)

// StatusComplete is the only navigation status the gate acts on.
const StatusComplete = "complete"

// trackTimeout bounds a single visit-count write.
const trackTimeout = 5 * time.Second

// NavigationEvent is delivered by the host for each tab update.
type NavigationEvent struct {
	TabID  int    `json:"tab_id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Action is what the gate decided to do with a navigation.
type Action string

const (
	Ignore   Action = "ignore"   // not a completed, URL-bearing navigation
	Allow    Action = "allow"    // let the tab through
	Redirect Action = "redirect" // send the tab to the intervention page
)

// Decision is the result of one gate evaluation.
type Decision struct {
	Action      Action `json:"action"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Rule        string `json:"rule,omitempty"`
	Reason      string `json:"reason"`
}

// Navigator redirects a browser tab. Implemented by the host bridge.
type Navigator interface {
	RedirectTab(ctx context.Context, tabID int, url string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, tabID int, url string) error

func (f NavigatorFunc) RedirectTab(ctx context.Context, tabID int, url string) error {
	return f(ctx, tabID, url)
}

// Config wires the gate's collaborators. Only InterventionURL is required.
type Config struct {
	InterventionURL string
	Navigator       Navigator
	Now             func() time.Time
	Logger          *slog.Logger
	Audit           *audit.Log
	Alerts          *alert.Dispatcher
}

// Gatekeeper evaluates navigations against the stored block list and pass.
type Gatekeeper struct {
	grants          *store.Grants
	interventionURL string
	nav             Navigator
	now             func() time.Time
	logger          *slog.Logger
	audit           *audit.Log
	alerts          *alert.Dispatcher

	wg sync.WaitGroup // in-flight visit tracking
}

// New creates a Gatekeeper over grants.
func New(grants *store.Grants, cfg Config) (*Gatekeeper, error) {
	if grants == nil {
		return nil, errors.New("gatekeeper: grants store is required")
	}
	if cfg.InterventionURL == "" {
		return nil, errors.New("gatekeeper: intervention URL is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gatekeeper{
		grants:          grants,
		interventionURL: cfg.InterventionURL,
		nav:             cfg.Navigator,
		now:             cfg.Now,
		logger:          cfg.Logger,
		audit:           cfg.Audit,
		alerts:          cfg.Alerts,
	}, nil
}

// InterventionURL returns the configured intervention page URL.
func (g *Gatekeeper) InterventionURL() string {
	return g.interventionURL
}

// OnNavigationComplete evaluates one navigation event.
//
// When the navigation is blocked and no pass is active, a visit-count
// increment for the URL's hostname is scheduled in the background and the
// tab is redirected to the intervention page (unless it is already there).
// Tracking failures are logged and never affect the decision. The returned
// error is non-nil only when the Navigator fails to redirect.
func (g *Gatekeeper) OnNavigationComplete(ctx context.Context, ev NavigationEvent) (Decision, error) {
	if ev.Status != StatusComplete || ev.URL == "" {
		return Decision{Action: Ignore, Reason: "not a completed navigation"}, nil
	}

	settings, pass := g.load(ctx)
	v := Decide(ev.URL, settings.BlockedSites, pass, g.now())

	if !v.Intervene() {
		reason := allowReason(v, pass)
		if v.PassActive {
			g.logger.Debug("access allowed", "url", ev.URL, "expires_at", pass.ExpiresAt)
			g.record(audit.AuditEntry{Event: audit.EventAllow, TabID: ev.TabID, URL: ev.URL, Reason: reason})
		}
		return Decision{Action: Allow, Rule: v.Rule, Reason: reason}, nil
	}

	g.trackVisit(ctx, ev.URL)

	if match.Matches(ev.URL, g.interventionURL) {
		return Decision{Action: Allow, Rule: v.Rule, Reason: "already on intervention page"}, nil
	}

	target := InterventionLink(g.interventionURL, ev.URL)
	d := Decision{Action: Redirect, RedirectURL: target, Rule: v.Rule, Reason: "blocked by " + v.Rule}

	if g.nav != nil {
		if err := g.nav.RedirectTab(ctx, ev.TabID, target); err != nil {
			return d, fmt.Errorf("redirect tab %d: %w", ev.TabID, err)
		}
	}

	g.logger.Info("navigation redirected", "tab_id", ev.TabID, "url", ev.URL, "rule", v.Rule)
	g.record(audit.AuditEntry{Event: audit.EventRedirect, TabID: ev.TabID, URL: ev.URL, Reason: d.Reason})
	g.alerts.Dispatch(alert.AlertEvent{
		Timestamp: g.now().UTC().Format(time.RFC3339),
		Type:      alert.EventRedirect,
		URL:       ev.URL,
		Rule:      v.Rule,
		Reason:    d.Reason,
	})
	return d, nil
}

// Check evaluates rawURL like OnNavigationComplete but without tracking,
// redirecting, auditing or alerting.
func (g *Gatekeeper) Check(ctx context.Context, rawURL string) Decision {
	settings, pass := g.load(ctx)
	v := Decide(rawURL, settings.BlockedSites, pass, g.now())
	switch {
	case !v.Intervene():
		return Decision{Action: Allow, Rule: v.Rule, Reason: allowReason(v, pass)}
	case match.Matches(rawURL, g.interventionURL):
		return Decision{Action: Allow, Rule: v.Rule, Reason: "already on intervention page"}
	default:
		return Decision{Action: Redirect, RedirectURL: InterventionLink(g.interventionURL, rawURL), Rule: v.Rule, Reason: "blocked by " + v.Rule}
	}
}

// Wait blocks until scheduled visit tracking has finished.
func (g *Gatekeeper) Wait() {
	g.wg.Wait()
}

// load reads settings and pass, degrading to defaults on any store error.
func (g *Gatekeeper) load(ctx context.Context) (store.Settings, store.Pass) {
	settings, err := g.grants.Settings(ctx)
	if err != nil {
		g.logger.Warn("settings unavailable, using defaults", "error", err)
	}
	pass, err := g.grants.Pass(ctx)
	if err != nil {
		g.logger.Warn("pass unavailable, treating as none", "error", err)
	}
	return settings, pass
}

// trackVisit increments the visit count for rawURL's hostname in the
// background. It survives cancellation of ctx.
func (g *Gatekeeper) trackVisit(ctx context.Context, rawURL string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		host, err := Hostname(rawURL)
		if err != nil {
			g.logger.Warn("visit tracking skipped", "url", rawURL, "error", err)
			return
		}

		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackTimeout)
		defer cancel()

		n, err := g.grants.IncrementVisit(tctx, host)
		if err != nil {
			g.logger.Error("visit tracking failed", "host", host, "error", err)
			return
		}
		g.logger.Debug("visit counted", "host", host, "count", n)
	}()
}

func (g *Gatekeeper) record(e audit.AuditEntry) {
	if err := g.audit.Record(e); err != nil {
		g.logger.Warn("audit write failed", "error", err)
	}
}

// Verdict is the pure outcome of the gating predicate.
type Verdict struct {
	Blocked    bool
	Rule       string
	PassActive bool
}

// Intervene reports whether friction is required.
func (v Verdict) Intervene() bool {
	return v.Blocked && !v.PassActive
}

func allowReason(v Verdict, pass store.Pass) string {
	if !v.Blocked {
		return "not on block list"
	}
	return "pass valid until " + time.UnixMilli(pass.ExpiresAt).UTC().Format(time.RFC3339)
}

// Decide applies the block list and pass to rawURL at now.
func Decide(rawURL string, rules []string, pass store.Pass, now time.Time) Verdict {
	rule, blocked := match.FirstBlocking(rawURL, rules)
	if !blocked {
		return Verdict{}
	}
	return Verdict{Blocked: true, Rule: rule, PassActive: pass.Active(now)}
}

// InterventionLink appends target as the URL-encoded "target" query parameter.
func InterventionLink(interventionURL, target string) string {
	sep := "?"
	if strings.Contains(interventionURL, "?") {
		sep = "&"
	}
	return interventionURL + sep + "target=" + url.QueryEscape(target)
}

// Hostname extracts the lowercased host (without port) from rawURL.
func Hostname(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("no hostname in %q", rawURL)
	}
	return host, nil
}
