package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/hallpass/internal/audit"
	"github.com/ppiankov/hallpass/internal/logging"
	"github.com/ppiankov/hallpass/internal/store"
)

const interventionURL = "http://127.0.0.1:8787/intervention"

type redirect struct {
	tabID int
	url   string
}

type recordingNavigator struct {
	mu        sync.Mutex
	redirects []redirect
}

func (n *recordingNavigator) RedirectTab(ctx context.Context, tabID int, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redirects = append(n.redirects, redirect{tabID, url})
	return nil
}

// countingStore counts Set calls and can be told to fail them.
type countingStore struct {
	store.Store
	mu      sync.Mutex
	sets    int
	failSet bool
}

func (c *countingStore) Set(ctx context.Context, values map[string]json.RawMessage) error {
	c.mu.Lock()
	c.sets++
	fail := c.failSet
	c.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return c.Store.Set(ctx, values)
}

func (c *countingStore) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

type fixture struct {
	gk    *Gatekeeper
	nav   *recordingNavigator
	store *countingStore
	now   time.Time
}

func newFixture(t *testing.T, sites []string) *fixture {
	t.Helper()
	f := &fixture{
		nav:   &recordingNavigator{},
		store: &countingStore{Store: store.NewMemoryStore()},
		now:   time.UnixMilli(1_700_000_000_000),
	}
	grants := store.NewGrants(f.store)
	if sites != nil {
		if err := grants.ApplySettings(context.Background(), store.Settings{BlockedSites: sites, UnlockDurationMinutes: 10}); err != nil {
			t.Fatal(err)
		}
	}
	gk, err := New(grants, Config{
		InterventionURL: interventionURL,
		Navigator:       f.nav,
		Now:             func() time.Time { return f.now },
		Logger:          logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.gk = gk
	return f
}

func (f *fixture) navigate(t *testing.T, rawURL string) Decision {
	t.Helper()
	d, err := f.gk.OnNavigationComplete(context.Background(), NavigationEvent{TabID: 1, URL: rawURL, Status: StatusComplete})
	if err != nil {
		t.Fatalf("OnNavigationComplete: %v", err)
	}
	f.gk.Wait()
	return d
}

func (f *fixture) visits(t *testing.T) store.VisitCounts {
	t.Helper()
	vc, err := f.gk.grants.VisitCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return vc
}

func TestRedirectsBlockedNavigationWithoutPass(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	const target = "https://youtube.com/watch?v=1"

	d := f.navigate(t, target)
	if d.Action != Redirect {
		t.Fatalf("action = %s, want redirect", d.Action)
	}

	u, err := url.Parse(d.RedirectURL)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Query().Get("target"); got != target {
		t.Errorf("target param = %q, want %q", got, target)
	}
	if u.Scheme+"://"+u.Host+u.Path != interventionURL {
		t.Errorf("redirect base = %s", d.RedirectURL)
	}

	if len(f.nav.redirects) != 1 || f.nav.redirects[0].url != d.RedirectURL || f.nav.redirects[0].tabID != 1 {
		t.Errorf("navigator calls = %+v", f.nav.redirects)
	}

	if n, _ := f.visits(t).Get("youtube.com"); n != 1 {
		t.Errorf("visitCounts[youtube.com] = %d, want 1", n)
	}
}

func TestAllowsUnblockedNavigationWithoutWrites(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	before := f.store.setCount()

	for i := 0; i < 3; i++ {
		d := f.navigate(t, "https://example.com/")
		if d.Action != Allow {
			t.Fatalf("action = %s, want allow", d.Action)
		}
	}
	if f.store.setCount() != before {
		t.Errorf("expected no store writes, got %d", f.store.setCount()-before)
	}
	if len(f.nav.redirects) != 0 {
		t.Errorf("expected no redirects, got %d", len(f.nav.redirects))
	}
}

func TestPassBoundaryIsStrict(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	grantedAt := f.now
	pass := store.NewPass(grantedAt, 10*time.Minute)
	if err := f.gk.grants.SetPass(context.Background(), pass); err != nil {
		t.Fatal(err)
	}
	before := f.store.setCount()

	f.now = grantedAt.Add(599_999 * time.Millisecond)
	if d := f.navigate(t, "https://youtube.com/"); d.Action != Allow {
		t.Fatalf("at T+599999ms action = %s, want allow", d.Action)
	}
	if f.store.setCount() != before {
		t.Error("allowed navigation must not write to the store")
	}

	f.now = grantedAt.Add(600_000 * time.Millisecond)
	if d := f.navigate(t, "https://youtube.com/"); d.Action != Redirect {
		t.Fatalf("at T+600000ms action = %s, want redirect", d.Action)
	}

	f.now = grantedAt.Add(600_001 * time.Millisecond)
	if d := f.navigate(t, "https://youtube.com/"); d.Action != Redirect {
		t.Fatalf("at T+600001ms action = %s, want redirect", d.Action)
	}
}

func TestVisitCountIncrementsByOnePerRedirect(t *testing.T) {
	f := newFixture(t, []string{"youtube.com", "instagram.com"})

	f.navigate(t, "https://youtube.com/a")
	f.navigate(t, "https://www.instagram.com/b")
	f.navigate(t, "https://youtube.com/c")

	vc := f.visits(t)
	if n, _ := vc.Get("youtube.com"); n != 2 {
		t.Errorf("youtube.com = %d, want 2", n)
	}
	if n, _ := vc.Get("www.instagram.com"); n != 1 {
		t.Errorf("www.instagram.com = %d, want 1 (hostname is recorded, not the rule)", n)
	}
}

func TestVisitCountKeyIsLowercased(t *testing.T) {
	f := newFixture(t, []string{"/watch"})

	f.navigate(t, "https://WWW.YouTube.com/watch?v=1")
	f.navigate(t, "https://www.youtube.com/watch?v=2")

	vc := f.visits(t)
	if n, _ := vc.Get("www.youtube.com"); n != 2 {
		t.Errorf("www.youtube.com = %d, want 2", n)
	}
	if _, ok := vc.Get("WWW.YouTube.com"); ok {
		t.Error("mixed-case host must not get its own counter")
	}
}

func TestHostname(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://YouTube.com/x", "youtube.com", false},
		{"http://Reddit.COM:8080/r", "reddit.com", false},
		{"https://[::1]:443/", "::1", false},
		{"not a url", "", true},
		{"%zz", "", true},
	}
	for _, tt := range tests {
		got, err := Hostname(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Hostname(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestVerdictIntervene(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	rules := []string{"youtube.com"}
	tests := []struct {
		name string
		url  string
		pass store.Pass
		want bool
	}{
		{"unblocked", "https://golang.org/", store.Pass{}, false},
		{"blocked without pass", "https://youtube.com/", store.Pass{}, true},
		{"blocked with live pass", "https://youtube.com/", store.NewPass(now, time.Minute), false},
		{"blocked at expiry", "https://youtube.com/", store.Pass{ExpiresAt: now.UnixMilli()}, true},
	}
	for _, tt := range tests {
		v := Decide(tt.url, rules, tt.pass, now)
		if got := v.Intervene(); got != tt.want {
			t.Errorf("%s: Intervene() = %v, want %v (verdict %+v)", tt.name, got, tt.want, v)
		}
	}
}

func TestTrackingFailureDoesNotBlockRedirect(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	f.store.mu.Lock()
	f.store.failSet = true
	f.store.mu.Unlock()

	d := f.navigate(t, "https://youtube.com/")
	if d.Action != Redirect {
		t.Fatalf("action = %s, want redirect", d.Action)
	}
	if len(f.nav.redirects) != 1 {
		t.Errorf("expected redirect despite tracking failure")
	}
}

func TestUnparseableURLStillRedirects(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	d := f.navigate(t, "youtube.com/no-scheme")
	if d.Action != Redirect {
		t.Fatalf("action = %s, want redirect", d.Action)
	}
	if len(f.visits(t)) != 0 {
		t.Errorf("expected no visit recorded without a hostname")
	}
}

func TestLoopGuardOnInterventionPage(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	page := InterventionLink(interventionURL, "https://youtube.com/watch?v=1")

	d := f.navigate(t, page)
	if d.Action != Allow {
		t.Fatalf("action = %s, want allow on intervention page", d.Action)
	}
	if len(f.nav.redirects) != 0 {
		t.Errorf("expected no redirect, got %+v", f.nav.redirects)
	}
}

func TestIgnoresIncompleteEvents(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	for _, ev := range []NavigationEvent{
		{TabID: 1, URL: "https://youtube.com/", Status: "loading"},
		{TabID: 1, URL: "", Status: StatusComplete},
	} {
		d, err := f.gk.OnNavigationComplete(context.Background(), ev)
		if err != nil {
			t.Fatal(err)
		}
		if d.Action != Ignore {
			t.Errorf("event %+v: action = %s, want ignore", ev, d.Action)
		}
	}
	f.gk.Wait()
	if len(f.visits(t)) != 0 {
		t.Error("ignored events must not count visits")
	}
}

func TestDefaultBlockListWhenUnset(t *testing.T) {
	f := newFixture(t, nil)
	if d := f.navigate(t, "https://twitter.com/home"); d.Action != Redirect {
		t.Errorf("action = %s, want redirect under default list", d.Action)
	}
}

func TestNavigatorErrorIsReturned(t *testing.T) {
	grants := store.NewGrants(store.NewMemoryStore())
	gk, _ := New(grants, Config{
		InterventionURL: interventionURL,
		Logger:          logging.Discard(),
		Navigator: NavigatorFunc(func(ctx context.Context, tabID int, url string) error {
			return errors.New("tab closed")
		}),
	})
	d, err := gk.OnNavigationComplete(context.Background(), NavigationEvent{TabID: 3, URL: "https://youtube.com/", Status: StatusComplete})
	gk.Wait()
	if err == nil {
		t.Fatal("expected navigator error")
	}
	if d.Action != Redirect {
		t.Errorf("decision should still describe the redirect, got %s", d.Action)
	}
}

func TestCheckHasNoSideEffects(t *testing.T) {
	f := newFixture(t, []string{"youtube.com"})
	before := f.store.setCount()

	d := f.gk.Check(context.Background(), "https://youtube.com/")
	if d.Action != Redirect || d.Rule != "youtube.com" {
		t.Errorf("unexpected check decision: %+v", d)
	}
	f.gk.Wait()
	if f.store.setCount() != before || len(f.nav.redirects) != 0 {
		t.Error("Check must not write or redirect")
	}
}

func TestRedirectIsAudited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	grants := store.NewGrants(store.NewMemoryStore())
	gk, _ := New(grants, Config{InterventionURL: interventionURL, Audit: log, Logger: logging.Discard()})

	gk.OnNavigationComplete(context.Background(), NavigationEvent{TabID: 1, URL: "https://youtube.com/", Status: StatusComplete})
	gk.Wait()
	log.Close()

	entries, err := audit.Tail(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Event != audit.EventRedirect {
		t.Errorf("unexpected audit entries: %+v", entries)
	}
	if res := audit.Verify(path); !res.Valid {
		t.Errorf("audit chain invalid: %s", res.Error)
	}
}

func TestNewRequiresInterventionURL(t *testing.T) {
	if _, err := New(store.NewGrants(store.NewMemoryStore()), Config{}); err == nil {
		t.Error("expected error without intervention URL")
	}
}

func TestInterventionLink(t *testing.T) {
	got := InterventionLink("http://h/i?x=1", "https://a.com/?q=1&r=2")
	u, _ := url.Parse(got)
	if u.Query().Get("x") != "1" || u.Query().Get("target") != "https://a.com/?q=1&r=2" {
		t.Errorf("InterventionLink = %s", got)
	}
}
