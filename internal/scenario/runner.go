// Package scenario replays scripted navigations through the gate and checks
// each decision against the expected one.
package scenario

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/hallpass/internal/gatekeeper"
	"github.com/ppiankov/hallpass/internal/logging"
	"github.com/ppiankov/hallpass/internal/store"
)

// Epoch is time zero for at_ms offsets.
var Epoch = time.UnixMilli(1_700_000_000_000)

const interventionURL = "http://hallpass.invalid/intervention"

// Run evaluates all cases of s against a fresh in-memory store seeded with
// the scenario's settings and pass.
func Run(ctx context.Context, s *Scenario) (*RunResult, error) {
	mem := store.NewMemoryStore()
	grants := store.NewGrants(mem)

	if err := s.Settings.Apply(ctx, mem); err != nil {
		return nil, fmt.Errorf("scenario %q settings: %w", s.Name, err)
	}
	if s.Pass != nil {
		minutes := s.Pass.Minutes
		if minutes <= 0 {
			current, _ := grants.Settings(ctx)
			minutes = current.UnlockDurationMinutes
		}
		granted := Epoch.Add(time.Duration(s.Pass.GrantedAtMS) * time.Millisecond)
		if err := grants.SetPass(ctx, store.NewPass(granted, time.Duration(minutes)*time.Minute)); err != nil {
			return nil, err
		}
	}

	var now time.Time
	gk, err := gatekeeper.New(grants, gatekeeper.Config{
		InterventionURL: interventionURL,
		Now:             func() time.Time { return now },
		Logger:          logging.Discard(),
	})
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	for i, c := range s.Cases {
		now = Epoch.Add(time.Duration(c.AtMS) * time.Millisecond)
		d, err := gk.OnNavigationComplete(ctx, gatekeeper.NavigationEvent{TabID: 1, URL: c.URL, Status: gatekeeper.StatusComplete})
		gk.Wait()
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", i+1, err)
		}

		actual := string(d.Action)
		expected := strings.ToLower(strings.TrimSpace(c.Expect))
		cr := CaseResult{
			Index:    i + 1,
			URL:      c.URL,
			AtMS:     c.AtMS,
			Expected: expected,
			Actual:   actual,
			Rule:     d.Rule,
			Reason:   d.Reason,
		}
		cr.Passed = actual == expected

		if c.Visits != nil && cr.Passed {
			host, _ := gatekeeper.Hostname(c.URL)
			counts, err := grants.VisitCounts(ctx)
			if err != nil {
				return nil, err
			}
			got, _ := counts.Get(host)
			if got != *c.Visits {
				cr.Passed = false
				cr.Expected = fmt.Sprintf("%s with %d visits", expected, *c.Visits)
				cr.Actual = fmt.Sprintf("%s with %d visits", actual, got)
			}
		}

		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Cases = append(result.Cases, cr)
	}

	return result, nil
}

// Load parses a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return &s, nil
}

// LoadAndRun loads a scenario YAML file and runs it.
func LoadAndRun(ctx context.Context, path string) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result, err := Run(ctx, s)
	if err != nil {
		return nil, err
	}
	result.File = path
	return result, nil
}
