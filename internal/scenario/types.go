package scenario

import "github.com/ppiankov/hallpass/internal/settings"

// PassSpec places a hall pass on the scenario timeline.
type PassSpec struct {
	GrantedAtMS int64 `yaml:"granted_at_ms"`
	Minutes     int   `yaml:"minutes,omitempty"` // 0 uses the scenario's unlock duration
}

// Case is one navigation within a scenario. Cases run in order against
// shared state, so visit counts accumulate.
type Case struct {
	URL    string `yaml:"url"`
	AtMS   int64  `yaml:"at_ms"`
	Expect string `yaml:"expect"`           // "allow" or "redirect"
	Visits *int   `yaml:"visits,omitempty"` // expected hostname count after the case
}

// Scenario is a named sequence of navigations with their expected outcomes.
type Scenario struct {
	Name     string        `yaml:"name"`
	Settings settings.File `yaml:"settings"`
	Pass     *PassSpec     `yaml:"pass,omitempty"`
	Cases    []Case        `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	URL      string `json:"url"`
	AtMS     int64  `json:"at_ms"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
