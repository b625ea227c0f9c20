// Package config loads the hallpass daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/hallpass/internal/alert"
	"github.com/ppiankov/hallpass/internal/friction"
	"github.com/ppiankov/hallpass/internal/store"
)

// Config holds every daemon setting. Friction settings themselves (block
// list, mode, unlock duration) live in the store, not here.
type Config struct {
	HTTPAddr        string   `yaml:"http_addr"`
	GRPCAddr        string   `yaml:"grpc_addr"`
	InterventionURL string   `yaml:"intervention_url"`
	FallbackURL     string   `yaml:"fallback_url"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	RequiredPhrase string        `yaml:"required_phrase"`
	DepletionTicks int           `yaml:"depletion_ticks"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	SessionTTL     time.Duration `yaml:"session_ttl"`

	// NavigationRateLimit is requests per minute per client on the navigation hook.
	NavigationRateLimit int `yaml:"navigation_rate_limit"`

	Store        store.Config        `yaml:"store"`
	AuditLog     string              `yaml:"audit_log"`
	SettingsFile string              `yaml:"settings_file"`
	Alerts       []alert.AlertConfig `yaml:"alerts"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults.
const (
	DefaultHTTPAddr            = "127.0.0.1:8787"
	DefaultGRPCAddr            = "127.0.0.1:8788"
	DefaultNavigationRateLimit = 600
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	dir := store.DefaultDir()
	return &Config{
		HTTPAddr:            DefaultHTTPAddr,
		GRPCAddr:            DefaultGRPCAddr,
		FallbackURL:         friction.DefaultFallbackURL,
		AllowedOrigins:      []string{"chrome-extension://*", "moz-extension://*"},
		RequiredPhrase:      friction.DefaultPhrase,
		DepletionTicks:      friction.DefaultDepletionTicks,
		TickInterval:        friction.DefaultTickInterval,
		SessionTTL:          friction.DefaultSessionTTL,
		NavigationRateLimit: DefaultNavigationRateLimit,
		Store:               store.Config{Backend: "file"},
		AuditLog:            filepath.Join(dir, "audit.jsonl"),
		Log:                 LogConfig{Level: "info", Format: "auto"},
	}
}

// DefaultPath returns ~/.hallpass/config.yaml.
func DefaultPath() string {
	return filepath.Join(store.DefaultDir(), "config.yaml")
}

// Load reads the YAML file at path over the defaults and applies HALLPASS_*
// environment overrides. Empty path means DefaultPath. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// YAML overwrites only the fields it names
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HALLPASS_HTTP_ADDR"); ok && v != "" {
		c.HTTPAddr = v
	}
	if v, ok := lookup("HALLPASS_GRPC_ADDR"); ok {
		c.GRPCAddr = v
	}
	if v, ok := lookup("HALLPASS_INTERVENTION_URL"); ok && v != "" {
		c.InterventionURL = v
	}
	if v, ok := lookup("HALLPASS_STORE_BACKEND"); ok && v != "" {
		c.Store.Backend = v
	}
	if v, ok := lookup("HALLPASS_STORE_PATH"); ok && v != "" {
		c.Store.Path = v
	}
	if v, ok := lookup("HALLPASS_SETTINGS_FILE"); ok {
		c.SettingsFile = v
	}
	if v, ok := lookup("HALLPASS_AUDIT_LOG"); ok {
		c.AuditLog = v
	}
	if v, ok := lookup("HALLPASS_DEPLETION_TICKS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HALLPASS_DEPLETION_TICKS: %w", err)
		}
		c.DepletionTicks = n
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.DepletionTicks < 0 {
		return fmt.Errorf("depletion_ticks must not be negative, got %d", c.DepletionTicks)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tick_interval must not be negative, got %s", c.TickInterval)
	}
	if c.NavigationRateLimit < 0 {
		return fmt.Errorf("navigation_rate_limit must not be negative, got %d", c.NavigationRateLimit)
	}
	return nil
}

// Intervention returns the configured intervention page URL, or the one
// served by the HTTP listener.
func (c *Config) Intervention() string {
	if c.InterventionURL != "" {
		return c.InterventionURL
	}
	return "http://" + c.HTTPAddr + "/intervention"
}

// FrictionConfig maps the file settings onto the friction engine.
func (c *Config) FrictionConfig() friction.Config {
	return friction.Config{
		RequiredPhrase: c.RequiredPhrase,
		DepletionTicks: c.DepletionTicks,
		TickInterval:   c.TickInterval,
		FallbackURL:    c.FallbackURL,
		SessionTTL:     c.SessionTTL,
	}
}

// DefaultConfigYAML returns a commented YAML string for a fresh config file.
func DefaultConfigYAML() string {
	return `# hallpass daemon configuration

# HTTP listener: navigation hook, intervention page, session API.
http_addr: 127.0.0.1:8787

# gRPC navigation hook. Empty disables it.
grpc_addr: 127.0.0.1:8788

# Where blocked navigations are sent. Defaults to the page on http_addr.
# intervention_url: http://127.0.0.1:8787/intervention

# Destination after a grant when the original target was lost.
fallback_url: https://google.com

# Challenge phrase, typed back exactly.
required_phrase: I choose focus

# Depletion mode countdown.
depletion_ticks: 30
tick_interval: 1s

store:
  backend: file   # memory | file | sqlite
  # path: ~/.hallpass/state.json

# Block list, friction mode and unlock duration, synced into the store on change.
# settings_file: ~/.hallpass/settings.yaml

# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [redirect, pass_granted]
`
}
