// Package config loads tokpulse settings from TOML, an optional .env file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/theirongolddev/tokpulse/internal/activity"
	"github.com/theirongolddev/tokpulse/internal/model"
)

// Environment overrides.
const (
	EnvClaudeSessionKey = "CLAUDE_SESSION_KEY"
	EnvOpenRouterKey    = "OPENROUTER_API_KEY"
	EnvDB               = "TOKPULSE_DB"
	EnvLogLevel         = "TOKPULSE_LOG_LEVEL"
)

// Config holds all tokpulse configuration.
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Store     StoreConfig     `toml:"store"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Providers ProvidersConfig `toml:"providers"`
	Pricing   PricingConfig   `toml:"pricing"`
	Activity  ActivityConfig  `toml:"activity"`
	Budget    BudgetConfig    `toml:"budget"`
	Logging   LoggingConfig   `toml:"logging"`
}

// GeneralConfig holds session discovery and refresh settings.
type GeneralConfig struct {
	ClaudeDir           string `toml:"claude_dir,omitempty"`
	CodexDir            string `toml:"codex_dir,omitempty"`
	IncludeSubagents    bool   `toml:"include_subagents"`
	RefreshIntervalMs   int    `toml:"refresh_interval_ms"`
	ActiveThresholdMs   int    `toml:"active_threshold_ms"`
	RollupBucketMinutes int    `toml:"rollup_bucket_minutes"`
	SessionWindowHours  int    `toml:"session_window_hours"`
	Timezone            string `toml:"timezone,omitempty"`
}

// StoreConfig locates the database.
type StoreConfig struct {
	Path string `toml:"path,omitempty"`
}

// DaemonConfig holds the query server settings.
type DaemonConfig struct {
	Addr         string `toml:"addr"`
	EventsBuffer int    `toml:"events_buffer"`
}

// ProvidersConfig holds poller tuning and per-provider credentials.
type ProvidersConfig struct {
	TimeoutSeconds         int              `toml:"timeout_seconds"`
	MaxRetries             int              `toml:"max_retries"`
	MinPollIntervalSeconds int              `toml:"min_poll_interval_seconds"`
	ClaudeAI               ClaudeAIConfig   `toml:"claudeai"`
	OpenRouter             OpenRouterConfig `toml:"openrouter"`
}

// ClaudeAIConfig holds claude.ai web session settings.
type ClaudeAIConfig struct {
	Enabled    bool   `toml:"enabled"`
	SessionKey string `toml:"session_key,omitempty"`
	BaseURL    string `toml:"base_url,omitempty"`
}

// OpenRouterConfig holds OpenRouter API settings.
type OpenRouterConfig struct {
	Enabled bool   `toml:"enabled"`
	APIKey  string `toml:"api_key,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

// PricingConfig controls the live catalog and local overrides.
type PricingConfig struct {
	LiveURL    string                          `toml:"live_url,omitempty"`
	TTLMinutes int                             `toml:"ttl_minutes"`
	Offline    bool                            `toml:"offline"`
	Overrides  map[string]ModelPricingOverride `toml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides in USD per million tokens.
type ModelPricingOverride struct {
	Provider          string   `toml:"provider,omitempty"`
	InputPerMTok      *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok     *float64 `toml:"output_per_mtok,omitempty"`
	CacheReadPerMTok  *float64 `toml:"cache_read_per_mtok,omitempty"`
	CacheWritePerMTok *float64 `toml:"cache_write_per_mtok,omitempty"`
}

// ActivityConfig tunes the activity rate estimator.
type ActivityConfig struct {
	DecayPerSecond float64 `toml:"decay_per_second"`
	SpikeFloor     float64 `toml:"spike_floor"`
	SpikeFactor    float64 `toml:"spike_factor"`
	Window         int     `toml:"window"`
	Ramp           int     `toml:"ramp"`
}

// BudgetConfig holds budget tracking settings.
type BudgetConfig struct {
	MonthlyUSD *float64 `toml:"monthly_usd,omitempty"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file,omitempty"`
	JSON  bool   `toml:"json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	p := activity.DefaultParams()
	return Config{
		General: GeneralConfig{
			IncludeSubagents:    true,
			RefreshIntervalMs:   5000,
			ActiveThresholdMs:   120000,
			RollupBucketMinutes: 60,
			SessionWindowHours:  24,
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8787",
			EventsBuffer: 200,
		},
		Providers: ProvidersConfig{
			TimeoutSeconds:         10,
			MaxRetries:             2,
			MinPollIntervalSeconds: 30,
			ClaudeAI:               ClaudeAIConfig{Enabled: true},
			OpenRouter:             OpenRouterConfig{Enabled: true},
		},
		Pricing: PricingConfig{
			LiveURL:    "https://models.dev/api.json",
			TTLMinutes: 60,
		},
		Activity: ActivityConfig{
			DecayPerSecond: p.DecayPerSecond,
			SpikeFloor:     p.SpikeFloor,
			SpikeFactor:    p.SpikeFactor,
			Window:         p.Window,
			Ramp:           p.Ramp,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tokpulse")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tokpulse")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DataDir returns the XDG-compliant data directory.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "tokpulse")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tokpulse")
}

// Load reads .env from the working directory, then the config file, then
// environment overrides. A missing file yields defaults.
func Load() (Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(ConfigPath())
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadFrom reads the config at path and applies environment overrides.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // user-chosen config path
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays environment overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvClaudeSessionKey); v != "" {
		c.Providers.ClaudeAI.SessionKey = v
	}
	if v := os.Getenv(EnvOpenRouterKey); v != "" {
		c.Providers.OpenRouter.APIKey = v
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes the config to path with owner-only permissions.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // user-chosen config path
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := []struct {
		name string
		v    int
	}{
		{"general.refresh_interval_ms", c.General.RefreshIntervalMs},
		{"general.active_threshold_ms", c.General.ActiveThresholdMs},
		{"general.rollup_bucket_minutes", c.General.RollupBucketMinutes},
		{"general.session_window_hours", c.General.SessionWindowHours},
		{"providers.timeout_seconds", c.Providers.TimeoutSeconds},
		{"pricing.ttl_minutes", c.Pricing.TTLMinutes},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.v))
		}
	}
	if c.Providers.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("providers.max_retries must not be negative, got %d", c.Providers.MaxRetries))
	}
	if c.Daemon.EventsBuffer < 0 {
		errs = append(errs, fmt.Errorf("daemon.events_buffer must not be negative, got %d", c.Daemon.EventsBuffer))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ActivityParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("activity: %w", err))
	}
	for name, o := range c.Pricing.Overrides {
		for _, v := range []*float64{o.InputPerMTok, o.OutputPerMTok, o.CacheReadPerMTok, o.CacheWritePerMTok} {
			if v != nil && *v < 0 {
				errs = append(errs, fmt.Errorf("pricing.overrides.%s: negative rate", name))
				break
			}
		}
	}
	return errors.Join(errs...)
}

// ClaudeDir returns the Claude Code data directory.
func (c Config) ClaudeDir() string {
	if c.General.ClaudeDir != "" {
		return expandHome(c.General.ClaudeDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// CodexDir returns the Codex data directory.
func (c Config) CodexDir() string {
	if c.General.CodexDir != "" {
		return expandHome(c.General.CodexDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codex")
}

// StorePath returns the database path.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return expandHome(c.Store.Path)
	}
	return filepath.Join(DataDir(), "tokpulse.db")
}

// RefreshInterval returns the refresh loop period.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.General.RefreshIntervalMs) * time.Millisecond
}

// ActiveThreshold returns the session inactivity threshold.
func (c Config) ActiveThreshold() time.Duration {
	return time.Duration(c.General.ActiveThresholdMs) * time.Millisecond
}

// SessionWindow returns how far back sessions are rebuilt each refresh.
func (c Config) SessionWindow() time.Duration {
	return time.Duration(c.General.SessionWindowHours) * time.Hour
}

// ProviderTimeout returns the per-provider poll timeout.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Providers.TimeoutSeconds) * time.Second
}

// MinPollInterval returns the minimum spacing between polls of one provider.
func (c Config) MinPollInterval() time.Duration {
	return time.Duration(c.Providers.MinPollIntervalSeconds) * time.Second
}

// PricingTTL returns how long a fetched catalog stays fresh.
func (c Config) PricingTTL() time.Duration {
	return time.Duration(c.Pricing.TTLMinutes) * time.Minute
}

// Location returns the zone used for rollup keys.
func (c Config) Location() (*time.Location, error) {
	if c.General.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.General.Timezone)
	if err != nil {
		return nil, fmt.Errorf("general.timezone: %w", err)
	}
	return loc, nil
}

// ActivityParams returns estimator parameters with the configured tuning.
func (c Config) ActivityParams() activity.Params {
	p := activity.DefaultParams()
	a := c.Activity
	if a.DecayPerSecond != 0 {
		p.DecayPerSecond = a.DecayPerSecond
	}
	if a.SpikeFloor != 0 {
		p.SpikeFloor = a.SpikeFloor
	}
	if a.SpikeFactor != 0 {
		p.SpikeFactor = a.SpikeFactor
	}
	if a.Window != 0 {
		p.Window = a.Window
	}
	if a.Ramp != 0 {
		p.Ramp = a.Ramp
	}
	return p
}

// PricingOverrides converts the overrides table into fallback entries.
// Overrides without a provider apply to anthropic; unset input and output
// rates are zero.
func (c Config) PricingOverrides() []model.PricingEntry {
	names := make([]string, 0, len(c.Pricing.Overrides))
	for name := range c.Pricing.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.PricingEntry, 0, len(names))
	for _, name := range names {
		o := c.Pricing.Overrides[name]
		provider := o.Provider
		if provider == "" {
			provider = "anthropic"
		}
		out = append(out, model.PricingEntry{
			Provider:   provider,
			Model:      name,
			Input:      model.Deref(o.InputPerMTok),
			Output:     model.Deref(o.OutputPerMTok),
			CacheRead:  o.CacheReadPerMTok,
			CacheWrite: o.CacheWritePerMTok,
			Source:     model.PricingFallback,
		})
	}
	return out
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
