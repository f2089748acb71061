// Package config loads the banledger YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/banledger/internal/ban"
	"github.com/roach88/banledger/internal/escalate"
)

// Environment variables that override file settings.
const (
	EnvDatabase      = "BANLEDGER_DB"
	EnvPurgeInterval = "BANLEDGER_PURGE_INTERVAL"
)

// DefaultDatabase is the ledger file used when none is configured.
const DefaultDatabase = "/var/lib/banledger/ledger.db"

// Config is the top-level configuration file.
type Config struct {
	Database      string          `yaml:"database"`
	PurgeInterval Duration        `yaml:"purge_interval"`
	Escalation    Escalation      `yaml:"escalation"`
	Jails         map[string]Jail `yaml:"jails"`
}

// Jail configures one jail. Escalation fields left unset inherit the
// top-level escalation block.
type Jail struct {
	Enabled    *bool      `yaml:"enabled"`
	Logs       []string   `yaml:"logs"`
	Escalation Escalation `yaml:"escalation"`
}

// IsEnabled reports whether the jail is enabled. Jails are enabled unless
// the file says otherwise.
func (j Jail) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// Escalation is an escalation block. Nil fields are unset.
type Escalation struct {
	BanTime      *Duration `yaml:"bantime"`
	Enabled      *bool     `yaml:"enabled"`
	Multipliers  []float64 `yaml:"multipliers"`
	MaxTime      *Duration `yaml:"maxtime"`
	ResetAfter   *Duration `yaml:"reset_after"`
	OverallJails *bool     `yaml:"overall_jails"`
}

// apply overlays the fields set in e onto cfg.
func (e Escalation) apply(cfg escalate.Config) escalate.Config {
	if e.BanTime != nil {
		cfg.BanTime = e.BanTime.Seconds()
	}
	if e.Enabled != nil {
		cfg.Enabled = *e.Enabled
	}
	if e.Multipliers != nil {
		cfg.Multipliers = append([]float64(nil), e.Multipliers...)
	}
	if e.MaxTime != nil {
		cfg.MaxTime = e.MaxTime.Seconds()
	}
	if e.ResetAfter != nil {
		cfg.ResetAfter = e.ResetAfter.Seconds()
	}
	if e.OverallJails != nil {
		cfg.OverallJails = *e.OverallJails
	}
	return cfg
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database:      DefaultDatabase,
		PurgeInterval: Duration(time.Hour),
		Jails:         map[string]Jail{},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("in config file %s: %w", path, err)
		}
		if cfg.Jails == nil {
			cfg.Jails = map[string]Jail{}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := getenv(EnvPurgeInterval); v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvPurgeInterval, err)
		}
		c.PurgeInterval = d
	}
	return nil
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("database must be set"))
	}
	if c.PurgeInterval <= 0 {
		errs = append(errs, fmt.Errorf("purge_interval must be positive, got %s", c.PurgeInterval))
	}
	if err := c.EscalationDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("escalation: %w", err))
	}
	for _, name := range c.JailNames() {
		if ban.NormalizeJail(name) == "" {
			errs = append(errs, errors.New("jail name must not be empty"))
			continue
		}
		if err := c.EscalationFor(name).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("jail %s: escalation: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// JailNames returns the configured jail names, sorted.
func (c *Config) JailNames() []string {
	names := make([]string, 0, len(c.Jails))
	for name := range c.Jails {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EscalationDefaults returns the top-level escalation block over the
// built-in defaults.
func (c *Config) EscalationDefaults() escalate.Config {
	return c.Escalation.apply(escalate.DefaultConfig())
}

// EscalationFor returns the escalation policy of jail: its own block merged
// field by field over the top-level one.
func (c *Config) EscalationFor(jail string) escalate.Config {
	cfg := c.EscalationDefaults()
	if j, ok := c.Jails[jail]; ok {
		cfg = j.Escalation.apply(cfg)
	}
	return cfg
}

// EscalationByJail returns the resolved policy of every configured jail.
func (c *Config) EscalationByJail() map[string]escalate.Config {
	out := make(map[string]escalate.Config, len(c.Jails))
	for name := range c.Jails {
		out[name] = c.EscalationFor(name)
	}
	return out
}
