// Package config loads the wgbot configuration: the shared transport
// settings plus the database, session state and metrics sections.
package config

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/wgbot/core/config"
	coredatabase "github.com/m3rciful/wgbot/core/database"
	"github.com/m3rciful/wgbot/core/persist"
	"github.com/m3rciful/wgbot/core/telegram/callbacks"
)

// Defaults for the state section.
const (
	DefaultDialogTTL     = 30 * time.Minute
	DefaultMenuTTL       = 24 * time.Hour
	DefaultSweepInterval = time.Minute
)

// StateConfig configures session and callback persistence.
type StateConfig struct {
	persist.Config `yaml:",inline"`

	DialogTTL        time.Duration `yaml:"dialog_ttl" envconfig:"STATE_DIALOG_TTL"`
	MenuTTL          time.Duration `yaml:"menu_ttl" envconfig:"STATE_MENU_TTL"`
	SweepInterval    time.Duration `yaml:"sweep_interval" envconfig:"STATE_SWEEP_INTERVAL"`
	CallbackCapacity int           `yaml:"callback_capacity" envconfig:"STATE_CALLBACK_CAPACITY"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	State    StateConfig         `yaml:"state"`
	Metrics  MetricsConfig       `yaml:"metrics"`
}

// CoreConfig exposes the embedded transport configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOffline is Load without the telegram section checks, for CLI
// maintenance commands that never talk to Telegram.
func LoadOffline(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := normalizeLocal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}
	return normalizeLocal(cfg)
}

func normalizeLocal(cfg *Config) error {
	cfg.Database = cfg.Database.Normalized()
	switch cfg.Database.Driver {
	case coredatabase.DriverPostgres, coredatabase.DriverSQLite:
	default:
		return fmt.Errorf("invalid database.driver %q; allowed: postgres, sqlite", cfg.Database.Driver)
	}

	st := &cfg.State
	st.Backend = strings.ToLower(strings.TrimSpace(st.Backend))
	switch st.Backend {
	case "":
		st.Backend = persist.BackendSQLite
	case persist.BackendSQLite, persist.BackendRedis, persist.BackendMemory, persist.BackendDatabase:
	default:
		return fmt.Errorf("invalid state.backend %q; allowed: sqlite, redis, memory, database", st.Backend)
	}
	if st.DialogTTL < 0 || st.MenuTTL < 0 || st.SweepInterval < 0 {
		return fmt.Errorf("state durations must be >= 0")
	}
	if st.DialogTTL == 0 {
		st.DialogTTL = DefaultDialogTTL
	}
	if st.MenuTTL == 0 {
		st.MenuTTL = DefaultMenuTTL
	}
	if st.SweepInterval == 0 {
		st.SweepInterval = DefaultSweepInterval
	}
	if st.CallbackCapacity <= 0 {
		st.CallbackCapacity = callbacks.DefaultCapacity
	}
	cfg.Metrics.Listen = strings.TrimSpace(cfg.Metrics.Listen)
	return nil
}
