// Package config loads and validates the session core configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/advisly/session-core/internal/store"
)

// SessionConfig holds the timing knobs of a live session.
type SessionConfig struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	SlotCap               time.Duration `yaml:"slot_cap"`
	ReconciliationTimeout time.Duration `yaml:"reconciliation_timeout"`
	WalletFetchTimeout    time.Duration `yaml:"wallet_fetch_timeout"`
}

// Validate checks session timing configuration.
func (c *SessionConfig) Validate() error {
	if c.TickInterval < 0 {
		return fmt.Errorf("session.tick_interval must be >= 0")
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("session.heartbeat_interval must be >= 0")
	}
	if c.SlotCap < 0 {
		return fmt.Errorf("session.slot_cap must be >= 0")
	}
	if c.ReconciliationTimeout < 0 {
		return fmt.Errorf("session.reconciliation_timeout must be >= 0")
	}
	return nil
}

// applyDefaults fills zero values with the documented defaults.
func (c *SessionConfig) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.SlotCap == 0 {
		c.SlotCap = DefaultSlotCap
	}
	if c.ReconciliationTimeout == 0 {
		c.ReconciliationTimeout = DefaultReconciliationTimeout
	}
	if c.WalletFetchTimeout == 0 {
		c.WalletFetchTimeout = DefaultWalletFetchTimeout
	}
}

// RedisConfig holds wallet-cache settings. Optional: an empty address
// disables the cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// StoreConfig selects and configures the document store driver.
type StoreConfig struct {
	// Driver is "supabase" or "memory".
	Driver   string               `yaml:"driver"`
	Supabase store.SupabaseConfig `yaml:"supabase"`
	Redis    RedisConfig          `yaml:"redis"`
}

// Validate checks store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "supabase":
		return c.Supabase.Validate()
	default:
		return fmt.Errorf("store.driver must be \"supabase\" or \"memory\", got %q", c.Driver)
	}
}

// JournalConfig holds the local session journal settings. Optional: an
// empty path disables journaling.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the root configuration.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// Load reads, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Session.applyDefaults()
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and the memory
// driver selected.
func Default() *Config {
	cfg := &Config{}
	cfg.Session.applyDefaults()
	cfg.Store.Driver = "memory"
	return cfg
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Store.Validate()
}
