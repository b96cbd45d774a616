package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `yaml:"port"`
	ReadTimeoutMS  int `yaml:"read_timeout_ms"`
	WriteTimeoutMS int `yaml:"write_timeout_ms"`
}

// AutoCloseConfig controls the reconciliation job.
type AutoCloseConfig struct {
	MaxCandidates      int     `yaml:"max_candidates"`       // rows loaded per invocation
	SettleDelaySec     int     `yaml:"settle_delay_sec"`     // wait after submission before fill lookup
	DefaultSlippagePct float64 `yaml:"default_slippage_pct"` // used when an order has none set
	SizeStep           float64 `yaml:"size_step"`            // close sizes are floored to this step
	LockTTLSec         int     `yaml:"lock_ttl_sec"`         // invocation lock TTL in Redis
}

// NotifyConfig controls the notification phase.
type NotifyConfig struct {
	BatchSize   int    `yaml:"batch_size"` // concurrent items per batch
	FromAddress string `yaml:"from_address"`
}

// APIConfig holds upstream API base URLs.
type APIConfig struct {
	ClobURL            string `yaml:"clob_url"`
	DataURL            string `yaml:"data_url"`
	LeaderboardURL     string `yaml:"leaderboard_url"`
	LeaderboardTTLMins int    `yaml:"leaderboard_ttl_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	AutoClose AutoCloseConfig `yaml:"auto_close"`
	Notify    NotifyConfig    `yaml:"notify"`
	API       APIConfig       `yaml:"api"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeoutMS:  15000,
			WriteTimeoutMS: 30000,
		},
		AutoClose: AutoCloseConfig{
			MaxCandidates:      500,
			SettleDelaySec:     5,
			DefaultSlippagePct: 2.0,
			SizeStep:           0.01,
			LockTTLSec:         300,
		},
		Notify: NotifyConfig{
			BatchSize:   10,
			FromAddress: "alerts@polycopy.app",
		},
		API: APIConfig{
			ClobURL:            "https://clob.polymarket.com",
			DataURL:            "https://data-api.polymarket.com",
			LeaderboardURL:     "https://lb-api.polymarket.com",
			LeaderboardTTLMins: 5,
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the path is empty or the file does not exist. Secrets (private key,
// database, Redis, cron token, email key) always come from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.AutoClose.MaxCandidates <= 0 {
		return errors.New("auto_close.max_candidates must be positive")
	}
	if c.AutoClose.SizeStep <= 0 {
		return errors.New("auto_close.size_step must be positive")
	}
	if c.AutoClose.DefaultSlippagePct < 0 || c.AutoClose.DefaultSlippagePct >= 100 {
		return fmt.Errorf("auto_close.default_slippage_pct out of range: %f", c.AutoClose.DefaultSlippagePct)
	}
	if c.Notify.BatchSize <= 0 {
		return errors.New("notify.batch_size must be positive")
	}
	return nil
}
