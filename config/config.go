// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/domain/tier"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Vault   VaultConfig   `yaml:"vault"`
	Tiers   []TierConfig  `yaml:"tiers"`
	Admin   AdminConfig   `yaml:"admin"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig selects and configures the storage engine. The driver is
// fixed for the process lifetime; changing it requires a restart.
type StorageConfig struct {
	Driver         string        `yaml:"driver"` // "sqlite" or "postgres"
	DSN            string        `yaml:"dsn"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// VaultConfig configures where the master encryption key comes from. The
// key itself never appears in the config file, only the name of the
// environment variable holding it.
type VaultConfig struct {
	MasterKeyEnv string `yaml:"master_key_env"`
}

// TierConfig overrides the quota policy for a single tier.
type TierConfig struct {
	Name   string        `yaml:"name"`
	Limit  int64         `yaml:"limit"` // requests per window; < 0 = unlimited
	Window time.Duration `yaml:"window"`
	Mode   string        `yaml:"mode"` // "hard" or "soft"
}

// AdminConfig configures the key management API. An empty token disables
// the admin endpoints entirely.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	FITGATE_SERVER_HOST      - Server host (default: 0.0.0.0)
//	FITGATE_SERVER_PORT      - Server port (default: 8080)
//	FITGATE_STORAGE_DRIVER   - Storage driver: sqlite or postgres (default: sqlite)
//	FITGATE_STORAGE_DSN      - Database path or connection string (default: fitgate.db)
//	FITGATE_VAULT_KEY_ENV    - Env var holding the hex master key (default: FITGATE_MASTER_KEY)
//	FITGATE_ADMIN_TOKEN      - Bearer token for the admin API (empty disables it)
//	FITGATE_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	FITGATE_LOG_FORMAT       - Log format: json or console (default: json)
//	FITGATE_METRICS_ENABLED  - Enable /metrics endpoint (default: false)
//	FITGATE_METRICS_PATH     - Metrics path (default: /metrics)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables. Every setting has a default, so env-only startup always works.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// Policies builds the tier policy table: the built-in defaults with any
// configured overrides applied on top.
func (c *Config) Policies() (tier.Policies, error) {
	policies := tier.Defaults()
	for i, t := range c.Tiers {
		name := key.Tier(t.Name)
		if !name.Valid() {
			return nil, fmt.Errorf("tiers[%d]: unknown tier %q", i, t.Name)
		}
		mode := tier.Mode(t.Mode)
		if t.Mode == "" {
			mode = policies[name].Mode
		}
		window := t.Window
		if window == 0 {
			window = policies[name].Window
		}
		policies[name] = tier.Policy{Limit: t.Limit, Window: window, Mode: mode}
	}
	if err := policies.Validate(); err != nil {
		return nil, err
	}
	return policies, nil
}

// applyEnvOverrides applies FITGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FITGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FITGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FITGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("FITGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("FITGATE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("FITGATE_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("FITGATE_STORAGE_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.ConnectTimeout = d
		}
	}

	if v := os.Getenv("FITGATE_VAULT_KEY_ENV"); v != "" {
		cfg.Vault.MasterKeyEnv = v
	}

	if v := os.Getenv("FITGATE_ADMIN_TOKEN"); v != "" {
		cfg.Admin.Token = v
	}

	if v := os.Getenv("FITGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FITGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("FITGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FITGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "fitgate.db"
	}
	if cfg.Storage.ConnectTimeout == 0 {
		cfg.Storage.ConnectTimeout = 10 * time.Second
	}

	if cfg.Vault.MasterKeyEnv == "" {
		cfg.Vault.MasterKeyEnv = "FITGATE_MASTER_KEY"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be 'sqlite' or 'postgres', got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && !strings.Contains(cfg.Storage.DSN, "://") && !strings.Contains(cfg.Storage.DSN, "=") {
		return fmt.Errorf("storage.dsn %q does not look like a postgres connection string", cfg.Storage.DSN)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if _, err := cfg.Policies(); err != nil {
		return err
	}

	return nil
}
