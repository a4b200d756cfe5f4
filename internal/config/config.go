// Package config loads the hivekeeper YAML configuration and applies
// HIVEKEEPER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/hivekeeper/hive"
	"github.com/jmcleod/hivekeeper/internal/util"
)

// Config is the complete CLI configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Hive     HiveConfig     `yaml:"hive"`
	Session  SessionConfig  `yaml:"session"`
	Security SecurityConfig `yaml:"security"`
	Device   DeviceConfig   `yaml:"device"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// StorageConfig selects the record backend. Path is a bbolt file, a SQLite
// DSN or ignored for memory.
type StorageConfig struct {
	Backend string `yaml:"backend"` // bbolt, sqlite, memory
	DataDir string `yaml:"data_dir"`
	Path    string `yaml:"path"`
	KeyFile string `yaml:"key_file"`
}

// HiveConfig controls the JSON-RPC account lookup client.
type HiveConfig struct {
	Nodes    []string      `yaml:"nodes"`
	Timeout  time.Duration `yaml:"timeout"`
	RetryMax int           `yaml:"retry_max"`
}

// SessionConfig controls the auth manager.
type SessionConfig struct {
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	PINLength         int           `yaml:"pin_length"`
}

// SecurityConfig holds key derivation settings and the development
// fallback switch. DevFallback only has an effect in devfallback builds.
type SecurityConfig struct {
	KDFIterations int  `yaml:"kdf_iterations"`
	DevFallback   bool `yaml:"dev_fallback"`
}

// DeviceConfig controls the device passcode gate.
type DeviceConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the loopback metrics endpoint of the shell.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "bbolt",
			DataDir: dataDir,
		},
		Hive: HiveConfig{
			Nodes:    append([]string(nil), hive.DefaultNodes...),
			Timeout:  10 * time.Second,
			RetryMax: 2,
		},
		Session: SessionConfig{
			InactivityTimeout: 5 * time.Minute,
			PINLength:         6,
		},
		Security: SecurityConfig{
			KDFIterations: util.MinPBKDF2Iterations,
		},
		Device: DeviceConfig{
			MaxAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// DefaultDataDir is ~/.hivekeeper, or ./.hivekeeper without a home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hivekeeper"
	}
	return filepath.Join(home, ".hivekeeper")
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file at an empty path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default(DefaultDataDir())
	if path != "" {
		// #nosec G304 - config path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("HIVEKEEPER_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if backend := os.Getenv("HIVEKEEPER_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if nodes := os.Getenv("HIVEKEEPER_HIVE_NODES"); nodes != "" {
		var list []string
		for _, n := range strings.Split(nodes, ",") {
			if n = strings.TrimSpace(n); n != "" {
				list = append(list, n)
			}
		}
		cfg.Hive.Nodes = list
	}
	if v := os.Getenv("HIVEKEEPER_INACTIVITY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid HIVEKEEPER_INACTIVITY_TIMEOUT", "value", v, "error", err)
		} else {
			cfg.Session.InactivityTimeout = d
		}
	}
	if v := os.Getenv("HIVEKEEPER_KDF_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid HIVEKEEPER_KDF_ITERATIONS", "value", v, "error", err)
		} else {
			cfg.Security.KDFIterations = n
		}
	}
	if v := os.Getenv("HIVEKEEPER_DEV_FALLBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("ignoring invalid HIVEKEEPER_DEV_FALLBACK", "value", v, "error", err)
		} else {
			cfg.Security.DevFallback = b
		}
	}
	if level := os.Getenv("HIVEKEEPER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("HIVEKEEPER_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if listen := os.Getenv("HIVEKEEPER_METRICS_LISTEN"); listen != "" {
		cfg.Metrics.Listen = listen
		cfg.Metrics.Enabled = true
	}
}

// Validate checks the configuration for values the CLI cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "bbolt", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q (must be bbolt, sqlite or memory)", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.DataDir == "" && c.Storage.Path == "" {
		return errors.New("storage data_dir or path is required")
	}
	if len(c.Hive.Nodes) == 0 {
		return errors.New("at least one hive node is required")
	}
	if c.Hive.Timeout <= 0 {
		return fmt.Errorf("invalid hive timeout: %s", c.Hive.Timeout)
	}
	if c.Hive.RetryMax < 0 {
		return fmt.Errorf("invalid hive retry_max: %d", c.Hive.RetryMax)
	}
	if c.Session.InactivityTimeout < 0 {
		return fmt.Errorf("invalid inactivity timeout: %s", c.Session.InactivityTimeout)
	}
	if c.Session.PINLength < 4 || c.Session.PINLength > 12 {
		return fmt.Errorf("invalid pin_length: %d (must be 4-12)", c.Session.PINLength)
	}
	if err := util.ValidatePBKDF2Params(c.KDFParams()); err != nil {
		return err
	}
	if c.Device.MaxAttempts < 1 {
		return fmt.Errorf("invalid device max_attempts: %d", c.Device.MaxAttempts)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics listen address is required when metrics are enabled")
	}
	return nil
}

// KDFParams returns the PIN derivation parameters.
func (c *Config) KDFParams() util.PBKDF2Params {
	return util.PBKDF2Params{
		Iterations: c.Security.KDFIterations,
		KeyLen:     util.PBKDF2KeyLength,
	}
}

// StoragePath returns the backend file or DSN, defaulting into DataDir.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	switch c.Storage.Backend {
	case "sqlite":
		return filepath.Join(c.Storage.DataDir, "keys.sqlite")
	default:
		return filepath.Join(c.Storage.DataDir, "keys.db")
	}
}

// KeyFilePath returns the wrapping key file, defaulting into DataDir.
func (c *Config) KeyFilePath() string {
	if c.Storage.KeyFile != "" {
		return c.Storage.KeyFile
	}
	return filepath.Join(c.Storage.DataDir, "storage.key")
}
