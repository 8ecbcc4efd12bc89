// Manages the store configuration stored in config.yaml.

// Package config loads the statestore configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file name inside the data directory.
const FileName = "config.yaml"

// Config stores the store configuration.
// Loaded from config.yaml, created with defaults if missing.
type Config struct {
	// StoragePrefix is prepended to every namespace file name, so several
	// applications can share a data directory.
	StoragePrefix string `yaml:"storage_prefix"`

	// Spool configures replication between processes.
	Spool Spool `yaml:"spool"`

	// Defaults holds the default document of each namespace, merged under
	// whatever is stored.
	Defaults map[string]any `yaml:"defaults,omitempty"`

	// LogLevel is one of debug, info, warn or error. Flags override it.
	LogLevel string `yaml:"log_level"`
}

// Spool configures the shared spool directory used to broadcast changes.
type Spool struct {
	// Enabled turns replication on.
	Enabled bool `yaml:"enabled"`

	// TTL is how long a message stays in the spool.
	TTL time.Duration `yaml:"ttl"`
}

// Validate checks that the spool settings are usable.
func (s *Spool) Validate() error {
	if s.TTL < 0 {
		return errors.New("ttl must be non-negative")
	}
	if s.Enabled && s.TTL < time.Second {
		return errors.New("ttl must be at least 1s when enabled")
	}
	return nil
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Spool:    Spool{Enabled: true, TTL: 30 * time.Second},
		LogLevel: "info",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if strings.ContainsAny(c.StoragePrefix, `/\`) {
		return errors.New("storage_prefix must not contain a path separator")
	}
	if err := c.Spool.Validate(); err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	for ns := range c.Defaults {
		if ns == "" || strings.Contains(ns, ".") {
			return fmt.Errorf("defaults: invalid namespace %q", ns)
		}
	}
	return nil
}

// Level parses LogLevel. An empty value means info.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return l, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Load loads configuration from dataDir/config.yaml.
// Creates the file with defaults if it doesn't exist.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/config.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil { //nolint:gosec // G301: data directory
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}
