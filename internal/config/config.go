// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads the kmring configuration from defaults, the
// kmring.yaml file, KMRING_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the complete kmring configuration.
type Config struct {
	Keyring  Keyring `mapstructure:"keyring" yaml:"keyring"`
	Refresh  Refresh `mapstructure:"refresh" yaml:"refresh"`
	Journal  Journal `mapstructure:"journal" yaml:"journal"`
	Language string  `mapstructure:"language" yaml:"language"`
	Log      Log     `mapstructure:"log" yaml:"log"`
}

type Keyring struct {
	// Backend is "pgp" or "ssh".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// HomeDir is the key directory. Empty selects DefaultHomeDir.
	HomeDir   string `mapstructure:"homedir" yaml:"homedir,omitempty"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
}

type Refresh struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type Journal struct {
	// Type is sqlite, postgres, mysql or none.
	Type string `mapstructure:"type" yaml:"type"`
	// DSN is empty for the default sqlite file next to the config file.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Defaults returns the built-in configuration values keyed by viper path.
func Defaults() map[string]any {
	return map[string]any{
		"keyring.backend":    "pgp",
		"keyring.homedir":    "",
		"keyring.batch_size": 50,
		"refresh.enabled":    true,
		"refresh.debounce":   "500ms",
		"journal.type":       "sqlite",
		"journal.dsn":        "",
		"language":           "en",
		"log.level":          "info",
	}
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"backend":     "keyring.backend",
	"homedir":     "keyring.homedir",
	"batch-size":  "keyring.batch_size",
	"journal":     "journal.type",
	"journal-dsn": "journal.dsn",
	"lang":        "language",
	"log-level":   "log.level",
}

// GetConfigPath returns the full path of the user or system configuration
// file.
func GetConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "kmring")
		default:
			configDir = "/etc/kmring"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "kmring")
	}

	return filepath.Join(configDir, "kmring.yaml"), nil
}

// LoadConfig builds a T from defaults, the first kmring.yaml found (or
// configFile when given), the environment and the flags of cmd.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, configFile *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("kmring")
	v.SetConfigType("yaml")
	if configFile != nil && *configFile != "" {
		v.SetConfigFile(*configFile)
	}
	if userConfigPath, err := GetConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := GetConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("kmring")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			key, ok := FlagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return c, bindErr
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// Load is LoadConfig for Config with the built-in defaults.
func Load(cmd *cobra.Command, configFile *string) (Config, error) {
	c, err := LoadConfig[Config](cmd, Defaults(), configFile)
	if err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	switch c.Keyring.Backend {
	case "pgp", "ssh":
	default:
		return fmt.Errorf("unsupported keyring backend %q (want pgp or ssh)", c.Keyring.Backend)
	}
	switch c.Journal.Type {
	case "sqlite", "postgres", "mysql", "none", "":
	default:
		return fmt.Errorf("unsupported journal type %q", c.Journal.Type)
	}
	if c.Keyring.BatchSize < 0 {
		return fmt.Errorf("keyring.batch_size must not be negative")
	}
	return nil
}

// DefaultHomeDir is the key directory used when none is configured: ~/.ssh
// for the ssh backend and a kmring owned directory for pgp rings.
func DefaultHomeDir(backend string) (string, error) {
	if backend == "ssh" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".ssh"), nil
	}
	path, err := GetConfigPath(false)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(path), "pgp"), nil
}

// HomeDir returns the configured key directory or the default one.
func (c Config) HomeDir() (string, error) {
	if c.Keyring.HomeDir != "" {
		return c.Keyring.HomeDir, nil
	}
	return DefaultHomeDir(c.Keyring.Backend)
}

// JournalDSN returns the configured DSN, defaulting sqlite to journal.db next
// to the user configuration file.
func (c Config) JournalDSN() (string, error) {
	if c.Journal.DSN != "" || c.Journal.Type != "sqlite" {
		return c.Journal.DSN, nil
	}
	path, err := GetConfigPath(false)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "journal.db"), nil
}

// WriteConfigFile writes c as YAML to the user or system configuration file.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := GetConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}
	return os.WriteFile(path, data, 0o600)
}
