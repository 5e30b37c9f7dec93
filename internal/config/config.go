// Package config manages the oreg client configuration file. It handles
// loading, saving, and initializing the configuration, with environment
// variable overrides for scripted use.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigDir  = "oreg"
	ConfigFile = "config.toml"

	// Environment overrides, applied after the file is read.
	EnvConfigPath = "OREG_CONFIG"
	EnvServerURL  = "OREG_SERVER_URL"
	EnvToken      = "OREG_TOKEN"
)

// Config represents the oreg client configuration.
type Config struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
	path      string // path to the config file
}

// Path returns the config file location: $OREG_CONFIG if set, otherwise
// <user config dir>/oreg/config.toml.
func Path() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(base, ConfigDir, ConfigFile), nil
}

// Load reads the configuration file and applies environment overrides.
// A missing file is not an error when both overrides are set.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	cfg := &Config{path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if url := os.Getenv(EnvServerURL); url != "" {
		cfg.ServerURL = url
	}
	if token := os.Getenv(EnvToken); token != "" {
		cfg.Token = token
	}

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("no server configured: run 'oreg configure' or set %s", EnvServerURL)
	}
	return cfg, nil
}

// Save writes the configuration to disk, creating parent directories as
// needed. The token is stored in the file, so it is written 0600.
func (c *Config) Save() error {
	if c.path == "" {
		path, err := Path()
		if err != nil {
			return err
		}
		c.path = path
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(c.path, data, 0600)
}

// Initialize writes a fresh configuration file, refusing to overwrite an
// existing one.
func Initialize(serverURL, token string) (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("config already exists at %s", path)
	}

	cfg := &Config{ServerURL: serverURL, Token: token, path: path}
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}
