// Package config loads service configuration from an optional YAML file
// with environment overrides. A missing file yields the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds ledger service configuration.
type Config struct {
	// DataDir is the storage root. The capsule ledger lives under
	// <DataDir>/ledger, rollups under <DataDir>/rollups.
	DataDir string `yaml:"data_dir"`

	// Port the HTTP service listens on. Overridable with SERVICE_PORT.
	Port string `yaml:"port"`

	// SignersPath points at the trusted-signer registry file.
	SignersPath string `yaml:"signers_path"`

	// DefaultSeed feeds deterministic orchestration when a request does not
	// supply one.
	DefaultSeed string `yaml:"default_seed"`

	// ListLimitMax caps the limit parameter on ledger listings.
	ListLimitMax int `yaml:"list_limit_max"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:      "data",
		Port:         "8080",
		DefaultSeed:  "api-route",
		ListLimitMax: 5000,
	}
}

// Load reads path (YAML) over the defaults, then applies env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LEDGER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LEDGER_SIGNERS_PATH"); v != "" {
		c.SignersPath = v
	}
	if v := os.Getenv("LEDGER_LIST_LIMIT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ListLimitMax = n
		}
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.ListLimitMax <= 0 {
		return fmt.Errorf("config: list_limit_max must be positive")
	}
	return nil
}
