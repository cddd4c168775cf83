// Package config loads the server configuration from a YAML file and
// applies defaults. Command-line flags override whatever the file sets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout. Durations are strings ("60s", "5m")
// parsed with time.ParseDuration.
type fileConfig struct {
	HTTPAddr             string `yaml:"http_addr"`
	DataDir              string `yaml:"data_dir"`
	AuthToken            string `yaml:"auth_token"`
	AutoSaveInterval     string `yaml:"auto_save_interval"`
	AutoSaveThreshold    *int64 `yaml:"auto_save_threshold"`
	AofRewritePercentage *int   `yaml:"aof_rewrite_percentage"`
	MaintenanceInterval  string `yaml:"maintenance_interval"`
}

// Config is the resolved server configuration.
type Config struct {
	// HTTPAddr is the listen address of the REST API.
	HTTPAddr string

	// DataDir holds the AOF and snapshot files.
	DataDir string

	// AuthToken, when set, requires clients to send
	// "Authorization: Bearer <token>" on every API request.
	AuthToken string

	// AutoSaveInterval and AutoSaveThreshold gate background snapshots:
	// both must be exceeded before a snapshot is taken.
	AutoSaveInterval  time.Duration
	AutoSaveThreshold int64

	// AofRewritePercentage triggers log compaction at this growth factor.
	AofRewritePercentage int

	// MaintenanceInterval is how often deleted vectors are compacted away.
	MaintenanceInterval time.Duration
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTPAddr:             ":6440",
		DataDir:              "./data",
		AutoSaveInterval:     60 * time.Second,
		AutoSaveThreshold:    1000,
		AofRewritePercentage: 100,
		MaintenanceInterval:  10 * time.Second,
	}
}

// Load reads a YAML configuration file on top of the defaults. Fields the
// file does not mention keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if fc.HTTPAddr != "" {
		cfg.HTTPAddr = fc.HTTPAddr
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	cfg.AuthToken = fc.AuthToken
	if fc.AutoSaveThreshold != nil {
		cfg.AutoSaveThreshold = *fc.AutoSaveThreshold
	}
	if fc.AofRewritePercentage != nil {
		cfg.AofRewritePercentage = *fc.AofRewritePercentage
	}
	if fc.AutoSaveInterval != "" {
		d, err := time.ParseDuration(fc.AutoSaveInterval)
		if err != nil {
			return cfg, fmt.Errorf("invalid auto_save_interval: %w", err)
		}
		cfg.AutoSaveInterval = d
	}
	if fc.MaintenanceInterval != "" {
		d, err := time.ParseDuration(fc.MaintenanceInterval)
		if err != nil {
			return cfg, fmt.Errorf("invalid maintenance_interval: %w", err)
		}
		cfg.MaintenanceInterval = d
	}
	return cfg, nil
}
