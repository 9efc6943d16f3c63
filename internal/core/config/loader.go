package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Healing.ScanInterval == 0 {
		cfg.Healing.ScanInterval = time.Minute
	}
	if cfg.Healing.StaleAfter == 0 {
		cfg.Healing.StaleAfter = 30 * time.Minute
	}
	if cfg.Tasks.SyncInterval == 0 {
		cfg.Tasks.SyncInterval = 5 * time.Minute
	}
	if cfg.Tasks.AuditInterval == 0 {
		cfg.Tasks.AuditInterval = 15 * time.Minute
	}
	if cfg.Tasks.ProbeInterval == 0 {
		cfg.Tasks.ProbeInterval = time.Minute
	}
	if cfg.Tasks.RetentionCadence == 0 {
		cfg.Tasks.RetentionCadence = time.Hour
	}
	cfg.Queue = cfg.Queue.Defaults()
	cfg.Upstream = cfg.Upstream.Defaults()
}
