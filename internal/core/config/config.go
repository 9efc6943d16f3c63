package config

import (
	"time"

	"github.com/opsforge/medic/internal/infra/queue"
	"github.com/opsforge/medic/internal/infra/storage/postgres"
	"github.com/opsforge/medic/internal/infra/upstream"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Database postgres.Config `yaml:"database"`
	Queue    queue.Config    `yaml:"queue"`
	Upstream upstream.Config `yaml:"upstream"`
	Healing  HealingConfig   `yaml:"healing"`
	Tasks    TasksConfig     `yaml:"tasks"`
	Targets  []TargetConfig  `yaml:"targets"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// HealingConfig tunes the self-healing engine.
type HealingConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// TasksConfig holds the scheduled task intervals. Zero disables a task.
type TasksConfig struct {
	SyncInterval     time.Duration `yaml:"sync_interval"`
	AuditInterval    time.Duration `yaml:"audit_interval"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	RetentionPeriod  time.Duration `yaml:"retention_period"` // 0 = keep forever
	RetentionCadence time.Duration `yaml:"retention_cadence"`
}

// TargetConfig declares one remote repository to keep in sync.
type TargetConfig struct {
	Name    string `yaml:"name"`
	RepoURL string `yaml:"repo_url"`
}
