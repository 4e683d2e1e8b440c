// ============================================================================
// slurm-queue Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML configuration with built-in defaults and env overrides
//
// Example (configs/slurmq.yaml):
//
//   controller:
//     max_queue: 10
//     poll_interval: 5s
//     within: 24h
//     failure_policy: requeue
//     max_submit_attempts: 3
//   slurm:
//     script_dir: /scratch/me/slurmq
//     command_timeout: 30s
//   journal:
//     path: slurmq.wal
//   report:
//     path: slurmq-report.json
//     postgres_dsn: postgres://user@db/slurmq?sslmode=disable
//   api:
//     enabled: true
//     addr: :8080
//
// Environment overrides:
//   TMP_DIR              - script directory when slurm.script_dir is empty
//   SLURMQ_POSTGRES_DSN  - report.postgres_dsn
//   SLURMQ_LOG_LEVEL     - log.level
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Failure policies for jobs whose submission failed
const (
	PolicyRequeue = "requeue"
	PolicyAbandon = "abandon"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// ControllerConfig admission loop settings
type ControllerConfig struct {
	MaxQueue          int           `yaml:"max_queue"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Within            time.Duration `yaml:"within"` // 0 means one year
	FailurePolicy     string        `yaml:"failure_policy"`
	MaxSubmitAttempts int           `yaml:"max_submit_attempts"`
}

// SlurmConfig scheduler adapter settings
type SlurmConfig struct {
	SbatchPath     string        `yaml:"sbatch_path"`
	SqueuePath     string        `yaml:"squeue_path"`
	ScriptDir      string        `yaml:"script_dir"`
	KeepScripts    bool          `yaml:"keep_scripts"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// JournalConfig lifecycle event journal, empty path disables it
type JournalConfig struct {
	Path          string `yaml:"path"`
	SyncOnAppend  bool   `yaml:"sync_on_append"`
	RotateOnStart bool   `yaml:"rotate_on_start"`
}

// ReportConfig run report and outcome sink
type ReportConfig struct {
	Path        string `yaml:"path"`
	KeepBackups int    `yaml:"keep_backups"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Table       string `yaml:"table"`
}

// MetricsConfig Prometheus metrics; Addr starts a standalone /metrics server
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ListenConfig a network surface that can be switched on
type ListenConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig slog handler settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Config represents the complete configuration
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Slurm      SlurmConfig      `yaml:"slurm"`
	Journal    JournalConfig    `yaml:"journal"`
	Report     ReportConfig     `yaml:"report"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	API        ListenConfig     `yaml:"api"`
	GRPC       ListenConfig     `yaml:"grpc"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Controller: ControllerConfig{
			MaxQueue:          10,
			PollInterval:      5 * time.Second,
			FailurePolicy:     PolicyRequeue,
			MaxSubmitAttempts: 3,
		},
		Slurm: SlurmConfig{
			SbatchPath:     "sbatch",
			SqueuePath:     "squeue",
			CommandTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
		API:     ListenConfig{Addr: ":8080"},
		GRPC:    ListenConfig{Addr: ":50051"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies env overrides and validates.
//
// A missing file is an error only when mustExist is set; otherwise the
// defaults are used.
func Load(path string, mustExist bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !mustExist:
		// 使用預設值
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) applyEnv() {
	// 設定檔明確指定時優先
	if c.Slurm.ScriptDir == "" {
		c.Slurm.ScriptDir = getEnv("TMP_DIR", "")
	}
	c.Report.PostgresDSN = getEnv("SLURMQ_POSTGRES_DSN", c.Report.PostgresDSN)
	c.Log.Level = getEnv("SLURMQ_LOG_LEVEL", c.Log.Level)
}

// Validate checks value ranges and enums
func (c *Config) Validate() error {
	var errs []error

	// 0 會讓 run 一直輪詢到截止時間而不提交任何任務
	if c.Controller.MaxQueue < 1 {
		errs = append(errs, fmt.Errorf("controller.max_queue must be >= 1, got %d", c.Controller.MaxQueue))
	}
	if c.Controller.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("controller.poll_interval must be positive, got %s", c.Controller.PollInterval))
	}
	if c.Controller.Within < 0 {
		errs = append(errs, fmt.Errorf("controller.within must be >= 0, got %s", c.Controller.Within))
	}
	switch c.Controller.FailurePolicy {
	case PolicyRequeue, PolicyAbandon:
	default:
		errs = append(errs, fmt.Errorf("controller.failure_policy must be %q or %q, got %q",
			PolicyRequeue, PolicyAbandon, c.Controller.FailurePolicy))
	}
	if c.Controller.MaxSubmitAttempts < 1 {
		errs = append(errs, fmt.Errorf("controller.max_submit_attempts must be >= 1, got %d", c.Controller.MaxSubmitAttempts))
	}
	if c.Slurm.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("slurm.command_timeout must be >= 0, got %s", c.Slurm.CommandTimeout))
	}
	if c.Report.KeepBackups < 0 {
		errs = append(errs, fmt.Errorf("report.keep_backups must be >= 0, got %d", c.Report.KeepBackups))
	}
	if c.API.Enabled && c.API.Addr == "" {
		errs = append(errs, errors.New("api.addr is required when api is enabled"))
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		errs = append(errs, errors.New("grpc.addr is required when grpc is enabled"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
