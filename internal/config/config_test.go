package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slurmq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"TMP_DIR", "SLURMQ_POSTGRES_DSN", "SLURMQ_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10, cfg.Controller.MaxQueue)
	assert.Equal(t, 5*time.Second, cfg.Controller.PollInterval)
	assert.Equal(t, PolicyRequeue, cfg.Controller.FailurePolicy)
	assert.Equal(t, 3, cfg.Controller.MaxSubmitAttempts)
	assert.Equal(t, "sbatch", cfg.Slurm.SbatchPath)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
controller:
  max_queue: 2
  poll_interval: 250ms
  within: 1h
  failure_policy: abandon
slurm:
  script_dir: /scratch/q
  keep_scripts: true
journal:
  path: run.wal
report:
  path: report.json
  keep_backups: 3
api:
  enabled: true
  addr: 127.0.0.1:9000
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Controller.MaxQueue)
	assert.Equal(t, 250*time.Millisecond, cfg.Controller.PollInterval)
	assert.Equal(t, time.Hour, cfg.Controller.Within)
	assert.Equal(t, PolicyAbandon, cfg.Controller.FailurePolicy)
	// 未設定的欄位保留預設值
	assert.Equal(t, 3, cfg.Controller.MaxSubmitAttempts)
	assert.Equal(t, "squeue", cfg.Slurm.SqueuePath)
	assert.Equal(t, "/scratch/q", cfg.Slurm.ScriptDir)
	assert.True(t, cfg.Slurm.KeepScripts)
	assert.Equal(t, "run.wal", cfg.Journal.Path)
	assert.Equal(t, 3, cfg.Report.KeepBackups)
	assert.Equal(t, "127.0.0.1:9000", cfg.API.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := Load(missing, false)
	require.NoError(t, err)
	assert.Equal(t, Default().Controller, cfg.Controller)

	_, err = Load(missing, true)
	assert.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "controller: [unclosed\n")

	_, err := Load(path, true)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TMP_DIR", "/tmp/slurm-scripts")
	t.Setenv("SLURMQ_POSTGRES_DSN", "postgres://u@h/db")
	t.Setenv("SLURMQ_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/slurm-scripts", cfg.Slurm.ScriptDir)
	assert.Equal(t, "postgres://u@h/db", cfg.Report.PostgresDSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestScriptDirFileWinsOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TMP_DIR", "/tmp/env")
	path := writeConfig(t, "slurm:\n  script_dir: /from/file\n")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.Slurm.ScriptDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative max queue", func(c *Config) { c.Controller.MaxQueue = -1 }},
		{"zero max queue", func(c *Config) { c.Controller.MaxQueue = 0 }},
		{"zero poll interval", func(c *Config) { c.Controller.PollInterval = 0 }},
		{"negative within", func(c *Config) { c.Controller.Within = -time.Second }},
		{"unknown policy", func(c *Config) { c.Controller.FailurePolicy = "retry-forever" }},
		{"zero attempts", func(c *Config) { c.Controller.MaxSubmitAttempts = 0 }},
		{"api without addr", func(c *Config) { c.API.Enabled = true; c.API.Addr = "" }},
		{"grpc without addr", func(c *Config) { c.GRPC.Enabled = true; c.GRPC.Addr = "" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative backups", func(c *Config) { c.Report.KeepBackups = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestMaxQueueZeroMessage(t *testing.T) {
	cfg := Default()
	cfg.Controller.MaxQueue = 0
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "controller.max_queue must be >= 1, got 0")

	cfg.Controller.MaxQueue = 1
	assert.NoError(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
