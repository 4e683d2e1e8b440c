// ============================================================================
// slurm-queue CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the queue controller
//
// Command Structure:
//   slurmq                         # Root command
//   ├── run      -f jobs.yaml      # Submit jobs through Slurm until drained
//   ├── render   -f jobs.yaml      # Print the sbatch scripts without submitting
//   ├── enqueue  -f jobs.yaml      # Send jobs to a running controller (gRPC)
//   ├── status                     # Query a running controller (gRPC)
//   ├── report                     # Print the last run report
//   ├── history                    # Dump the event journal
//   ├── --config, -c               # Config file (default configs/slurmq.yaml)
//   └── --version
//
// Configuration:
//   YAML, see internal/config. A missing default config file falls back to
//   built-in defaults; an explicit --config must exist.
//
// Signal Handling:
//   run cancels the controller on SIGINT / SIGTERM. The controller stops
//   between cycles, writes its report and the command exits non-zero when
//   jobs are left unsubmitted.
//
// ============================================================================

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/slurm-queue/internal/config"
)

const defaultConfigFile = "configs/slurmq.yaml"

var (
	configFile string
	cfg        *config.Config
)

// ErrIncomplete is returned by run when jobs were left open or abandoned
var ErrIncomplete = errors.New("not every job was submitted")

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "slurmq",
		Short: "slurmq: a bounded submission queue for Slurm",
		Long: `slurmq keeps at most max_queue jobs in Slurm at a time:
- submits jobs with sbatch in FIFO order
- polls squeue and runs a completion check when a job leaves the queue
- journals lifecycle events and writes a run report
- exposes stats over HTTP, gRPC and Prometheus`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("config")
			loaded, err := config.Load(configFile, explicit)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded

			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", defaultConfigFile, "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildRenderCommand())
	rootCmd.AddCommand(buildEnqueueCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildReportCommand())
	rootCmd.AddCommand(buildHistoryCommand())

	return rootCmd
}

// newLogger builds the slog handler selected by log.format
func newLogger(lc config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(lc.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", lc.Format)
	}
}
