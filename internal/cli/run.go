package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/slurm-queue/internal/api"
	"github.com/ChuLiYu/slurm-queue/internal/config"
	"github.com/ChuLiYu/slurm-queue/internal/controller"
	"github.com/ChuLiYu/slurm-queue/internal/jobspec"
	"github.com/ChuLiYu/slurm-queue/internal/metrics"
	"github.com/ChuLiYu/slurm-queue/internal/report"
	"github.com/ChuLiYu/slurm-queue/internal/server"
	"github.com/ChuLiYu/slurm-queue/internal/slurm"
	"github.com/ChuLiYu/slurm-queue/internal/snapshot"
	"github.com/ChuLiYu/slurm-queue/internal/storage/wal"
	"github.com/ChuLiYu/slurm-queue/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// newScheduler builds the sbatch/squeue adapter; tests replace it
var newScheduler = func(sc config.SlurmConfig) slurm.Scheduler {
	return slurm.NewClient(slurm.Config{
		SbatchPath:  sc.SbatchPath,
		SqueuePath:  sc.SqueuePath,
		ScriptDir:   sc.ScriptDir,
		KeepScripts: sc.KeepScripts,
	}, slurm.ExecRunner{Timeout: sc.CommandTimeout})
}

func buildRunCommand() *cobra.Command {
	var jobFile string
	var within time.Duration
	var maxQueue int
	var simulate bool
	var sim worker.ClusterConfig

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the controller and submit jobs until they are drained",
		Long: `Load jobs from a YAML job file, submit them to Slurm keeping at most
max_queue in the queue at once, and wait until every job has left Slurm or
the deadline passes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("within") {
				cfg.Controller.Within = within
			}
			if cmd.Flags().Changed("max-queue") {
				cfg.Controller.MaxQueue = maxQueue
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			var sched slurm.Scheduler
			if simulate {
				cluster, err := worker.NewCluster(sim)
				if err != nil {
					return err
				}
				defer cluster.Close()
				sched = cluster
			} else {
				sched = newScheduler(cfg.Slurm)
			}
			return runJobs(cmd, jobFile, sched)
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "YAML job file")
	cmd.Flags().DurationVar(&within, "within", 0, "deadline for the whole run (overrides controller.within)")
	cmd.Flags().IntVar(&maxQueue, "max-queue", 0, "max jobs in Slurm at once (overrides controller.max_queue)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "run against an in-process simulated cluster instead of sbatch/squeue")
	cmd.Flags().IntVar(&sim.Nodes, "sim-nodes", 4, "simulated cluster: jobs running at once")
	cmd.Flags().DurationVar(&sim.MinRuntime, "sim-min-runtime", time.Second, "simulated cluster: shortest job runtime")
	cmd.Flags().DurationVar(&sim.MaxRuntime, "sim-max-runtime", 5*time.Second, "simulated cluster: longest job runtime")
	cmd.Flags().Float64Var(&sim.SubmitFailureRate, "sim-failure-rate", 0, "simulated cluster: probability that a submit fails")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runJobs(cmd *cobra.Command, jobFile string, sched slurm.Scheduler) error {
	file, err := jobspec.LoadFile(jobFile)
	if err != nil {
		return err
	}
	jobs, err := file.Build()
	if err != nil {
		return fmt.Errorf("invalid job file %s: %w", jobFile, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrlConfig := controller.Config{
		MaxQueue:          cfg.Controller.MaxQueue,
		PollInterval:      cfg.Controller.PollInterval,
		FailurePolicy:     controller.FailurePolicy(cfg.Controller.FailurePolicy),
		MaxSubmitAttempts: cfg.Controller.MaxSubmitAttempts,
		KeepBackups:       cfg.Report.KeepBackups,
	}

	if cfg.Journal.Path != "" {
		journal, err := openJournal(cfg.Journal)
		if err != nil {
			return err
		}
		ctrlConfig.Journal = journal
	}

	if cfg.Report.Path != "" {
		ctrlConfig.Report = snapshot.NewManager(cfg.Report.Path)
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := metrics.NewCollector(reg)
		ctrlConfig.Metrics = collector
		metricsHandler = collector.Handler()
	}

	if cfg.Report.PostgresDSN != "" {
		recorder, db, err := report.OpenPostgres(ctx, cfg.Report.PostgresDSN, cfg.Report.Table)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := recorder.EnsureSchema(ctx); err != nil {
			return err
		}
		ctrlConfig.Recorder = recorder
	}

	ctrl, err := controller.NewController(ctrlConfig, sched)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			slog.Error("Failed to close journal", "error", err)
		}
	}()

	if err := ctrl.EnqueueJobs(jobs); err != nil {
		return fmt.Errorf("failed to enqueue jobs: %w", err)
	}
	slog.Info("Jobs loaded", "file", jobFile, "count", len(jobs))

	shutdown, err := startServers(ctrl, metricsHandler)
	if err != nil {
		return err
	}
	defer shutdown()

	ok := ctrl.Run(ctx, cfg.Controller.Within)

	printStats(cmd.OutOrStdout(), ctrl.Stats())
	if !ok {
		return ErrIncomplete
	}
	return nil
}

// openJournal opens the event journal, rotating an old one away when asked
func openJournal(jc config.JournalConfig) (*wal.WAL, error) {
	journal, err := wal.NewWAL(jc.Path, jc.SyncOnAppend)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if jc.RotateOnStart && journal.GetLastSeq() > 0 {
		if err := journal.Rotate(); err != nil {
			journal.Close()
			return nil, fmt.Errorf("failed to rotate journal: %w", err)
		}
	}
	return journal, nil
}

// startServers starts the enabled HTTP, metrics and gRPC listeners.
// The returned func stops all of them.
func startServers(ctrl *controller.Controller, metricsHandler http.Handler) (func(), error) {
	var stops []func()
	shutdown := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API.Addr, ctrl, metricsHandler)
		stops = append(stops, serveHTTP(srv, "api"))
	}

	if metricsHandler != nil && cfg.Metrics.Addr != "" {
		r := mux.NewRouter()
		r.Handle("/metrics", metricsHandler).Methods("GET")
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		stops = append(stops, serveHTTP(srv, "metrics"))
	}

	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			shutdown()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
		}
		grpcServer := server.NewGRPCServer(ctrl)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				slog.Error("gRPC server failed", "error", err)
			}
		}()
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		stops = append(stops, grpcServer.GracefulStop)
	}

	return shutdown, nil
}

func serveHTTP(srv *http.Server, name string) func() {
	go func() {
		slog.Info("HTTP server listening", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "server", name, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown failed", "server", name, "error", err)
		}
	}
}

// statsOrder 輸出順序
var statsOrder = []string{"total", "open", "scheduled", "finished", "successful", "crashed", "abandoned"}

func printStats(w io.Writer, stats map[string]int) {
	seen := make(map[string]bool, len(stats))
	for _, k := range statsOrder {
		if v, ok := stats[k]; ok {
			fmt.Fprintf(w, "%-11s %d\n", k+":", v)
			seen[k] = true
		}
	}

	var rest []string
	for k := range stats {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(w, "%-11s %d\n", k+":", stats[k])
	}
}
