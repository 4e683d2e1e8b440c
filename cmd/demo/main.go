package main

// ============================================================================
// demo: drive the controller against the simulated cluster
//
//   go run ./cmd/demo -jobs 40 -max-queue 8 -nodes 4
//
// Writes the event journal and run report into -dir, then prints the
// final partition counts. Ctrl+C stops the run early; the report still
// records which jobs were never submitted.
// ============================================================================

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ChuLiYu/slurm-queue/internal/controller"
	"github.com/ChuLiYu/slurm-queue/internal/snapshot"
	"github.com/ChuLiYu/slurm-queue/internal/storage/wal"
	"github.com/ChuLiYu/slurm-queue/internal/worker"
	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

func main() {
	jobCount := flag.Int("jobs", 40, "number of jobs to enqueue")
	maxQueue := flag.Int("max-queue", 8, "max jobs in the cluster at once")
	nodes := flag.Int("nodes", 4, "simulated nodes")
	failureRate := flag.Float64("failure-rate", 0.1, "probability that a submit fails")
	within := flag.Duration("within", time.Minute, "deadline for the run")
	dir := flag.String("dir", "demo-data", "journal and report directory")
	flag.Parse()

	if err := run(*jobCount, *maxQueue, *nodes, *failureRate, *within, *dir); err != nil {
		fmt.Fprintf(os.Stderr, "demo: %v\n", err)
		os.Exit(1)
	}
}

func run(jobCount, maxQueue, nodes int, failureRate float64, within time.Duration, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	cluster, err := worker.NewCluster(worker.ClusterConfig{
		Nodes:             nodes,
		MinRuntime:        200 * time.Millisecond,
		MaxRuntime:        2 * time.Second,
		SubmitFailureRate: failureRate,
	})
	if err != nil {
		return err
	}
	defer cluster.Close()

	journal, err := wal.NewWAL(filepath.Join(dir, "events.log"), false)
	if err != nil {
		return err
	}

	ctrl, err := controller.NewController(controller.Config{
		MaxQueue:     maxQueue,
		PollInterval: 250 * time.Millisecond,
		Journal:      journal,
		Report:       snapshot.NewManager(filepath.Join(dir, "report.json")),
	}, cluster)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	timestamp := time.Now().Unix()
	for i := 1; i <= jobCount; i++ {
		job, err := types.NewJobBuilder(fmt.Sprintf("echo job_%d", i)).
			SetDescription(fmt.Sprintf("demo-%03d-%d", i, timestamp)).
			Build()
		if err != nil {
			return err
		}
		if err := ctrl.Enqueue(job); err != nil {
			return err
		}
	}
	fmt.Printf("✓ Enqueued %d jobs (max_queue=%d, nodes=%d)\n", jobCount, maxQueue, nodes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	ok := ctrl.Run(ctx, within)

	stats := ctrl.Stats()
	fmt.Printf("\n📊 Final Status (%s):\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Open:      %d\n", stats["open"])
	fmt.Printf("  Scheduled: %d\n", stats["scheduled"])
	fmt.Printf("  Finished:  %d\n", stats["finished"])
	fmt.Printf("  Abandoned: %d\n", stats["abandoned"])
	fmt.Printf("  Cluster completed: %d\n", cluster.Completed())
	fmt.Printf("\nJournal: %s\nReport:  %s\n", journal.Path(), filepath.Join(dir, "report.json"))

	if !ok {
		slog.Warn("Run ended with unsubmitted jobs")
	}
	return nil
}
