// ============================================================================
// slurm-queue Performance Test Suite
// ============================================================================
//
// Package: test/integration
// File: performance_test.go
// Functionality: Throughput and queue-bound checks against the simulated cluster
//
// TestSystemThroughput:
//   - 300 jobs, 8 nodes, max_queue 16, runtimes 1-10ms
//   - every job finishes, and the cluster never holds more than max_queue
//
// TestSubmitFailuresUnderLoad:
//   - 30% of submits fail; requeue policy with 10 attempts
//   - every job is either finished or abandoned, none is lost
//
// Notes:
//   - results are affected by system load, bounds are generous
//
// ============================================================================

package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/slurm-queue/internal/controller"
	"github.com/ChuLiYu/slurm-queue/internal/slurm"
	"github.com/ChuLiYu/slurm-queue/internal/storage/wal"
	"github.com/ChuLiYu/slurm-queue/internal/worker"
)

// queueBoundRecorder 記錄每次 squeue 看到的最大佇列長度
type queueBoundRecorder struct {
	slurm.Scheduler

	mu      sync.Mutex
	maxSeen int
}

func (p *queueBoundRecorder) ListRunning(ctx context.Context) (map[int]struct{}, error) {
	running, err := p.Scheduler.ListRunning(ctx)
	if err == nil {
		p.mu.Lock()
		if len(running) > p.maxSeen {
			p.maxSeen = len(running)
		}
		p.mu.Unlock()
	}
	return running, err
}

func TestSystemThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping throughput test in short mode")
	}

	const jobCount, maxQueue = 300, 16
	recorder := &queueBoundRecorder{Scheduler: newCluster(t, worker.ClusterConfig{
		Nodes:      8,
		MinRuntime: time.Millisecond,
		MaxRuntime: 10 * time.Millisecond,
	})}

	ctrl, err := controller.NewController(controller.Config{
		MaxQueue:     maxQueue,
		PollInterval: 2 * time.Millisecond,
	}, recorder)
	require.NoError(t, err)

	require.NoError(t, ctrl.EnqueueJobs(generateTestJobs(t, jobCount, 0)))

	start := time.Now()
	ok := ctrl.Run(context.Background(), time.Minute)
	elapsed := time.Since(start)

	require.True(t, ok)
	assert.Equal(t, jobCount, ctrl.SuccessfulJobs())
	assert.LessOrEqual(t, recorder.maxSeen, maxQueue)

	t.Logf("throughput: %d jobs in %s (%.1f jobs/s), max queue seen %d",
		jobCount, elapsed, float64(jobCount)/elapsed.Seconds(), recorder.maxSeen)
}

func TestSubmitFailuresUnderLoad(t *testing.T) {
	dir := t.TempDir()
	cluster := newCluster(t, worker.ClusterConfig{
		Nodes:             4,
		SubmitFailureRate: 0.3,
	})

	journal, err := wal.NewWAL(filepath.Join(dir, "events.wal"), false)
	require.NoError(t, err)

	ctrl, err := controller.NewController(controller.Config{
		MaxQueue:          8,
		PollInterval:      2 * time.Millisecond,
		MaxSubmitAttempts: 10,
		Journal:           journal,
	}, cluster)
	require.NoError(t, err)

	require.NoError(t, ctrl.EnqueueJobs(generateTestJobs(t, 100, 0)))
	ctrl.Run(context.Background(), time.Minute)
	require.NoError(t, ctrl.Close())

	stats := ctrl.Stats()
	assert.Zero(t, stats["open"])
	assert.Zero(t, stats["scheduled"])
	assert.Equal(t, 100, stats["finished"]+stats["abandoned"])

	walStats, err := wal.GetWALStats(filepath.Join(dir, "events.wal"))
	require.NoError(t, err)
	assert.Positive(t, walStats.EventTypes[wal.EventSubmitFailed], "some submits should fail")
	assert.Equal(t, stats["finished"], walStats.EventTypes[wal.EventSubmit])
	assert.Equal(t, stats["abandoned"], walStats.EventTypes[wal.EventAbandon])
}
