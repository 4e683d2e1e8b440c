// ============================================================================
// slurm-queue 端到端測試：journal 與報告一致性
// ============================================================================
//
// Package: test/integration
// 文件: recovery_test.go
// 功能: 以模擬叢集跑完整的生命週期，再從 journal 與報告還原結果
//
// 驗證:
//   1. 所有任務都經過 ENQUEUE -> SUBMIT -> FINISH/CRASH
//   2. journal 的事件計數與報告的分區計數一致
//   3. 報告的 job number 與 journal 的 SUBMIT 事件一致
//
// ============================================================================

package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/slurm-queue/internal/controller"
	"github.com/ChuLiYu/slurm-queue/internal/snapshot"
	"github.com/ChuLiYu/slurm-queue/internal/storage/wal"
	"github.com/ChuLiYu/slurm-queue/internal/worker"
	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// generateTestJobs 產生 count 個任務，每 crashEvery 個使用 never 檢查
func generateTestJobs(t testing.TB, count, crashEvery int) []*types.Job {
	t.Helper()
	never, err := types.LookupCheck("never")
	require.NoError(t, err)

	jobs := make([]*types.Job, count)
	for i := 0; i < count; i++ {
		b := types.NewJobBuilder(fmt.Sprintf("echo %d", i)).
			SetDescription(fmt.Sprintf("job-%d", i))
		if crashEvery > 0 && i%crashEvery == 0 {
			b.SetOnFinished(types.NewCompletion(never, nil))
		}
		job, err := b.Build()
		require.NoError(t, err)
		jobs[i] = job
	}
	return jobs
}

func newCluster(t testing.TB, cfg worker.ClusterConfig) *worker.Cluster {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 7
	}
	cluster, err := worker.NewCluster(cfg)
	require.NoError(t, err)
	t.Cleanup(cluster.Close)
	return cluster
}

func TestEndToEndJournalMatchesReport(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "events.wal")
	reportPath := filepath.Join(dir, "report.json")

	cluster := newCluster(t, worker.ClusterConfig{
		Nodes:      4,
		MinRuntime: time.Millisecond,
		MaxRuntime: 10 * time.Millisecond,
	})

	journal, err := wal.NewWAL(journalPath, false)
	require.NoError(t, err)

	ctrl, err := controller.NewController(controller.Config{
		MaxQueue:     6,
		PollInterval: 5 * time.Millisecond,
		Journal:      journal,
		Report:       snapshot.NewManager(reportPath),
	}, cluster)
	require.NoError(t, err)

	require.NoError(t, ctrl.EnqueueJobs(generateTestJobs(t, 50, 10)))
	require.True(t, ctrl.Run(context.Background(), 30*time.Second))
	require.NoError(t, ctrl.Close())

	stats := ctrl.Stats()
	assert.Equal(t, 50, stats["finished"])
	assert.Equal(t, 45, stats["successful"])
	assert.Equal(t, 5, stats["crashed"])
	assert.Equal(t, 50, cluster.Completed())

	counts := make(map[wal.EventType]int)
	submitted := make(map[types.JobID]int)
	require.NoError(t, wal.ReadEvents(journalPath, func(ev wal.Event) error {
		counts[ev.Type]++
		if ev.Type == wal.EventSubmit {
			require.NotNil(t, ev.Number)
			submitted[ev.JobID] = *ev.Number
		}
		return nil
	}))
	assert.Equal(t, 50, counts[wal.EventEnqueue])
	assert.Equal(t, 50, counts[wal.EventSubmit])
	assert.Equal(t, 45, counts[wal.EventFinish])
	assert.Equal(t, 5, counts[wal.EventCrash])
	assert.NoError(t, wal.ValidateWAL(journalPath))

	rep, err := snapshot.NewManager(reportPath).Load()
	require.NoError(t, err)
	assert.True(t, rep.Drained)
	assert.Equal(t, stats, rep.Stats)
	require.Len(t, rep.Jobs, 50)
	for _, v := range rep.Jobs {
		require.NotNil(t, v.Number, v.ID)
		assert.Equal(t, submitted[v.ID], *v.Number, "journal and report disagree on %s", v.ID)
	}
}

func TestInterruptedRunLeavesAuditTrail(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "events.wal")

	cluster := newCluster(t, worker.ClusterConfig{Nodes: 1, MinRuntime: time.Hour})
	journal, err := wal.NewWAL(journalPath, true)
	require.NoError(t, err)

	ctrl, err := controller.NewController(controller.Config{
		MaxQueue:     2,
		PollInterval: 5 * time.Millisecond,
		Journal:      journal,
		Report:       snapshot.NewManager(filepath.Join(dir, "report.json")),
	}, cluster)
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.EnqueueJobs(generateTestJobs(t, 5, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.False(t, ctrl.Run(ctx, time.Minute))

	stats := ctrl.Stats()
	assert.Equal(t, 3, stats["open"])
	assert.Equal(t, 2, stats["scheduled"])

	walStats, err := wal.GetWALStats(journalPath)
	require.NoError(t, err)
	assert.Equal(t, 5, walStats.EventTypes[wal.EventEnqueue])
	assert.Equal(t, 2, walStats.EventTypes[wal.EventSubmit])
	assert.Zero(t, walStats.EventTypes[wal.EventFinish])
}
