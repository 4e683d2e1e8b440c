// ============================================================================
// slurm-queue 任務分區管理器
// ============================================================================
//
// Package: internal/jobmanager
// 文件: job_manager.go
// 功能: 持有 Controller 的所有任務分區，所有狀態變更都在鎖內完成
//
// 分區 (Partitions):
//   open      - 等待提交的任務，FIFO 佇列
//   admitting - 已從 open 取出、正在呼叫 sbatch 的任務
//   scheduled - 已提交給 Slurm、持有外部編號的任務
//   finished  - 已離開 Slurm 並完成檢查 (FINISHED / CRASHED)
//   abandoned - 提交失敗次數過多而放棄的任務
//
// 分區轉換只會往前：
//   open → admitting → scheduled → finished
//   admitting → open (Requeue) 或 admitting → abandoned (Abandon)
//
// 並發安全:
//   Controller 是唯一的寫入者；HTTP / gRPC 觀察者透過 RLock 讀取視圖，
//   也可以經由 Enqueue 加入新任務。
//
// ============================================================================

package jobmanager

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務 ID 重複
	ErrDuplicateJob = errors.New("job already exists")
	// 任務不存在
	ErrJobNotFound = errors.New("job not found")
	// 任務不在預期的分區
	ErrWrongPartition = errors.New("job not in expected partition")
	// 加入的任務不是 PENDING
	ErrNotPending = errors.New("job is not pending")
)

// Partition 任務目前所在分區
type Partition string

const (
	PartitionOpen      Partition = "open"
	PartitionAdmitting Partition = "admitting"
	PartitionScheduled Partition = "scheduled"
	PartitionFinished  Partition = "finished"
	PartitionAbandoned Partition = "abandoned"
)

// entry 包裝任務與分區層級的簿記資料
type entry struct {
	job       *types.Job
	partition Partition
	attempts  int    // 提交失敗次數
	lastError string // 最近一次提交失敗原因
}

func (e *entry) view() types.JobView {
	v := e.job.View()
	v.SubmitAttempts = e.attempts
	v.Abandoned = e.partition == PartitionAbandoned
	v.LastError = e.lastError
	return v
}

// JobManager 任務分區管理器
type JobManager struct {
	mu        sync.RWMutex
	jobs      map[types.JobID]*entry // 所有任務
	order     []types.JobID          // 加入順序，用於 List
	queue     []types.JobID          // open 佇列
	scheduled map[int]types.JobID    // 外部編號 → 任務
	counts    map[Partition]int
	succeeded int
	crashed   int
}

// NewJobManager 建立空的分區管理器
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[types.JobID]*entry),
		order:     make([]types.JobID, 0),
		queue:     make([]types.JobID, 0),
		scheduled: make(map[int]types.JobID),
		counts:    make(map[Partition]int),
	}
}

// Enqueue 將 PENDING 任務加入 open 佇列尾端，取得任務的所有權
func (jm *JobManager) Enqueue(job *types.Job) error {
	if job.Status() != types.StatusPending {
		return fmt.Errorf("%w: job %s is %s", ErrNotPending, job.ID(), job.Status())
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.jobs[job.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID())
	}

	jm.jobs[job.ID()] = &entry{job: job, partition: PartitionOpen}
	jm.order = append(jm.order, job.ID())
	jm.queue = append(jm.queue, job.ID())
	jm.counts[PartitionOpen]++
	return nil
}

// PopOpen 取出 open 佇列的第一個任務並移到 admitting
//
// 回傳的指標只可讀取不可變的描述欄位；狀態變更必須經由
// MarkScheduled / Requeue / Abandon。佇列為空時回傳 nil。
func (jm *JobManager) PopOpen() *types.Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if len(jm.queue) == 0 {
		return nil
	}

	id := jm.queue[0]
	jm.queue = jm.queue[1:]

	e := jm.jobs[id]
	jm.move(e, PartitionAdmitting)
	return e.job
}

// MarkScheduled 指派外部編號並移到 scheduled
//
// 重複指派編號會 panic（見 types.Job.MarkSubmitted）。
func (jm *JobManager) MarkScheduled(id types.JobID, number int) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, err := jm.lookup(id, PartitionAdmitting)
	if err != nil {
		return err
	}
	if other, taken := jm.scheduled[number]; taken {
		return fmt.Errorf("job %s: number %d already held by %s", id, number, other)
	}
	if err := e.job.MarkSubmitted(number); err != nil {
		return err
	}

	jm.scheduled[number] = id
	jm.move(e, PartitionScheduled)
	return nil
}

// Attempts 回傳任務目前的提交失敗次數
func (jm *JobManager) Attempts(id types.JobID) int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	if e, ok := jm.jobs[id]; ok {
		return e.attempts
	}
	return 0
}

// Requeue 記錄一次提交失敗，並將任務放回 open 佇列尾端
//
// 返回值：累計失敗次數
func (jm *JobManager) Requeue(id types.JobID, cause error) (int, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, err := jm.lookup(id, PartitionAdmitting)
	if err != nil {
		return 0, err
	}

	jm.recordFailure(e, cause)
	jm.queue = append(jm.queue, id)
	jm.move(e, PartitionOpen)
	return e.attempts, nil
}

// Abandon 記錄一次提交失敗，並放棄該任務
func (jm *JobManager) Abandon(id types.JobID, cause error) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, err := jm.lookup(id, PartitionAdmitting)
	if err != nil {
		return err
	}

	jm.recordFailure(e, cause)
	jm.move(e, PartitionAbandoned)
	return nil
}

// Scheduled 回傳 scheduled 分區的複本（外部編號 → 任務 ID）
func (jm *JobManager) Scheduled() map[int]types.JobID {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	out := make(map[int]types.JobID, len(jm.scheduled))
	for n, id := range jm.scheduled {
		out[n] = id
	}
	return out
}

// Complete 執行任務的完成檢查，移到 finished 並回傳最終狀態
func (jm *JobManager) Complete(id types.JobID) (types.JobStatus, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	e, err := jm.lookup(id, PartitionScheduled)
	if err != nil {
		return "", err
	}

	number, _ := e.job.Number()
	status, err := e.job.Complete()
	if err != nil {
		return status, err
	}

	delete(jm.scheduled, number)
	jm.move(e, PartitionFinished)
	if status == types.StatusFinished {
		jm.succeeded++
	} else {
		jm.crashed++
	}
	return status, nil
}

// Stats 取得各分區任務數量
//
// "open" 包含正在提交中的任務，"finished" 包含成功與失敗。
func (jm *JobManager) Stats() map[string]int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return map[string]int{
		"open":       jm.counts[PartitionOpen] + jm.counts[PartitionAdmitting],
		"scheduled":  jm.counts[PartitionScheduled],
		"finished":   jm.counts[PartitionFinished],
		"successful": jm.succeeded,
		"crashed":    jm.crashed,
		"abandoned":  jm.counts[PartitionAbandoned],
		"total":      len(jm.jobs),
	}
}

// Get 取得單一任務的視圖
func (jm *JobManager) Get(id types.JobID) (types.JobView, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	e, ok := jm.jobs[id]
	if !ok {
		return types.JobView{}, false
	}
	return e.view(), true
}

// PartitionOf 回傳任務所在分區
func (jm *JobManager) PartitionOf(id types.JobID) (Partition, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	e, ok := jm.jobs[id]
	if !ok {
		return "", false
	}
	return e.partition, true
}

// List 依加入順序回傳所有任務視圖
func (jm *JobManager) List() []types.JobView {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	views := make([]types.JobView, 0, len(jm.order))
	for _, id := range jm.order {
		views = append(views, jm.jobs[id].view())
	}
	return views
}

// SuccessfulCount 已完成且完成檢查通過的任務數
func (jm *JobManager) SuccessfulCount() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.succeeded
}

// IsDrained open 與 scheduled 是否皆為空（也就是 Run 可以結束）
func (jm *JobManager) IsDrained() bool {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return jm.counts[PartitionOpen] == 0 &&
		jm.counts[PartitionAdmitting] == 0 &&
		jm.counts[PartitionScheduled] == 0
}

// ============================================================================
// 快照
// ============================================================================

// Snapshot 產生目前所有分區的報告
//
// drained 由呼叫者決定（Controller 依 Run 的結果填入）。
func (jm *JobManager) Snapshot(drained bool) types.RunReport {
	return types.RunReport{
		SchemaVer: types.ReportSchemaVer,
		Drained:   drained,
		Stats:     jm.Stats(),
		Jobs:      jm.List(),
	}
}

// ============================================================================
// 內部輔助
// ============================================================================

// lookup 需持有鎖
func (jm *JobManager) lookup(id types.JobID, want Partition) (*entry, error) {
	e, ok := jm.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.partition != want {
		return nil, fmt.Errorf("%w: job %s is %s, want %s", ErrWrongPartition, id, e.partition, want)
	}
	return e, nil
}

// move 需持有鎖
func (jm *JobManager) move(e *entry, to Partition) {
	jm.counts[e.partition]--
	jm.counts[to]++
	e.partition = to
}

func (jm *JobManager) recordFailure(e *entry, cause error) {
	e.attempts++
	if cause != nil {
		e.lastError = cause.Error()
	}
}
