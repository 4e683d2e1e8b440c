// ============================================================================
// slurm-queue 控制器 - 有界佇列協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 把 open 佇列中的任務依上限提交給 Slurm，並以 squeue 對帳完成狀態
//
// 架構設計:
//   Controller 協調以下組件：
//   - JobManager: 任務分區 (open / admitting / scheduled / finished / abandoned)
//   - Scheduler:  sbatch / squeue 介面 (internal/slurm)
//   - WAL:        生命週期事件日誌，只做稽核，不用於恢復
//   - Snapshot:   Run 結束時的報告
//   - Metrics / Recorder: 指標與任務結果紀錄
//
// 核心循環 (單一 goroutine):
//   1. reconcile - squeue 回報已不在佇列中的任務執行完成檢查，移到 finished
//   2. admit     - 依 MaxQueue - |scheduled| 的額度從 open 依 FIFO 提交
//   3. sleep     - PollInterval 或直到 ctx 取消 / 截止時間
//
// 失敗處理:
//   - squeue 失敗：記錄並視為本輪沒有任務完成，下一輪重試
//   - sbatch 失敗：依 FailurePolicy 重新排隊（有上限）或直接放棄
//   - 編號重複指派：types.Job 會 panic，這是程式錯誤
//
// 並發安全:
//   Run 由單一 goroutine 驅動；JobManager 自帶鎖，HTTP / gRPC 觀察者
//   可以同時讀取狀態與加入任務。
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ChuLiYu/slurm-queue/internal/jobmanager"
	"github.com/ChuLiYu/slurm-queue/internal/metrics"
	"github.com/ChuLiYu/slurm-queue/internal/report"
	"github.com/ChuLiYu/slurm-queue/internal/slurm"
	"github.com/ChuLiYu/slurm-queue/internal/snapshot"
	"github.com/ChuLiYu/slurm-queue/internal/storage/wal"
	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// logger 每次取用目前的預設 logger，CLI 啟動時會以 slog.SetDefault 替換
func logger() *slog.Logger { return slog.Default() }

// ============================================================================
// 資料結構定義
// ============================================================================

// FailurePolicy 提交失敗時的處理方式
type FailurePolicy string

const (
	// RequeueOnFailure 放回 open 尾端，累計 MaxSubmitAttempts 次後放棄
	RequeueOnFailure FailurePolicy = "requeue"
	// AbandonOnFailure 第一次失敗就放棄
	AbandonOnFailure FailurePolicy = "abandon"
)

const (
	DefaultPollInterval      = 5 * time.Second
	DefaultMaxSubmitAttempts = 3
	// DefaultWithin Run 的 within <= 0 時使用
	DefaultWithin = 365 * 24 * time.Hour
)

var (
	ErrNilScheduler     = errors.New("controller: scheduler is nil")
	ErrNegativeMaxQueue = errors.New("controller: max queue must be >= 0")
	ErrUnknownPolicy    = errors.New("controller: unknown failure policy")
	ErrAlreadySubmitted = errors.New("controller: job was already submitted")
)

// Config Controller 配置
//
// Journal、Report、Metrics、Recorder 皆為可選。
type Config struct {
	MaxQueue          int               // 同時在 Slurm 中的任務上限，0 表示不提交
	PollInterval      time.Duration     // 每輪間隔，預設 5s
	FailurePolicy     FailurePolicy     // 預設 requeue
	MaxSubmitAttempts int               // requeue 政策下的提交次數上限，預設 3
	Journal           *wal.WAL          // 生命週期事件日誌
	Report            *snapshot.Manager // Run 結束時寫入報告
	KeepBackups       int               // 報告備份數量
	Metrics           *metrics.Collector
	Recorder          report.Recorder
}

// Controller 有界佇列控制器
type Controller struct {
	jobManager *jobmanager.JobManager
	scheduler  slurm.Scheduler
	journal    *wal.WAL
	report     *snapshot.Manager
	metrics    *metrics.Collector
	recorder   report.Recorder
	config     Config
}

// submitFailure 本輪提交失敗的任務，在 admit 結束後才套用政策，
// 避免同一輪內重複提交同一個任務
type submitFailure struct {
	id  types.JobID
	err error
}

// ============================================================================
// 建構
// ============================================================================

// NewController 建立 Controller 並補上預設值
func NewController(config Config, scheduler slurm.Scheduler) (*Controller, error) {
	if scheduler == nil {
		return nil, ErrNilScheduler
	}
	if config.MaxQueue < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrNegativeMaxQueue, config.MaxQueue)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MaxSubmitAttempts <= 0 {
		config.MaxSubmitAttempts = DefaultMaxSubmitAttempts
	}
	switch config.FailurePolicy {
	case "":
		config.FailurePolicy = RequeueOnFailure
	case RequeueOnFailure, AbandonOnFailure:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, config.FailurePolicy)
	}

	recorder := config.Recorder
	if recorder == nil {
		recorder = report.NopRecorder{}
	}

	return &Controller{
		jobManager: jobmanager.NewJobManager(),
		scheduler:  scheduler,
		journal:    config.Journal,
		report:     config.Report,
		metrics:    config.Metrics,
		recorder:   recorder,
		config:     config,
	}, nil
}

// ============================================================================
// 加入任務
// ============================================================================

// Enqueue 複製任務、設為 PENDING 並加入 open 尾端
//
// 已終止的任務會 panic（呼叫者違反契約）；已提交的任務與重複 ID 回傳錯誤。
// 加入時不檢查佇列上限。
func (c *Controller) Enqueue(job *types.Job) error {
	switch status := job.Status(); {
	case status.IsTerminal():
		panic(fmt.Sprintf("controller: cannot enqueue job %s in terminal status %s", job.ID(), status))
	case status == types.StatusSubmitted:
		return fmt.Errorf("%w: %s", ErrAlreadySubmitted, job.ID())
	}

	owned := job.Clone()
	if owned.Status() == types.StatusCreated {
		if err := owned.Transition(types.StatusPending); err != nil {
			return err
		}
	}
	if err := c.jobManager.Enqueue(owned); err != nil {
		return err
	}

	c.appendEvent(wal.Event{Type: wal.EventEnqueue, JobID: owned.ID(), Detail: owned.Description()})
	c.metrics.RecordEnqueue()
	c.updateGauges()
	logger().Debug("Job enqueued", "jobID", owned.ID(), "description", owned.Description())
	return nil
}

// EnqueueJobs 依序加入多個任務，遇到第一個錯誤即停止
func (c *Controller) EnqueueJobs(jobs []*types.Job) error {
	for i, job := range jobs {
		if err := c.Enqueue(job); err != nil {
			return fmt.Errorf("enqueue job %d of %d: %w", i+1, len(jobs), err)
		}
	}
	return nil
}

// ============================================================================
// 主循環
// ============================================================================

// Run 執行 reconcile / admit 循環直到 open 與 scheduled 皆空、
// 超過 within 或 ctx 被取消
//
// within <= 0 表示一年。回傳 open 是否已清空且沒有被放棄的任務，
// 也就是所有任務至少都已提交。
func (c *Controller) Run(ctx context.Context, within time.Duration) bool {
	if within <= 0 {
		within = DefaultWithin
	}
	deadline := time.Now().Add(within)

	logger().Info("Controller started",
		"max_queue", c.config.MaxQueue,
		"poll_interval", c.config.PollInterval,
		"deadline", deadline.Format(time.RFC3339))
	if c.config.MaxQueue == 0 && c.Stats()["open"] > 0 {
		logger().Warn("max_queue is 0, open jobs will never be submitted",
			"open", c.Stats()["open"],
			"deadline", deadline.Format(time.RFC3339))
	}

	for !c.jobManager.IsDrained() {
		if !time.Now().Before(deadline) {
			logger().Warn("Deadline reached", "stats", c.Stats())
			break
		}
		if ctx.Err() != nil {
			logger().Warn("Run cancelled", "error", ctx.Err())
			break
		}

		c.cycle(ctx, deadline)

		if c.jobManager.IsDrained() {
			break
		}
		sleep(ctx, c.config.PollInterval, deadline)
	}

	stats := c.Stats()
	ok := stats["open"] == 0 && stats["abandoned"] == 0

	c.flushJournal()
	c.writeReport(ok)

	logger().Info("Controller finished",
		"ok", ok,
		"successful", stats["successful"],
		"crashed", stats["crashed"],
		"abandoned", stats["abandoned"],
		"open", stats["open"],
		"scheduled", stats["scheduled"])
	return ok
}

// cycle 一輪 reconcile + admit
func (c *Controller) cycle(ctx context.Context, deadline time.Time) {
	start := time.Now()

	finished := c.reconcile(ctx)
	submitted := c.admit(ctx)

	c.metrics.ObserveCycle(time.Since(start).Seconds())
	c.updateGauges()

	stats := c.Stats()
	logger().Info("Queue progress",
		"remaining", stats["open"]+stats["scheduled"],
		"open", stats["open"],
		"scheduled", stats["scheduled"],
		"finished_this_cycle", finished,
		"submitted_this_cycle", submitted,
		"seconds_left", int(time.Until(deadline).Seconds()))
}

// sleep 等待 d，但不超過截止時間；ctx 取消時提早返回
func sleep(ctx context.Context, d time.Duration, deadline time.Time) {
	if left := time.Until(deadline); left < d {
		d = left
	}
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ============================================================================
// reconcile
// ============================================================================

// reconcile 把已離開 Slurm 佇列的任務移到 finished
//
// 返回值：本輪完成的任務數
func (c *Controller) reconcile(ctx context.Context) int {
	scheduled := c.jobManager.Scheduled()
	if len(scheduled) == 0 {
		return 0
	}

	running, err := c.scheduler.ListRunning(ctx)
	if err != nil {
		kind := errorKind(err)
		logger().Error("Failed to list running jobs", "kind", kind, "error", err)
		c.metrics.RecordReconcileError(kind)
		return 0
	}

	numbers := make([]int, 0, len(scheduled))
	for n := range scheduled {
		if _, stillRunning := running[n]; !stillRunning {
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		id := scheduled[n]
		status, err := c.jobManager.Complete(id)
		if err != nil {
			logger().Error("Failed to complete job", "jobID", id, "number", n, "error", err)
			continue
		}

		number := n
		if status == types.StatusFinished {
			c.appendEvent(wal.Event{Type: wal.EventFinish, JobID: id, Number: &number})
			c.metrics.RecordFinished()
			logger().Info("Job finished", "jobID", id, "number", n)
		} else {
			c.appendEvent(wal.Event{Type: wal.EventCrash, JobID: id, Number: &number})
			c.metrics.RecordCrashed()
			logger().Warn("Job crashed", "jobID", id, "number", n)
		}
		c.recordOutcome(ctx, id)
	}
	return len(numbers)
}

// ============================================================================
// admit
// ============================================================================

// admit 依剩餘額度提交 open 中的任務
//
// 返回值：本輪成功提交的任務數
func (c *Controller) admit(ctx context.Context) int {
	budget := c.config.MaxQueue - len(c.jobManager.Scheduled())
	if budget <= 0 {
		return 0
	}

	var failures []submitFailure
	submitted := 0

	for i := 0; i < budget; i++ {
		job := c.jobManager.PopOpen()
		if job == nil {
			break
		}
		id := job.ID()

		number, err := c.scheduler.Submit(ctx, slurm.RenderScript(job))
		if err != nil {
			kind := errorKind(err)
			logger().Error("Failed to submit job", "jobID", id, "kind", kind, "error", err)
			c.metrics.RecordSubmitFailure(kind)
			failures = append(failures, submitFailure{id: id, err: err})
			continue
		}

		if err := c.jobManager.MarkScheduled(id, number); err != nil {
			// sbatch 已接受，但編號無法追蹤
			logger().Error("Failed to track submitted job", "jobID", id, "number", number, "error", err)
			c.abandon(ctx, id, err)
			continue
		}

		n := number
		c.appendEvent(wal.Event{Type: wal.EventSubmit, JobID: id, Number: &n})
		c.metrics.RecordSubmit()
		submitted++
		logger().Info("Job submitted", "jobID", id, "number", number)
	}

	for _, f := range failures {
		c.handleSubmitFailure(ctx, f)
	}
	return submitted
}

// handleSubmitFailure 依 FailurePolicy 重新排隊或放棄
func (c *Controller) handleSubmitFailure(ctx context.Context, f submitFailure) {
	c.appendEvent(wal.Event{Type: wal.EventSubmitFailed, JobID: f.id, Detail: f.err.Error()})

	attempts := c.jobManager.Attempts(f.id) + 1
	if c.config.FailurePolicy == AbandonOnFailure || attempts >= c.config.MaxSubmitAttempts {
		c.abandon(ctx, f.id, f.err)
		return
	}

	if _, err := c.jobManager.Requeue(f.id, f.err); err != nil {
		logger().Error("Failed to requeue job", "jobID", f.id, "error", err)
		return
	}
	logger().Info("Job requeued", "jobID", f.id, "attempts", attempts, "max_attempts", c.config.MaxSubmitAttempts)
}

func (c *Controller) abandon(ctx context.Context, id types.JobID, cause error) {
	if err := c.jobManager.Abandon(id, cause); err != nil {
		logger().Error("Failed to abandon job", "jobID", id, "error", err)
		return
	}
	c.appendEvent(wal.Event{Type: wal.EventAbandon, JobID: id, Detail: cause.Error()})
	c.metrics.RecordAbandon()
	logger().Warn("Job abandoned", "jobID", id, "error", cause)
	c.recordOutcome(ctx, id)
}

// ============================================================================
// 輔助
// ============================================================================

// errorKind 指標與日誌使用的錯誤種類標籤
func errorKind(err error) string {
	if kind, ok := slurm.KindOf(err); ok {
		return kind.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "local"
}

func (c *Controller) appendEvent(event wal.Event) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(event, false); err != nil {
		logger().Error("Failed to append journal event", "type", event.Type, "jobID", event.JobID, "error", err)
	}
}

func (c *Controller) flushJournal() {
	if c.journal == nil {
		return
	}
	if err := c.journal.Flush(); err != nil {
		logger().Error("Failed to flush journal", "error", err)
	}
}

func (c *Controller) recordOutcome(ctx context.Context, id types.JobID) {
	view, ok := c.jobManager.Get(id)
	if !ok {
		return
	}
	if err := c.recorder.Record(ctx, report.OutcomeFromView(view, time.Now())); err != nil {
		logger().Error("Failed to record outcome", "jobID", id, "error", err)
	}
}

func (c *Controller) writeReport(drained bool) {
	if c.report == nil {
		return
	}
	data := c.jobManager.Snapshot(drained)
	if err := c.report.WriteWithBackup(data, c.config.KeepBackups); err != nil {
		logger().Error("Failed to write run report", "path", c.report.GetPath(), "error", err)
		return
	}
	logger().Info("Run report written", "path", c.report.GetPath(), "jobs", len(data.Jobs))
}

func (c *Controller) updateGauges() {
	stats := c.jobManager.Stats()
	c.metrics.UpdateQueueStats(stats["open"], stats["scheduled"])
}

// ============================================================================
// 公開查詢方法
// ============================================================================

// SuccessfulJobs 完成檢查通過的任務數
func (c *Controller) SuccessfulJobs() int {
	return c.jobManager.SuccessfulCount()
}

// Stats 各分區任務數量
func (c *Controller) Stats() map[string]int {
	return c.jobManager.Stats()
}

// Jobs 依加入順序回傳所有任務
func (c *Controller) Jobs() []types.JobView {
	return c.jobManager.List()
}

// Job 取得單一任務
func (c *Controller) Job(id types.JobID) (types.JobView, bool) {
	return c.jobManager.Get(id)
}

// Report 目前狀態的報告（不寫檔）
func (c *Controller) Report() types.RunReport {
	r := c.jobManager.Snapshot(c.jobManager.IsDrained())
	r.GeneratedAt = time.Now()
	return r
}

// Close 寫入並關閉事件日誌
func (c *Controller) Close() error {
	if c.journal == nil {
		return nil
	}
	return c.journal.Close()
}
