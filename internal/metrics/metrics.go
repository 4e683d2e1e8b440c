// ============================================================================
// slurm-queue Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露佇列控制器的運行指標
//
// 指標分類:
//
//   1. 任務計數器 (Counter):
//      - slurmq_jobs_enqueued_total: 加入 open 佇列的任務數
//      - slurmq_jobs_submitted_total: sbatch 成功的任務數
//      - slurmq_submit_failures_total{kind}: sbatch 失敗次數，依錯誤種類
//      - slurmq_jobs_abandoned_total: 放棄提交的任務數
//      - slurmq_jobs_finished_total: 完成檢查通過的任務數
//      - slurmq_jobs_crashed_total: 完成檢查失敗的任務數
//      - slurmq_reconcile_errors_total{kind}: squeue 失敗次數
//
//   2. 狀態指標 (Gauge):
//      - slurmq_jobs_open: open 佇列長度
//      - slurmq_jobs_scheduled: 已提交、仍在 Slurm 中的任務數
//
//   3. 性能指標 (Histogram):
//      - slurmq_cycle_duration_seconds: 一次 reconcile + admit 的耗時
//
// Prometheus 查詢示例:
//
//   # 提交失敗率
//   rate(slurmq_submit_failures_total[5m]) / rate(slurmq_jobs_submitted_total[5m])
//
//   # 任務積壓
//   slurmq_jobs_open + slurmq_jobs_scheduled
//
// HTTP 端點:
//   由 internal/api 在 /metrics 暴露
//
// ============================================================================

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slurmq"

// Collector Prometheus 指標收集器
//
// nil *Collector 是合法的，所有方法都是 no-op，讓 Controller 不必判斷。
type Collector struct {
	// 任務相關指標
	jobsEnqueued    prometheus.Counter
	jobsSubmitted   prometheus.Counter
	submitFailures  *prometheus.CounterVec
	jobsAbandoned   prometheus.Counter
	jobsFinished    prometheus.Counter
	jobsCrashed     prometheus.Counter
	reconcileErrors *prometheus.CounterVec

	// 狀態指標
	jobsOpen      prometheus.Gauge
	jobsScheduled prometheus.Gauge

	// 效能指標
	cycleDuration prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewCollector 建立指標收集器並註冊到 reg
//
// reg 為 nil 時使用 prometheus.DefaultRegisterer。若 reg 同時實作
// prometheus.Gatherer（例如 *prometheus.Registry），Handler 會使用它。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs added to the open queue",
		}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted by sbatch",
		}),
		submitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_failures_total",
			Help:      "Total number of failed sbatch calls by error kind",
		}, []string{"kind"}),
		jobsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_abandoned_total",
			Help:      "Total number of jobs abandoned after failed submissions",
		}),
		jobsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs whose completion check passed",
		}),
		jobsCrashed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_crashed_total",
			Help:      "Total number of jobs whose completion check failed",
		}),
		reconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Total number of failed squeue calls by error kind",
		}, []string{"kind"}),
		jobsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_open",
			Help:      "Current number of jobs waiting for submission",
		}),
		jobsScheduled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled",
			Help:      "Current number of submitted jobs not yet reconciled",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one reconcile and admit cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.jobsEnqueued,
		c.jobsSubmitted,
		c.submitFailures,
		c.jobsAbandoned,
		c.jobsFinished,
		c.jobsCrashed,
		c.reconcileErrors,
		c.jobsOpen,
		c.jobsScheduled,
		c.cycleDuration,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// RecordEnqueue 記錄任務加入佇列
func (c *Collector) RecordEnqueue() {
	if c == nil {
		return
	}
	c.jobsEnqueued.Inc()
}

// RecordSubmit 記錄 sbatch 成功
func (c *Collector) RecordSubmit() {
	if c == nil {
		return
	}
	c.jobsSubmitted.Inc()
}

// RecordSubmitFailure 記錄 sbatch 失敗
func (c *Collector) RecordSubmitFailure(kind string) {
	if c == nil {
		return
	}
	c.submitFailures.WithLabelValues(kind).Inc()
}

// RecordAbandon 記錄放棄任務
func (c *Collector) RecordAbandon() {
	if c == nil {
		return
	}
	c.jobsAbandoned.Inc()
}

// RecordFinished 記錄完成檢查通過
func (c *Collector) RecordFinished() {
	if c == nil {
		return
	}
	c.jobsFinished.Inc()
}

// RecordCrashed 記錄完成檢查失敗
func (c *Collector) RecordCrashed() {
	if c == nil {
		return
	}
	c.jobsCrashed.Inc()
}

// RecordReconcileError 記錄 squeue 失敗
func (c *Collector) RecordReconcileError(kind string) {
	if c == nil {
		return
	}
	c.reconcileErrors.WithLabelValues(kind).Inc()
}

// ObserveCycle 記錄一次循環耗時
func (c *Collector) ObserveCycle(seconds float64) {
	if c == nil {
		return
	}
	c.cycleDuration.Observe(seconds)
}

// UpdateQueueStats 更新佇列狀態統計
func (c *Collector) UpdateQueueStats(open, scheduled int) {
	if c == nil {
		return
	}
	c.jobsOpen.Set(float64(open))
	c.jobsScheduled.Set(float64(scheduled))
}

// Handler 回傳暴露此收集器所在 registry 的 HTTP handler
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
