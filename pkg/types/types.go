// Package types 定義了 slurm-queue 系統中使用的核心領域模型
package types

import (
	"errors"
	"fmt"
	"time"
)

// JobID 任務唯一識別碼（UUID v4 字串）
type JobID string

// JobStatus 任務生命週期狀態
type JobStatus string

// 定義任務狀態常數
const (
	StatusCreated   JobStatus = "CREATED"   // 已建立，尚未加入 Controller
	StatusPending   JobStatus = "PENDING"   // 已加入 open 佇列，等待提交
	StatusSubmitted JobStatus = "SUBMITTED" // 已提交給 Slurm，取得外部編號
	StatusFinished  JobStatus = "FINISHED"  // 已離開 Slurm，完成檢查通過
	StatusCrashed   JobStatus = "CRASHED"   // 已離開 Slurm，完成檢查失敗
)

// IsTerminal 是否為終止狀態
func (s JobStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusCrashed
}

// HasNumber 該狀態下任務是否必須持有外部編號
func (s JobStatus) HasNumber() bool {
	return s == StatusSubmitted || s.IsTerminal()
}

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 非法的狀態轉換（倒退或跳過狀態）
	ErrInvalidTransition = errors.New("invalid job status transition")
	// 重複指派外部編號，屬於程式契約違反
	ErrDuplicateNumberAssignment = errors.New("must not overwrite existing job number")
	// 任務設定不合法（builder 驗證失敗）
	ErrInvalidJob = errors.New("invalid job definition")
)

// TransitionError 描述一次被拒絕的狀態轉換
type TransitionError struct {
	JobID JobID
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: %s -> %s: %v", e.JobID, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ============================================================================
// 對外唯讀視圖
// ============================================================================

// JobView 任務的唯讀投影，用於報告、API 與日誌
type JobView struct {
	ID               JobID             `json:"id" yaml:"id"`
	Number           *int              `json:"number,omitempty" yaml:"number,omitempty"`
	Status           JobStatus         `json:"status" yaml:"status"`
	Command          string            `json:"command" yaml:"command"`
	WorkingDirectory string            `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	CPUs             int               `json:"cpus" yaml:"cpus"`
	Memory           string            `json:"memory" yaml:"memory"`
	MaxRunTime       string            `json:"max_run_time,omitempty" yaml:"max_run_time,omitempty"`
	OutputFile       string            `json:"output_file,omitempty" yaml:"output_file,omitempty"`
	ErrorFile        string            `json:"error_file,omitempty" yaml:"error_file,omitempty"`
	Check            string            `json:"check" yaml:"check"`
	SubmitAttempts   int               `json:"submit_attempts,omitempty" yaml:"submit_attempts,omitempty"`
	Abandoned        bool              `json:"abandoned,omitempty" yaml:"abandoned,omitempty"`
	LastError        string            `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// ReportSchemaVer RunReport 的資料結構版本
const ReportSchemaVer = 1

// RunReport 一次 Run 結束時的完整報告，由 snapshot 套件原子性寫入
type RunReport struct {
	SchemaVer   int            `json:"schema_ver"`   // 資料結構版本號
	GeneratedAt time.Time      `json:"generated_at"` // 報告產生時間
	Drained     bool           `json:"drained"`      // 所有任務是否至少已提交
	Stats       map[string]int `json:"stats"`        // 各分區任務數量
	Jobs        []JobView      `json:"jobs"`         // 所有任務
}
