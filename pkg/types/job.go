package types

import (
	"fmt"

	"github.com/google/uuid"
)

// Job 代表一個要提交給 Slurm 的批次任務
//
// 欄位全部不可匯出：描述性欄位建立後不可變，status 與 number 只能透過
// Transition / MarkSubmitted 改變，確保以下不變式：
//
//	number 已指派  <=>  status ∈ {SUBMITTED, FINISHED, CRASHED}
type Job struct {
	// 識別
	id     JobID
	number *int // Slurm 指派的外部編號，只能指派一次

	// 執行描述
	command          string
	workingDirectory string // 空字串表示不切換目錄
	env              map[string]string
	description      string

	// 資源需求
	cpus       int
	memory     Memory
	maxRunTime string // D-HH:MM:SS，空字串表示不限制
	outputFile string
	errorFile  string

	// 完成檢查與狀態
	onFinished Completion
	status     JobStatus
}

// NewJob 以預設資源（1 CPU、100M 記憶體）建立任務
func NewJob(command, description string, onFinished Completion) *Job {
	return &Job{
		id:          JobID(uuid.NewString()),
		command:     command,
		env:         make(map[string]string),
		description: description,
		cpus:        1,
		memory:      MegaBytes(100),
		onFinished:  onFinished,
		status:      StatusCreated,
	}
}

func (j *Job) String() string { return string(j.id) }

func (j *Job) ID() JobID { return j.id }
func (j *Job) Status() JobStatus { return j.status }
func (j *Job) Command() string { return j.command }
func (j *Job) WorkingDirectory() string { return j.workingDirectory }
func (j *Job) Description() string { return j.description }
func (j *Job) CPUs() int { return j.cpus }
func (j *Job) Memory() Memory { return j.memory }
func (j *Job) MaxRunTime() string { return j.maxRunTime }
func (j *Job) OutputFile() string { return j.outputFile }
func (j *Job) ErrorFile() string { return j.errorFile }
func (j *Job) OnFinished() Completion { return j.onFinished }

// Env 回傳環境變數的複本
func (j *Job) Env() map[string]string { return copyMap(j.env) }

// Number 回傳外部編號；尚未提交時 ok 為 false
func (j *Job) Number() (int, bool) {
	if j.number == nil {
		return 0, false
	}
	return *j.number, true
}

// Clone 深拷貝任務，Controller 持有自己的副本
func (j *Job) Clone() *Job {
	c := *j
	c.env = copyMap(j.env)
	if j.number != nil {
		n := *j.number
		c.number = &n
	}
	return &c
}

// ============================================================================
// 狀態轉換
// ============================================================================

// 合法轉換表；PENDING -> SUBMITTED 只能經由 MarkSubmitted
var transitions = map[JobStatus][]JobStatus{
	StatusCreated:   {StatusPending},
	StatusSubmitted: {StatusFinished, StatusCrashed},
}

// Transition 依狀態機轉換狀態，倒退或跳過狀態都會回傳 ErrInvalidTransition
func (j *Job) Transition(next JobStatus) error {
	for _, allowed := range transitions[j.status] {
		if allowed == next {
			j.status = next
			return nil
		}
	}
	return &TransitionError{JobID: j.id, From: j.status, To: next}
}

// MarkSubmitted 指派外部編號並轉換為 SUBMITTED
//
// 重複指派編號會 panic：這代表 Controller 本身有 bug，不是可恢復的錯誤。
func (j *Job) MarkSubmitted(number int) error {
	if j.number != nil {
		panic(fmt.Errorf("job %s: %w (have %d, got %d)", j.id, ErrDuplicateNumberAssignment, *j.number, number))
	}
	if j.status != StatusPending {
		return &TransitionError{JobID: j.id, From: j.status, To: StatusSubmitted}
	}
	j.number = &number
	j.status = StatusSubmitted
	return nil
}

// Complete 執行完成檢查並轉換為 FINISHED 或 CRASHED
func (j *Job) Complete() (JobStatus, error) {
	if j.status != StatusSubmitted {
		return j.status, &TransitionError{JobID: j.id, From: j.status, To: StatusFinished}
	}
	outcome := j.onFinished.Outcome()
	if err := j.Transition(outcome); err != nil {
		return j.status, err
	}
	return outcome, nil
}

// View 產生唯讀視圖
func (j *Job) View() JobView {
	v := JobView{
		ID:               j.id,
		Status:           j.status,
		Command:          j.command,
		WorkingDirectory: j.workingDirectory,
		Description:      j.description,
		CPUs:             j.cpus,
		Memory:           j.memory.String(),
		MaxRunTime:       j.maxRunTime,
		OutputFile:       j.outputFile,
		ErrorFile:        j.errorFile,
		Check:            j.onFinished.Name(),
	}
	if len(j.env) > 0 {
		v.Env = copyMap(j.env)
	}
	if n, ok := j.Number(); ok {
		v.Number = &n
	}
	return v
}
