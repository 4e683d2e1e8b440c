package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// maxRunTimePattern 接受 Slurm 的 D-HH:MM:SS 格式
var maxRunTimePattern = regexp.MustCompile(`^\d+-([01]\d|2[0-3]):[0-5]\d:[0-5]\d$`)

// ValidMaxRunTime 檢查最長執行時間格式
func ValidMaxRunTime(s string) bool {
	return maxRunTimePattern.MatchString(s)
}

// JobBuilder 以鏈式呼叫組裝任務
//
// 使用範例：
//
//	job, err := types.NewJobBuilder("sleep 5").
//	    SetWorkingDirectory("/home/user/").
//	    SetCPUs(1).
//	    SetMaxRunTime("0-00:05:00").
//	    SetMemory(types.MegaBytes(100)).
//	    Build()
type JobBuilder struct {
	command          string
	workingDirectory string
	env              map[string]string
	description      string
	maxRunTime       string
	outputFile       string
	errorFile        string
	onFinished       Completion
	memory           Memory
	cpus             int
	errs             []error
}

// NewJobBuilder 建立 builder；輸出與錯誤預設導向 /dev/null
func NewJobBuilder(command string) *JobBuilder {
	return &JobBuilder{
		command:    command,
		env:        make(map[string]string),
		outputFile: "/dev/null",
		errorFile:  "/dev/null",
		onFinished: DoNothing(),
		memory:     MegaBytes(100),
		cpus:       1,
	}
}

func (b *JobBuilder) SetMemory(memory Memory) *JobBuilder {
	b.memory = memory
	return b
}

func (b *JobBuilder) SetWorkingDirectory(dir string) *JobBuilder {
	b.workingDirectory = dir
	return b
}

// AddEnv 加入環境變數，重複的 key 會被覆蓋
//
// 變數會寫進 "#SBATCH --export=ALL,K=V"，該清單以逗號分隔且只佔一行，
// 所以 value 不能含逗號或換行。
func (b *JobBuilder) AddEnv(key, value string) *JobBuilder {
	if key == "" || strings.ContainsAny(key, "=,\r\n") {
		b.errs = append(b.errs, fmt.Errorf("%w: bad env key %q", ErrInvalidJob, key))
		return b
	}
	if strings.ContainsAny(value, ",\r\n") {
		b.errs = append(b.errs, fmt.Errorf("%w: env %s value %q contains ',' or a newline", ErrInvalidJob, key, value))
		return b
	}
	b.env[key] = value
	return b
}

func (b *JobBuilder) SetDescription(desc string) *JobBuilder {
	b.description = desc
	return b
}

func (b *JobBuilder) SetMaxRunTime(maxRunTime string) *JobBuilder {
	if !ValidMaxRunTime(maxRunTime) {
		b.errs = append(b.errs, fmt.Errorf("%w: max run time %q is not D-HH:MM:SS", ErrInvalidJob, maxRunTime))
		return b
	}
	b.maxRunTime = maxRunTime
	return b
}

// SetOutputFile 設定 stdout 檔案，空字串表示使用 Slurm 預設
func (b *JobBuilder) SetOutputFile(path string) *JobBuilder {
	b.outputFile = path
	return b
}

// SetErrorFile 設定 stderr 檔案，空字串表示使用 Slurm 預設
func (b *JobBuilder) SetErrorFile(path string) *JobBuilder {
	b.errorFile = path
	return b
}

func (b *JobBuilder) SetOnFinished(c Completion) *JobBuilder {
	b.onFinished = c
	return b
}

func (b *JobBuilder) SetCPUs(cpus int) *JobBuilder {
	b.cpus = cpus
	return b
}

// Build 驗證設定並建立新任務，每次呼叫都會產生新的 ID
func (b *JobBuilder) Build() (*Job, error) {
	errs := append([]error(nil), b.errs...)
	if strings.TrimSpace(b.command) == "" {
		errs = append(errs, fmt.Errorf("%w: command is empty", ErrInvalidJob))
	}
	if b.cpus <= 0 {
		errs = append(errs, fmt.Errorf("%w: cpus must be positive, got %d", ErrInvalidJob, b.cpus))
	}
	if err := b.memory.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	job := NewJob(b.command, b.description, b.onFinished)
	job.workingDirectory = b.workingDirectory
	job.env = copyMap(b.env)
	job.maxRunTime = b.maxRunTime
	job.outputFile = b.outputFile
	job.errorFile = b.errorFile
	job.memory = b.memory
	job.cpus = b.cpus
	return job, nil
}

// MustBuild 同 Build，失敗時 panic
func (b *JobBuilder) MustBuild() *Job {
	job, err := b.Build()
	if err != nil {
		panic(err)
	}
	return job
}
