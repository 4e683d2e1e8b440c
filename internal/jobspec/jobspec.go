// Package jobspec 解析 YAML / JSON 任務定義並建立 types.Job
//
// 任務檔範例：
//
//	defaults:
//	  cpus: 2
//	  memory: 4G
//	jobs:
//	  - command: python train.py --seed {index}
//	    description: seed sweep {index}
//	    working_directory: /home/user/project
//	    max_run_time: 0-02:00:00
//	    output_file: logs/train-{index}.out
//	    env:
//	      OMP_NUM_THREADS: "2"
//	    check:
//	      name: file_not_empty
//	      params:
//	        path: logs/train-{index}.out
//	    count: 8
//
// count 大於 1 時，字串欄位中的 {index} 會被替換為 0..count-1。
package jobspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// IndexPlaceholder 在複製任務時被替換為序號
const IndexPlaceholder = "{index}"

// MaxCount 單一任務定義可展開的上限，count 來自外部輸入（任務檔、HTTP、gRPC）
const MaxCount = 10000

// ErrNoJobs 任務檔沒有任何任務
var ErrNoJobs = errors.New("jobspec: no jobs defined")

// CheckSpec 完成檢查的名稱與參數
type CheckSpec struct {
	Name   string            `yaml:"name" json:"name"`
	Params map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Spec 單一任務定義
//
// OutputFile / ErrorFile 為 nil 時使用 /dev/null，明確給空字串則交給 Slurm 預設。
type Spec struct {
	Command          string            `yaml:"command" json:"command"`
	WorkingDirectory string            `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	Description      string            `yaml:"description,omitempty" json:"description,omitempty"`
	CPUs             int               `yaml:"cpus,omitempty" json:"cpus,omitempty"`
	Memory           string            `yaml:"memory,omitempty" json:"memory,omitempty"`
	MaxRunTime       string            `yaml:"max_run_time,omitempty" json:"max_run_time,omitempty"`
	OutputFile       *string           `yaml:"output_file,omitempty" json:"output_file,omitempty"`
	ErrorFile        *string           `yaml:"error_file,omitempty" json:"error_file,omitempty"`
	Env              map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Check            *CheckSpec        `yaml:"check,omitempty" json:"check,omitempty"`
	Count            int               `yaml:"count,omitempty" json:"count,omitempty"`
}

// File 任務檔
type File struct {
	Defaults Spec   `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Jobs     []Spec `yaml:"jobs" json:"jobs"`
}

// LoadFile 讀取並解析任務檔
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse 解析 YAML（JSON 是 YAML 的子集，同樣可用）
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if len(f.Jobs) == 0 {
		return nil, ErrNoJobs
	}
	return &f, nil
}

// DecodeSpecJSON 解析單一 JSON 任務定義（HTTP API 使用）
func DecodeSpecJSON(data []byte) (Spec, error) {
	var s Spec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Spec{}, fmt.Errorf("decode job: %w", err)
	}
	return s, nil
}

// Specs 回傳套用 defaults 之後的任務定義
func (f *File) Specs() []Spec {
	specs := make([]Spec, 0, len(f.Jobs))
	for _, s := range f.Jobs {
		specs = append(specs, s.withDefaults(f.Defaults))
	}
	return specs
}

// Build 依序建立所有任務
func (f *File) Build() ([]*types.Job, error) {
	var jobs []*types.Job
	var errs []error
	for i, s := range f.Specs() {
		built, err := s.Build()
		if err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d]: %w", i, err))
			continue
		}
		jobs = append(jobs, built...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return jobs, nil
}

// Build 建立任務；Count > 1 時建立多個並替換 {index}
func (s Spec) Build() ([]*types.Job, error) {
	count := s.Count
	if count < 0 {
		return nil, fmt.Errorf("%w: count must be >= 0, got %d", types.ErrInvalidJob, count)
	}
	if count > MaxCount {
		return nil, fmt.Errorf("%w: count must be <= %d, got %d", types.ErrInvalidJob, MaxCount, count)
	}
	if count == 0 {
		count = 1
	}

	jobs := make([]*types.Job, 0, count)
	for i := 0; i < count; i++ {
		sub := func(v string) string { return v }
		if s.Count > 1 {
			idx := strconv.Itoa(i)
			sub = func(v string) string { return strings.ReplaceAll(v, IndexPlaceholder, idx) }
		}
		job, err := s.build(sub)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s Spec) build(sub func(string) string) (*types.Job, error) {
	b := types.NewJobBuilder(sub(s.Command)).
		SetWorkingDirectory(sub(s.WorkingDirectory)).
		SetDescription(sub(s.Description))

	if s.CPUs != 0 {
		b.SetCPUs(s.CPUs)
	}
	if s.Memory != "" {
		mem, err := types.ParseMemory(s.Memory)
		if err != nil {
			return nil, err
		}
		b.SetMemory(mem)
	}
	if s.MaxRunTime != "" {
		b.SetMaxRunTime(s.MaxRunTime)
	}
	if s.OutputFile != nil {
		b.SetOutputFile(sub(*s.OutputFile))
	}
	if s.ErrorFile != nil {
		b.SetErrorFile(sub(*s.ErrorFile))
	}
	for k, v := range s.Env {
		b.AddEnv(k, sub(v))
	}
	if s.Check != nil {
		check, err := types.LookupCheck(s.Check.Name)
		if err != nil {
			return nil, err
		}
		params := make(map[string]string, len(s.Check.Params))
		for k, v := range s.Check.Params {
			params[k] = sub(v)
		}
		b.SetOnFinished(types.NewCompletion(check, params))
	}
	return b.Build()
}

// withDefaults 以 defaults 填補未設定的欄位
func (s Spec) withDefaults(d Spec) Spec {
	if s.WorkingDirectory == "" {
		s.WorkingDirectory = d.WorkingDirectory
	}
	if s.CPUs == 0 {
		s.CPUs = d.CPUs
	}
	if s.Memory == "" {
		s.Memory = d.Memory
	}
	if s.MaxRunTime == "" {
		s.MaxRunTime = d.MaxRunTime
	}
	if s.OutputFile == nil {
		s.OutputFile = d.OutputFile
	}
	if s.ErrorFile == nil {
		s.ErrorFile = d.ErrorFile
	}
	if s.Check == nil {
		s.Check = d.Check
	}
	if len(d.Env) > 0 {
		env := make(map[string]string, len(d.Env)+len(s.Env))
		for k, v := range d.Env {
			env[k] = v
		}
		for k, v := range s.Env {
			env[k] = v
		}
		s.Env = env
	}
	return s
}
