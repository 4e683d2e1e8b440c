package types

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
)

// CompletionCheck 完成檢查：任務離開 Slurm 後執行一次，決定 FINISHED 或 CRASHED
//
// Evaluate 應該只依賴 params；允許副作用（例如輸出報告），但 Controller 不依賴它們。
type CompletionCheck interface {
	Name() string
	Evaluate(params map[string]string) bool
}

// CheckFunc 將普通函式包裝成具名的 CompletionCheck
func CheckFunc(name string, fn func(params map[string]string) bool) CompletionCheck {
	return funcCheck{name: name, fn: fn}
}

type funcCheck struct {
	name string
	fn   func(map[string]string) bool
}

func (c funcCheck) Name() string { return c.name }
func (c funcCheck) Evaluate(params map[string]string) bool { return c.fn(params) }

// Completion 綁定一個檢查與其固定參數，建立後不可變
type Completion struct {
	check  CompletionCheck
	params map[string]string
}

// NewCompletion 建立完成檢查，params 會被複製
func NewCompletion(check CompletionCheck, params map[string]string) Completion {
	if check == nil {
		check = alwaysCheck{}
	}
	return Completion{check: check, params: copyMap(params)}
}

// DoNothing 預設的完成檢查，永遠回傳 true
func DoNothing() Completion {
	return NewCompletion(alwaysCheck{}, nil)
}

// Name 檢查名稱
func (c Completion) Name() string {
	if c.check == nil {
		return alwaysCheck{}.Name()
	}
	return c.check.Name()
}

// Params 回傳參數的複本
func (c Completion) Params() map[string]string {
	return copyMap(c.params)
}

// Evaluate 執行檢查；零值 Completion 視為 DoNothing
func (c Completion) Evaluate() bool {
	if c.check == nil {
		return true
	}
	return c.check.Evaluate(c.params)
}

// Outcome 將檢查結果對應到終止狀態
func (c Completion) Outcome() JobStatus {
	if c.Evaluate() {
		return StatusFinished
	}
	return StatusCrashed
}

// ============================================================================
// 內建檢查
// ============================================================================

type alwaysCheck struct{}

func (alwaysCheck) Name() string { return "always" }
func (alwaysCheck) Evaluate(map[string]string) bool { return true }

type neverCheck struct{}

func (neverCheck) Name() string { return "never" }
func (neverCheck) Evaluate(map[string]string) bool { return false }

// fileExistsCheck 參數 path 指向的檔案存在即成功
type fileExistsCheck struct{}

func (fileExistsCheck) Name() string { return "file_exists" }

func (fileExistsCheck) Evaluate(params map[string]string) bool {
	path := params["path"]
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// fileNotEmptyCheck 參數 path 指向的檔案存在且非空
type fileNotEmptyCheck struct{}

func (fileNotEmptyCheck) Name() string { return "file_not_empty" }

func (fileNotEmptyCheck) Evaluate(params map[string]string) bool {
	info, err := os.Stat(params["path"])
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// outputContainsCheck 參數 path 的檔案內容包含 pattern
type outputContainsCheck struct{}

func (outputContainsCheck) Name() string { return "output_contains" }

func (outputContainsCheck) Evaluate(params map[string]string) bool {
	pattern := params["pattern"]
	if pattern == "" {
		return false
	}
	data, err := os.ReadFile(params["path"])
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(pattern))
}

// ============================================================================
// 檢查註冊表（供 job 檔案以名稱引用）
// ============================================================================

var (
	checksMu sync.RWMutex
	checks   = map[string]CompletionCheck{
		"always":          alwaysCheck{},
		"never":           neverCheck{},
		"file_exists":     fileExistsCheck{},
		"file_not_empty":  fileNotEmptyCheck{},
		"output_contains": outputContainsCheck{},
	}
)

// RegisterCheck 註冊自訂檢查，同名會覆蓋
func RegisterCheck(check CompletionCheck) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[check.Name()] = check
}

// LookupCheck 依名稱取得檢查，空字串回傳 always
func LookupCheck(name string) (CompletionCheck, error) {
	if name == "" {
		name = "always"
	}
	checksMu.RLock()
	defer checksMu.RUnlock()
	check, ok := checks[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown completion check %q", ErrInvalidJob, name)
	}
	return check, nil
}

// CheckNames 已註冊檢查名稱（排序後）
func CheckNames() []string {
	checksMu.RLock()
	defer checksMu.RUnlock()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
