package snapshot

// ============================================================================
// 職責說明：
// 1. 將一次 Run 結束時的 RunReport 序列化為 JSON 檔
// 2. 使用原子性寫入（temp file + rename）防止半寫入的報告
// 3. 載入時驗證 schema 版本相容性（供 slurmq report 使用）
// 4. 可選擇保留舊報告備份
//
// 報告只供人與工具閱讀，不會被讀回 Controller。
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot file not found")
)

// backupTimeFormat 備份檔名後綴
const backupTimeFormat = "20060102_150405.000"

// Manager 報告快照管理器
type Manager struct {
	path string     // 報告檔案路徑
	mu   sync.Mutex // 保護檔案操作
}

// NewManager 建立快照管理器實例
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
	}
}

// Write 原子性寫入報告
//
// 1. 寫入同目錄的臨時檔案
// 2. fsync 後以 os.Rename 原子性替換
//
// SchemaVer 一律設為 types.ReportSchemaVer；GeneratedAt 為零值時填入現在時間。
func (m *Manager) Write(report types.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(report)
}

func (m *Manager) writeLocked(report types.RunReport) error {
	report.SchemaVer = types.ReportSchemaVer
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}
	if report.Jobs == nil {
		report.Jobs = []types.JobView{}
	}

	// 帶縮排，方便人工閱讀
	jsonBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(jsonBytes); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	// 原子性重新命名（關鍵步驟）
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load 載入報告
//
//   - 檔案不存在回傳 ErrSnapshotNotFound
//   - JSON 無法解析回傳 ErrCorruptedSnapshot
//   - 版本不符回傳 ErrIncompatibleVersion
func (m *Manager) Load() (types.RunReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report types.RunReport

	jsonBytes, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return report, fmt.Errorf("%w: %s", ErrSnapshotNotFound, m.path)
		}
		return report, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, &report); err != nil {
		return report, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}

	if report.SchemaVer != types.ReportSchemaVer {
		return report, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, report.SchemaVer, types.ReportSchemaVer)
	}

	if report.Stats == nil {
		report.Stats = make(map[string]int)
	}
	return report, nil
}

// Exists 檢查報告檔案是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得報告檔案路徑
func (m *Manager) GetPath() string {
	return m.path
}

// WriteWithBackup 寫入報告並保留舊版本備份
//
// 舊報告改名為 <path>.<timestamp>，只保留最近 keepBackups 個；
// keepBackups <= 0 時等同 Write。
func (m *Manager) WriteWithBackup(report types.RunReport, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keepBackups > 0 && m.Exists() {
		backupPath := fmt.Sprintf("%s.%s", m.path, time.Now().Format(backupTimeFormat))
		if err := os.Rename(m.path, backupPath); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
		if err := m.pruneBackups(keepBackups); err != nil {
			return err
		}
	}

	return m.writeLocked(report)
}

// Backups 依時間由舊到新列出備份檔
func (m *Manager) Backups() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".*")
	if err != nil {
		return nil, err
	}

	backups := matches[:0]
	for _, p := range matches {
		if filepath.Ext(p) == ".tmp" {
			continue
		}
		backups = append(backups, p)
	}
	// 時間戳格式固定寬度，字典序即時間序
	sort.Strings(backups)
	return backups, nil
}

func (m *Manager) pruneBackups(keep int) error {
	backups, err := m.Backups()
	if err != nil {
		return err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil {
			return fmt.Errorf("failed to prune snapshot backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}
