package wal

// ============================================================================
// 日誌工具函式
// 職責：讀取、驗證與輸出日誌檔案，供 NewWAL 與 slurmq history 使用
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ReadEvents 從頭依序讀取日誌檔案並呼叫 handler
func ReadEvents(path string, handler EventHandler) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var lastSeq uint64
	for {
		var event Event
		offset := decoder.InputOffset()
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &CorruptionError{Seq: lastSeq, Offset: offset, Cause: err}
		}
		if err := VerifyChecksum(event); err != nil {
			return err
		}
		if err := handler(event); err != nil {
			return err
		}
		lastSeq = event.Seq
	}
}

// GetLastEvent 掃描整個檔案，回傳最後一個事件
//
// 檔案為空時回傳 ErrEmptyWAL。
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	err := ReadEvents(path, func(event Event) error {
		e := event
		last = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// CountEvents 計算日誌中的事件總數
func CountEvents(path string) (int, error) {
	count := 0
	err := ReadEvents(path, func(Event) error {
		count++
		return nil
	})
	return count, err
}

// ValidateWAL 驗證日誌檔案的完整性
//
// 檢查項目：JSON 格式、checksum、seq 從 1 開始且連續。
func ValidateWAL(path string) error {
	var lastSeq uint64
	return ReadEvents(path, func(event Event) error {
		if event.Seq != lastSeq+1 {
			return fmt.Errorf("%w: expected seq=%d, got %d", ErrSeqGap, lastSeq+1, event.Seq)
		}
		lastSeq = event.Seq
		return nil
	})
}

// ============================================================================
// 除錯與診斷工具
// ============================================================================

// FormatEvent 以人類可讀格式輸出單一事件
//
//	[Seq:2] SUBMIT 1c9e... #4711 at 2024-01-01T00:00:01Z
func FormatEvent(event Event) string {
	ts := time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339)
	line := fmt.Sprintf("[Seq:%d] %-13s %s", event.Seq, event.Type, event.JobID)
	if event.Number != nil {
		line += fmt.Sprintf(" #%d", *event.Number)
	}
	line += " at " + ts
	if event.Detail != "" {
		line += fmt.Sprintf(" (%s)", event.Detail)
	}
	return line
}

// DumpWAL 輸出日誌內容，每行一個事件
func DumpWAL(path string, w io.Writer) error {
	return ReadEvents(path, func(event Event) error {
		_, err := fmt.Fprintln(w, FormatEvent(event))
		return err
	})
}

// WALStats 日誌統計資訊
type WALStats struct {
	TotalEvents int               // 總事件數
	EventTypes  map[EventType]int // 各類型事件計數
	FirstSeq    uint64            // 第一個事件的 seq
	LastSeq     uint64            // 最後一個事件的 seq
	TimeRange   [2]int64          // 時間範圍 [最早, 最晚]
}

// GetWALStats 取得日誌的統計資訊
func GetWALStats(path string) (*WALStats, error) {
	stats := &WALStats{EventTypes: make(map[EventType]int)}
	err := ReadEvents(path, func(event Event) error {
		if stats.TotalEvents == 0 {
			stats.FirstSeq = event.Seq
			stats.TimeRange[0] = event.Timestamp
		}
		stats.TotalEvents++
		stats.EventTypes[event.Type]++
		stats.LastSeq = event.Seq
		if event.Timestamp < stats.TimeRange[0] {
			stats.TimeRange[0] = event.Timestamp
		}
		if event.Timestamp > stats.TimeRange[1] {
			stats.TimeRange[1] = event.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
