package types

import (
	"fmt"
	"strconv"
	"strings"
)

// MemoryUnit 記憶體單位，一個值只會使用一種單位
type MemoryUnit string

const (
	MegaByte MemoryUnit = "M"
	GigaByte MemoryUnit = "G"
)

// Memory 記憶體需求（數值 + 單位）
type Memory struct {
	Value int
	Unit  MemoryUnit
}

// MegaBytes 以 MB 為單位建立記憶體需求
func MegaBytes(n int) Memory {
	return Memory{Value: n, Unit: MegaByte}
}

// GigaBytes 以 GB 為單位建立記憶體需求
func GigaBytes(n int) Memory {
	return Memory{Value: n, Unit: GigaByte}
}

// String 回傳 sbatch --mem 使用的格式，例如 100M、4G
func (m Memory) String() string {
	return strconv.Itoa(m.Value) + string(m.Unit)
}

// Validate 檢查數值為正且單位合法
func (m Memory) Validate() error {
	if m.Value <= 0 {
		return fmt.Errorf("%w: memory must be positive, got %d", ErrInvalidJob, m.Value)
	}
	if m.Unit != MegaByte && m.Unit != GigaByte {
		return fmt.Errorf("%w: unknown memory unit %q", ErrInvalidJob, m.Unit)
	}
	return nil
}

// ParseMemory 解析 "100M"、"100MB"、"4G"、"4GB" 等格式
func ParseMemory(s string) (Memory, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	raw = strings.TrimSuffix(raw, "B")
	if len(raw) < 2 {
		return Memory{}, fmt.Errorf("%w: bad memory %q", ErrInvalidJob, s)
	}

	unit := MemoryUnit(raw[len(raw)-1:])
	value, err := strconv.Atoi(raw[:len(raw)-1])
	if err != nil {
		return Memory{}, fmt.Errorf("%w: bad memory %q", ErrInvalidJob, s)
	}

	m := Memory{Value: value, Unit: unit}
	if err := m.Validate(); err != nil {
		return Memory{}, err
	}
	return m, nil
}
