package wal

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestWAL(t *testing.T) (*WAL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.wal")
	w, err := NewWAL(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, path
}

func intPtr(n int) *int { return &n }

func readAll(t *testing.T, path string) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, ReadEvents(path, func(e Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

// ============================================================================
// Append / Replay
// ============================================================================

func TestAppendAndReplay(t *testing.T) {
	w, _ := newTestWAL(t)

	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "job-1", Detail: "first"}, false))
	require.NoError(t, w.Append(Event{Type: EventSubmit, JobID: "job-1", Number: intPtr(4711)}, false))
	require.NoError(t, w.Append(Event{Type: EventFinish, JobID: "job-1", Number: intPtr(4711)}, false))

	var got []Event
	require.NoError(t, w.Replay(func(e Event) error {
		got = append(got, e)
		return nil
	}))

	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.NoError(t, VerifyChecksum(e))
		assert.NotZero(t, e.Timestamp)
	}
	assert.Equal(t, EventSubmit, got[1].Type)
	require.NotNil(t, got[1].Number)
	assert.Equal(t, 4711, *got[1].Number)
	assert.Equal(t, "first", got[0].Detail)
	assert.Equal(t, uint64(3), w.GetLastSeq())
}

func TestBufferedUntilFlush(t *testing.T) {
	w, path := newTestWAL(t)

	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "job-1"}, false))
	count, err := CountEvents(path)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "event should still be buffered")

	require.NoError(t, w.Flush())
	count, err = CountEvents(path)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestForceFlush(t *testing.T) {
	w, path := newTestWAL(t)

	require.NoError(t, w.Append(Event{Type: EventAbandon, JobID: "job-1"}, true))
	assert.Len(t, readAll(t, path), 1)
}

func TestSyncOnAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	w, err := NewWAL(path, true)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "job-1"}, false))
	assert.Len(t, readAll(t, path), 1)
}

func TestReopenContinuesSeq(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")

	w, err := NewWAL(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "a"}, false))
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "b"}, false))
	require.NoError(t, w.Close())

	w, err = NewWAL(path, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), w.GetLastSeq())
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "c"}, false))
	require.NoError(t, w.Close())

	assert.NoError(t, ValidateWAL(path))
}

func TestClosed(t *testing.T) {
	w, _ := newTestWAL(t)
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Append(Event{Type: EventEnqueue, JobID: "x"}, false), ErrWALClosed)
	assert.ErrorIs(t, w.Flush(), ErrWALClosed)
	assert.NoError(t, w.Close(), "double close is a no-op")
}

func TestRotate(t *testing.T) {
	w, path := newTestWAL(t)
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "a"}, false))
	require.NoError(t, w.Rotate())

	assert.Equal(t, uint64(0), w.GetLastSeq())
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "b"}, true))

	events := readAll(t, path)
	require.Len(t, events, 1)
	assert.Equal(t, types.JobID("b"), events[0].JobID)
	assert.Equal(t, uint64(1), events[0].Seq)

	backups, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Len(t, readAll(t, backups[0]), 1)
}

// ============================================================================
// Integrity
// ============================================================================

func TestChecksumMismatch(t *testing.T) {
	w, path := newTestWAL(t)
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "job-1"}, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "job-1", "job-2", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	err = ValidateWAL(path)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	var csErr *ChecksumError
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, uint64(1), csErr.Seq)
}

func TestCorruptedTail(t *testing.T) {
	w, path := newTestWAL(t)
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "job-1"}, true))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"type":"SUB`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = CountEvents(path)
	assert.ErrorIs(t, err, ErrCorruptedWAL)
	var cErr *CorruptionError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, uint64(1), cErr.Seq)
}

func TestValidateSeqGap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, seq := range []uint64{1, 3} {
		e := Event{Seq: seq, Type: EventEnqueue, JobID: "x"}
		e.Checksum = CalculateChecksum(e)
		require.NoError(t, enc.Encode(e))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	assert.ErrorIs(t, ValidateWAL(path), ErrSeqGap)
}

func TestGetLastEventEmpty(t *testing.T) {
	_, path := newTestWAL(t)

	_, err := GetLastEvent(path)
	assert.ErrorIs(t, err, ErrEmptyWAL)
}

// ============================================================================
// Diagnostics
// ============================================================================

func TestDumpAndStats(t *testing.T) {
	w, path := newTestWAL(t)
	require.NoError(t, w.Append(Event{Type: EventEnqueue, JobID: "job-1"}, false))
	require.NoError(t, w.Append(Event{Type: EventSubmitFailed, JobID: "job-1", Detail: "sbatch timeout"}, false))
	require.NoError(t, w.Append(Event{Type: EventSubmit, JobID: "job-1", Number: intPtr(9)}, true))

	var out bytes.Buffer
	require.NoError(t, DumpWAL(path, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "[Seq:1] ENQUEUE"))
	assert.Contains(t, lines[1], "(sbatch timeout)")
	assert.Contains(t, lines[2], "job-1 #9 at ")

	stats, err := GetWALStats(path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Equal(t, uint64(1), stats.FirstSeq)
	assert.Equal(t, uint64(3), stats.LastSeq)
	assert.Equal(t, 1, stats.EventTypes[EventSubmitFailed])
	assert.LessOrEqual(t, stats.TimeRange[0], stats.TimeRange[1])
}
