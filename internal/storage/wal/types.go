package wal

import "github.com/ChuLiYu/slurm-queue/pkg/types"

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the lifecycle events written to the journal
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventEnqueue      EventType = "ENQUEUE"       // Job added to the open queue
	EventSubmit       EventType = "SUBMIT"        // sbatch accepted the job, number assigned
	EventSubmitFailed EventType = "SUBMIT_FAILED" // sbatch failed, job requeued
	EventAbandon      EventType = "ABANDON"       // Job given up after failed submissions
	EventFinish       EventType = "FINISH"        // Job left Slurm, completion check passed
	EventCrash        EventType = "CRASH"         // Job left Slurm, completion check failed
)

// Event represents one journal record
type Event struct {
	Seq       uint64      `json:"seq"`              // Event sequence number (monotonically increasing)
	Type      EventType   `json:"type"`             // Event type
	JobID     types.JobID `json:"job_id"`           // Job ID
	Number    *int        `json:"number,omitempty"` // Slurm job number, once assigned
	Detail    string      `json:"detail,omitempty"` // Description on enqueue, error text on failure
	Timestamp int64       `json:"timestamp"`        // Unix millisecond timestamp
	Checksum  uint32      `json:"checksum"`         // CRC32 checksum
}

// EventHandler is the function type for processing journal events during Replay.
// Returning an error stops the replay.
type EventHandler func(event Event) error
