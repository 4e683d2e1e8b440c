package slurm

// ============================================================================
// Slurm Interaction Errors
// Purpose: Typed errors surfaced by the scheduler adapter. All of them are
// recoverable from the controller's point of view.
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors, one per Kind
var (
	// ErrUnresponsive indicates sbatch/squeue could not be launched or exited abnormally
	ErrUnresponsive = errors.New("slurm: scheduler unresponsive")

	// ErrBadResponse indicates sbatch output did not end in a job number
	ErrBadResponse = errors.New("slurm: bad submit response")

	// ErrMalformedOutput indicates a squeue row did not have the expected shape
	ErrMalformedOutput = errors.New("slurm: malformed queue output")
)

// Kind classifies an Error
type Kind int

const (
	KindUnresponsive Kind = iota
	KindBadResponse
	KindMalformedOutput
)

func (k Kind) String() string {
	switch k {
	case KindUnresponsive:
		return "unresponsive"
	case KindBadResponse:
		return "bad_response"
	case KindMalformedOutput:
		return "malformed_output"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindBadResponse:
		return ErrBadResponse
	case KindMalformedOutput:
		return ErrMalformedOutput
	default:
		return ErrUnresponsive
	}
}

// Error carries the raw scheduler output alongside the failure kind
type Error struct {
	Kind   Kind   // Failure classification
	Op     string // "submit" or "list"
	Output string // Raw output (or offending row) when available
	Err    error  // Underlying cause, e.g. *exec.ExitError
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v (op=%s)", e.Kind.sentinel(), e.Op)
	if e.Output != "" {
		msg += fmt.Sprintf(": %q", e.Output)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is match the per-kind sentinel
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind of err, ok is false for non-scheduler errors
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
