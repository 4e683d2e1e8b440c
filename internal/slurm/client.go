// ============================================================================
// Slurm Scheduler Adapter
// ============================================================================
//
// Package: internal/slurm
// File: client.go
// Purpose: Wraps the two scheduler operations the controller depends on.
//
//   Submit      - write script to a file, run `sbatch <file>`, parse the
//                 job number from the last token of stdout
//   ListRunning - run `squeue --me --format ...`, parse one job number per row
//
// Both calls are synchronous process invocations. A per-call timeout on the
// ExecRunner bounds how long a hung scheduler can block the control loop.
//
// ============================================================================

package slurm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// QueueFormat is the squeue column layout; every row has QueueColumns fields
const (
	QueueFormat  = "%.i %.P %.j %.u %.t %.M %.D %R"
	QueueColumns = 8
)

// Scheduler is the narrow view of Slurm the controller consumes
type Scheduler interface {
	// Submit hands a rendered script to the scheduler and returns its job number
	Submit(ctx context.Context, script string) (int, error)

	// ListRunning returns the numbers of all jobs the scheduler tracks for this user
	ListRunning(ctx context.Context) (map[int]struct{}, error)
}

// Runner runs an external program and returns its stdout
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec
type ExecRunner struct {
	Timeout time.Duration // Zero means no timeout
}

// Run executes name with args. A non-zero exit is reported as an error
// carrying stderr.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Config for the Slurm client
type Config struct {
	SbatchPath  string // Defaults to "sbatch"
	SqueuePath  string // Defaults to "squeue"
	ScriptDir   string // Where scripts are written; see ResolveScriptDir
	KeepScripts bool   // Keep script files after submission (debugging)
}

// Client implements Scheduler on top of the sbatch and squeue binaries
type Client struct {
	cfg    Config
	runner Runner
}

// NewClient creates a Client; a nil runner means ExecRunner without timeout
func NewClient(cfg Config, runner Runner) *Client {
	if cfg.SbatchPath == "" {
		cfg.SbatchPath = "sbatch"
	}
	if cfg.SqueuePath == "" {
		cfg.SqueuePath = "squeue"
	}
	cfg.ScriptDir = ResolveScriptDir(cfg.ScriptDir)
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{cfg: cfg, runner: runner}
}

// ResolveScriptDir picks the explicit dir, then $TMP_DIR, then os.TempDir()
func ResolveScriptDir(dir string) string {
	if dir != "" {
		return dir
	}
	if env := os.Getenv("TMP_DIR"); env != "" {
		return env
	}
	return os.TempDir()
}

// ScriptDir returns the directory scripts are written to
func (c *Client) ScriptDir() string {
	return c.cfg.ScriptDir
}

// Submit writes the script to disk and runs sbatch on it
func (c *Client) Submit(ctx context.Context, script string) (int, error) {
	path, err := c.writeScript(script)
	if err != nil {
		return 0, err
	}
	if !c.cfg.KeepScripts {
		defer os.Remove(path)
	}

	out, err := c.runner.Run(ctx, c.cfg.SbatchPath, path)
	if err != nil {
		return 0, &Error{Kind: KindUnresponsive, Op: "submit", Output: strings.TrimSpace(string(out)), Err: err}
	}
	return ParseSubmitOutput(string(out))
}

// ListRunning runs squeue for the invoking user and parses the job numbers
func (c *Client) ListRunning(ctx context.Context) (map[int]struct{}, error) {
	out, err := c.runner.Run(ctx, c.cfg.SqueuePath, "--me", "--format", QueueFormat)
	if err != nil {
		return nil, &Error{Kind: KindUnresponsive, Op: "list", Err: err}
	}
	return ParseQueue(string(out))
}

func (c *Client) writeScript(script string) (string, error) {
	f, err := os.CreateTemp(c.cfg.ScriptDir, "slurmq-*.slurm")
	if err != nil {
		return "", fmt.Errorf("create slurm script: %w", err)
	}
	path := f.Name()

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write slurm script: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("sync slurm script: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close slurm script: %w", err)
	}
	return path, nil
}

// ParseSubmitOutput takes the last whitespace-delimited token of the sbatch
// output, e.g. "Submitted batch job 4711", as the job number
func ParseSubmitOutput(out string) (int, error) {
	trimmed := strings.TrimSpace(out)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return 0, &Error{Kind: KindBadResponse, Op: "submit", Output: trimmed}
	}

	number, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || number < 0 {
		return 0, &Error{Kind: KindBadResponse, Op: "submit", Output: trimmed, Err: err}
	}
	return number, nil
}

// ParseQueue parses squeue output: a header row followed by one row per job.
// Any row that is not exactly QueueColumns fields with an integer job number
// makes the whole listing invalid.
func ParseQueue(out string) (map[int]struct{}, error) {
	running := make(map[int]struct{})
	rows := strings.Split(out, "\n")
	if len(rows) <= 1 {
		return running, nil
	}

	for _, row := range rows[1:] {
		if strings.TrimSpace(row) == "" {
			continue
		}
		fields := strings.Fields(row)
		if len(fields) != QueueColumns {
			return nil, &Error{Kind: KindMalformedOutput, Op: "list", Output: row,
				Err: fmt.Errorf("want %d columns, got %d", QueueColumns, len(fields))}
		}
		number, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, &Error{Kind: KindMalformedOutput, Op: "list", Output: row, Err: err}
		}
		running[number] = struct{}{}
	}
	return running, nil
}
