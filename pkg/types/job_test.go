package types

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func sleepJob(t *testing.T) *Job {
	t.Helper()
	job, err := NewJobBuilder("sleep 5").
		SetDescription("sleeps for 5 seconds").
		Build()
	require.NoError(t, err)
	return job
}

// assertNumberInvariant number 已指派 <=> status ∈ {SUBMITTED, FINISHED, CRASHED}
func assertNumberInvariant(t *testing.T, job *Job) {
	t.Helper()
	_, ok := job.Number()
	assert.Equal(t, job.Status().HasNumber(), ok, "number invariant broken in status %s", job.Status())
}

// ============================================================================
// State Machine Tests
// ============================================================================

func TestNewJobDefaults(t *testing.T) {
	job := NewJob("echo hi", "desc", DoNothing())

	assert.NotEmpty(t, job.ID())
	assert.Equal(t, StatusCreated, job.Status())
	assert.Equal(t, 1, job.CPUs())
	assert.Equal(t, MegaBytes(100), job.Memory())
	assert.Equal(t, "always", job.OnFinished().Name())
	assertNumberInvariant(t, job)

	other := NewJob("echo hi", "desc", DoNothing())
	assert.NotEqual(t, job.ID(), other.ID(), "IDs must be unique")
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{"created to pending", StatusCreated, StatusPending, false},
		{"created skips to submitted", StatusCreated, StatusSubmitted, true},
		{"created skips to finished", StatusCreated, StatusFinished, true},
		{"pending to submitted needs number", StatusPending, StatusSubmitted, true},
		{"pending skips to finished", StatusPending, StatusFinished, true},
		{"pending skips to crashed", StatusPending, StatusCrashed, true},
		{"pending backwards", StatusPending, StatusCreated, true},
		{"submitted to finished", StatusSubmitted, StatusFinished, false},
		{"submitted to crashed", StatusSubmitted, StatusCrashed, false},
		{"submitted backwards", StatusSubmitted, StatusPending, true},
		{"finished backwards", StatusFinished, StatusSubmitted, true},
		{"crashed to finished", StatusCrashed, StatusFinished, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob("true", "", DoNothing())
			job.status = tt.from

			err := job.Transition(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.from, te.From)
				assert.Equal(t, tt.to, te.To)
				assert.Equal(t, tt.from, job.Status(), "status must not change on rejection")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.to, job.Status())
			}
		})
	}
}

func TestMarkSubmitted(t *testing.T) {
	job := sleepJob(t)
	require.NoError(t, job.Transition(StatusPending))
	assertNumberInvariant(t, job)

	require.NoError(t, job.MarkSubmitted(42))
	assert.Equal(t, StatusSubmitted, job.Status())
	n, ok := job.Number()
	assert.True(t, ok)
	assert.Equal(t, 42, n)
	assertNumberInvariant(t, job)

	// 讀取多次結果相同
	n2, _ := job.Number()
	assert.Equal(t, n, n2)
}

func TestMarkSubmittedRequiresPending(t *testing.T) {
	job := sleepJob(t)

	err := job.MarkSubmitted(1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, ok := job.Number()
	assert.False(t, ok, "rejected submission must not assign a number")
	assertNumberInvariant(t, job)
}

func TestMarkSubmittedTwicePanics(t *testing.T) {
	job := sleepJob(t)
	require.NoError(t, job.Transition(StatusPending))
	require.NoError(t, job.MarkSubmitted(7))

	assert.PanicsWithError(t,
		"job "+string(job.ID())+": must not overwrite existing job number (have 7, got 8)",
		func() { _ = job.MarkSubmitted(8) })

	n, _ := job.Number()
	assert.Equal(t, 7, n)
}

func TestCompleteUsesPredicate(t *testing.T) {
	tests := []struct {
		name  string
		check CompletionCheck
		want  JobStatus
	}{
		{"always true finishes", CheckFunc("ok", func(map[string]string) bool { return true }), StatusFinished},
		{"always false crashes", CheckFunc("bad", func(map[string]string) bool { return false }), StatusCrashed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob("true", "", NewCompletion(tt.check, nil))
			require.NoError(t, job.Transition(StatusPending))
			require.NoError(t, job.MarkSubmitted(3))

			got, err := job.Complete()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, job.Status())
			assertNumberInvariant(t, job)
		})
	}
}

func TestCompleteRequiresSubmitted(t *testing.T) {
	job := sleepJob(t)
	require.NoError(t, job.Transition(StatusPending))

	_, err := job.Complete()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, job.Status())
}

func TestCloneIsDeep(t *testing.T) {
	job, err := NewJobBuilder("env").AddEnv("A", "1").Build()
	require.NoError(t, err)
	require.NoError(t, job.Transition(StatusPending))
	require.NoError(t, job.MarkSubmitted(5))

	clone := job.Clone()
	assert.Equal(t, job.ID(), clone.ID())
	assert.Equal(t, job.View(), clone.View())

	clone.env["A"] = "2"
	assert.Equal(t, "1", job.Env()["A"], "env map must not be shared")

	require.NoError(t, clone.Transition(StatusCrashed))
	assert.Equal(t, StatusSubmitted, job.Status(), "status must not be shared")

	*clone.number = 99
	n, _ := job.Number()
	assert.Equal(t, 5, n, "number pointer must not be shared")
}

func TestEnvReturnsCopy(t *testing.T) {
	job, err := NewJobBuilder("env").AddEnv("A", "1").Build()
	require.NoError(t, err)

	env := job.Env()
	env["A"] = "changed"
	assert.Equal(t, "1", job.Env()["A"])
}

func TestView(t *testing.T) {
	job, err := NewJobBuilder("hostname").
		SetWorkingDirectory("/scratch").
		SetCPUs(4).
		SetMemory(GigaBytes(2)).
		SetMaxRunTime("1-02:03:04").
		AddEnv("OMP_NUM_THREADS", "4").
		Build()
	require.NoError(t, err)

	v := job.View()
	assert.Equal(t, job.ID(), v.ID)
	assert.Nil(t, v.Number)
	assert.Equal(t, StatusCreated, v.Status)
	assert.Equal(t, "/scratch", v.WorkingDirectory)
	assert.Equal(t, 4, v.CPUs)
	assert.Equal(t, "2G", v.Memory)
	assert.Equal(t, "1-02:03:04", v.MaxRunTime)
	assert.Equal(t, map[string]string{"OMP_NUM_THREADS": "4"}, v.Env)
	assert.Equal(t, "/dev/null", v.OutputFile)
}

// ============================================================================
// Builder Tests
// ============================================================================

func TestBuilderDefaults(t *testing.T) {
	job, err := NewJobBuilder("sleep 5").Build()
	require.NoError(t, err)

	assert.Equal(t, "sleep 5", job.Command())
	assert.Equal(t, "", job.WorkingDirectory())
	assert.Equal(t, "", job.Description())
	assert.Equal(t, "/dev/null", job.OutputFile())
	assert.Equal(t, "/dev/null", job.ErrorFile())
	assert.Equal(t, MegaBytes(100), job.Memory())
	assert.Equal(t, 1, job.CPUs())
	assert.Equal(t, "", job.MaxRunTime())
	assert.True(t, job.OnFinished().Evaluate())
}

func TestBuilderBuildsFreshIDs(t *testing.T) {
	b := NewJobBuilder("sleep 5")
	a, err := b.Build()
	require.NoError(t, err)
	c, err := b.Build()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), c.ID())
}

func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name    string
		builder *JobBuilder
	}{
		{"empty command", NewJobBuilder("  ")},
		{"zero cpus", NewJobBuilder("true").SetCPUs(0)},
		{"negative memory", NewJobBuilder("true").SetMemory(MegaBytes(-1))},
		{"bad unit", NewJobBuilder("true").SetMemory(Memory{Value: 1, Unit: "K"})},
		{"bad run time", NewJobBuilder("true").SetMaxRunTime("5 minutes")},
		{"bad env key", NewJobBuilder("true").AddEnv("A=B", "x")},
		{"newline in env key", NewJobBuilder("true").AddEnv("A\nB", "x")},
		{"comma in env value", NewJobBuilder("true").AddEnv("HOSTS", "a,b")},
		{"newline in env value", NewJobBuilder("true").AddEnv("A", "1\n#SBATCH --mem=1T")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := tt.builder.Build()
			assert.Nil(t, job)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestEnvValueAllowsEquals(t *testing.T) {
	job, err := NewJobBuilder("env").AddEnv("OPTS", "a=b c:d").Build()
	require.NoError(t, err)
	assert.Equal(t, "a=b c:d", job.Env()["OPTS"])
}

func TestEnvValueCommaMessage(t *testing.T) {
	_, err := NewJobBuilder("env").AddEnv("HOSTS", "a,b").Build()
	require.ErrorIs(t, err, ErrInvalidJob)
	assert.Contains(t, err.Error(), `env HOSTS value "a,b"`)
}

func TestValidMaxRunTime(t *testing.T) {
	assert.True(t, ValidMaxRunTime("0-00:05:00"))
	assert.True(t, ValidMaxRunTime("10-23:59:59"))
	assert.False(t, ValidMaxRunTime("00:05:00"))
	assert.False(t, ValidMaxRunTime("0-24:00:00"))
	assert.False(t, ValidMaxRunTime("0-00:60:00"))
	assert.False(t, ValidMaxRunTime(""))
}

// ============================================================================
// Memory Tests
// ============================================================================

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    Memory
		wantErr bool
	}{
		{"100M", MegaBytes(100), false},
		{"100MB", MegaBytes(100), false},
		{"4g", GigaBytes(4), false},
		{"4GB", GigaBytes(4), false},
		{"4", Memory{}, true},
		{"4K", Memory{}, true},
		{"0M", Memory{}, true},
		{"M", Memory{}, true},
		{"", Memory{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemory(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidJob)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryString(t *testing.T) {
	assert.Equal(t, "100M", MegaBytes(100).String())
	assert.Equal(t, "8G", GigaBytes(8).String())
}

// ============================================================================
// Completion Check Tests
// ============================================================================

func TestDoNothing(t *testing.T) {
	c := DoNothing()
	assert.Equal(t, "always", c.Name())
	assert.True(t, c.Evaluate())
	assert.Equal(t, StatusFinished, c.Outcome())

	var zero Completion
	assert.True(t, zero.Evaluate(), "zero value behaves like DoNothing")
}

func TestCompletionParamsAreFixed(t *testing.T) {
	params := map[string]string{"k": "v"}
	var seen string
	c := NewCompletion(CheckFunc("spy", func(p map[string]string) bool {
		seen = p["k"]
		return true
	}), params)

	params["k"] = "mutated"
	c.Params()["k"] = "mutated too"

	assert.True(t, c.Evaluate())
	assert.Equal(t, "v", seen)
}

func TestFileChecks(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	empty := filepath.Join(dir, "empty.log")
	require.NoError(t, os.WriteFile(out, []byte("step 3\nDONE\n"), 0644))
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	tests := []struct {
		check  string
		params map[string]string
		want   bool
	}{
		{"file_exists", map[string]string{"path": out}, true},
		{"file_exists", map[string]string{"path": filepath.Join(dir, "missing")}, false},
		{"file_exists", nil, false},
		{"file_not_empty", map[string]string{"path": out}, true},
		{"file_not_empty", map[string]string{"path": empty}, false},
		{"output_contains", map[string]string{"path": out, "pattern": "DONE"}, true},
		{"output_contains", map[string]string{"path": out, "pattern": "FAILED"}, false},
		{"output_contains", map[string]string{"path": out}, false},
		{"never", nil, false},
		{"always", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.check, func(t *testing.T) {
			check, err := LookupCheck(tt.check)
			require.NoError(t, err)
			assert.Equal(t, tt.want, NewCompletion(check, tt.params).Evaluate())
		})
	}
}

func TestLookupCheck(t *testing.T) {
	check, err := LookupCheck("")
	require.NoError(t, err)
	assert.Equal(t, "always", check.Name())

	_, err = LookupCheck("nope")
	assert.ErrorIs(t, err, ErrInvalidJob)

	RegisterCheck(CheckFunc("custom_test_check", func(map[string]string) bool { return false }))
	check, err = LookupCheck("custom_test_check")
	require.NoError(t, err)
	assert.False(t, check.Evaluate(nil))
	assert.Contains(t, CheckNames(), "custom_test_check")
}
