package slurm

// ============================================================================
// Job Script Rendering
// Purpose: Turn a job record into an sbatch script. Pure and stateless.
// ============================================================================

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

const (
	shebang        = "#!/bin/bash\n"
	timestampStart = "echo START: `date +%Y-%m-%dT%H:%M:%S%z`\n"
	timestampEnd   = "\necho END: `date +%Y-%m-%dT%H:%M:%S%z`\n"
)

// RenderCommands renders the command section, wrapped in pushd/popd
// when the job has a working directory
func RenderCommands(job *types.Job) string {
	var b strings.Builder
	dir := job.WorkingDirectory()
	if dir != "" {
		fmt.Fprintf(&b, "pushd %s\n", dir)
	}
	b.WriteString(job.Command())
	b.WriteString("\n")
	if dir != "" {
		b.WriteString("popd\n")
	}
	return b.String()
}

// RenderScript renders the full sbatch script: header directives,
// a blank separator, then the commands bracketed by timestamps
func RenderScript(job *types.Job) string {
	var b strings.Builder
	b.WriteString(shebang)
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", job.ID())
	if out := job.OutputFile(); out != "" {
		fmt.Fprintf(&b, "#SBATCH --output=%s\n", out)
	}
	if errFile := job.ErrorFile(); errFile != "" {
		fmt.Fprintf(&b, "#SBATCH --error=%s\n", errFile)
	}
	fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", job.CPUs())
	fmt.Fprintf(&b, "#SBATCH --mem=%s\n", job.Memory())
	if rt := job.MaxRunTime(); rt != "" {
		fmt.Fprintf(&b, "#SBATCH --time=%s\n", rt)
	}
	if env := job.Env(); len(env) > 0 {
		fmt.Fprintf(&b, "#SBATCH --export=%s\n", exportList(env))
	}
	b.WriteString("\n\n")
	b.WriteString(timestampStart)
	b.WriteString(RenderCommands(job))
	b.WriteString(timestampEnd)
	return b.String()
}

// exportList keeps the submitting environment and appends the job's own
// variables in key order so rendering is deterministic
func exportList(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{"ALL"}
	for _, k := range keys {
		parts = append(parts, k+"="+env[k])
	}
	return strings.Join(parts, ",")
}
