package main

// ============================================================================
// slurmq 入口點：所有邏輯在 internal/cli
//
//   go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse HEAD)" ./cmd/slurmq
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/slurm-queue/internal/cli"
)

var (
	version = "dev" // 由 CI 注入
	commit  = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(2)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	// cobra 已印出錯誤
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
