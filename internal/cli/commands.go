package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/slurm-queue/internal/jobspec"
	"github.com/ChuLiYu/slurm-queue/internal/server"
	"github.com/ChuLiYu/slurm-queue/internal/slurm"
	"github.com/ChuLiYu/slurm-queue/internal/snapshot"
	"github.com/ChuLiYu/slurm-queue/internal/storage/wal"
	"github.com/ChuLiYu/slurm-queue/pkg/types"
)

const rpcTimeout = 10 * time.Second

// ============================================================================
// render
// ============================================================================

func buildRenderCommand() *cobra.Command {
	var jobFile string
	var outDir string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the sbatch scripts for a job file without submitting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderJobs(cmd.OutOrStdout(), jobFile, outDir)
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "YAML job file")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write one <job-id>.slurm file per job into this directory")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func renderJobs(w io.Writer, jobFile, outDir string) error {
	file, err := jobspec.LoadFile(jobFile)
	if err != nil {
		return err
	}
	jobs, err := file.Build()
	if err != nil {
		return fmt.Errorf("invalid job file %s: %w", jobFile, err)
	}

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", outDir, err)
		}
	}

	for i, job := range jobs {
		script := slurm.RenderScript(job)
		if outDir == "" {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "# ---- %s %s\n", job.ID(), job.Description())
			fmt.Fprint(w, script)
			continue
		}

		path := filepath.Join(outDir, string(job.ID())+".slurm")
		if err := os.WriteFile(path, []byte(script), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Fprintln(w, path)
	}
	return nil
}

// ============================================================================
// enqueue / status (remote controller)
// ============================================================================

func buildEnqueueCommand() *cobra.Command {
	var jobFile string
	var serverAddr string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Send jobs from a job file to a running controller",
		Long:  "Read job definitions from a YAML job file and enqueue them on a controller started with grpc.enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueueRemote(cmd.Context(), cmd.OutOrStdout(), jobFile, remoteAddr(serverAddr))
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "YAML job file")
	cmd.Flags().StringVar(&serverAddr, "server", "", "controller gRPC address (default grpc.addr)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func enqueueRemote(ctx context.Context, w io.Writer, jobFile, addr string) error {
	file, err := jobspec.LoadFile(jobFile)
	if err != nil {
		return err
	}

	client, err := server.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	total := 0
	for i, spec := range file.Specs() {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		ids, err := client.Enqueue(callCtx, spec)
		cancel()
		if err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
		total += len(ids)
	}

	fmt.Fprintf(w, "enqueued %d jobs on %s\n", total, addr)
	return nil
}

func buildStatusCommand() *cobra.Command {
	var serverAddr string
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status of a running controller",
		Long:  "Display partition counts, or one job with --job, from a controller started with grpc.enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context(), cmd.OutOrStdout(), remoteAddr(serverAddr), types.JobID(jobID))
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "", "controller gRPC address (default grpc.addr)")
	cmd.Flags().StringVar(&jobID, "job", "", "show a single job")

	return cmd
}

func showStatus(ctx context.Context, w io.Writer, addr string, id types.JobID) error {
	client, err := server.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	if id != "" {
		view, err := client.Job(ctx, id)
		if err != nil {
			return err
		}
		return writeYAML(w, view)
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "controller: %s\n", addr)
	printStats(w, stats)
	return nil
}

// remoteAddr 預設使用 grpc.addr，":port" 轉成 localhost:port
func remoteAddr(flag string) string {
	addr := flag
	if addr == "" {
		addr = cfg.GRPC.Addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return addr
}

// ============================================================================
// report / history (local files)
// ============================================================================

func buildReportCommand() *cobra.Command {
	var path string
	var format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the report written by the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = cfg.Report.Path
			}
			if path == "" {
				return fmt.Errorf("no report path (set report.path or --path)")
			}
			return showReport(cmd.OutOrStdout(), path, format)
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "report file (default report.path)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, yaml, json")

	return cmd
}

func showReport(w io.Writer, path, format string) error {
	rep, err := snapshot.NewManager(path).Load()
	if err != nil {
		return err
	}

	switch format {
	case "yaml":
		return writeYAML(w, rep)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "table":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	fmt.Fprintf(w, "generated: %s\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "drained:   %t\n", rep.Drained)
	printStats(w, rep.Stats)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tSTATUS\tATTEMPTS\tDESCRIPTION")
	for _, v := range rep.Jobs {
		number := "-"
		if v.Number != nil {
			number = fmt.Sprint(*v.Number)
		}
		status := string(v.Status)
		if v.Abandoned {
			status = "ABANDONED"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", v.ID, number, status, v.SubmitAttempts, v.Description)
	}
	return tw.Flush()
}

func buildHistoryCommand() *cobra.Command {
	var path string
	var summary bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Dump the lifecycle event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = cfg.Journal.Path
			}
			if path == "" {
				return fmt.Errorf("no journal path (set journal.path or --path)")
			}
			if summary {
				return showJournalSummary(cmd.OutOrStdout(), path)
			}
			return wal.DumpWAL(path, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "journal file (default journal.path)")
	cmd.Flags().BoolVar(&summary, "summary", false, "print event counts and validate the journal")

	return cmd
}

func showJournalSummary(w io.Writer, path string) error {
	stats, err := wal.GetWALStats(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "events:    %d (seq %d..%d)\n", stats.TotalEvents, stats.FirstSeq, stats.LastSeq)
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "from:      %s\n", time.UnixMilli(stats.TimeRange[0]).UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "to:        %s\n", time.UnixMilli(stats.TimeRange[1]).UTC().Format(time.RFC3339))
	}

	names := make([]string, 0, len(stats.EventTypes))
	for t := range stats.EventTypes {
		names = append(names, string(t))
	}
	sort.Strings(names)
	for _, t := range names {
		fmt.Fprintf(w, "%-14s %d\n", t+":", stats.EventTypes[wal.EventType(t)])
	}

	if err := wal.ValidateWAL(path); err != nil {
		fmt.Fprintf(w, "valid:     no (%v)\n", err)
		return err
	}
	fmt.Fprintln(w, "valid:     yes")
	return nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
