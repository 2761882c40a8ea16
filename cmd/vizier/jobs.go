package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JTan2231/vizier/internal/follower"
	"github.com/JTan2231/vizier/internal/formatter"
	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/lifecycle"
	"github.com/JTan2231/vizier/internal/scheduler"
	"github.com/JTan2231/vizier/internal/vcs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and operate on scheduled jobs",
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsStatusCmd, jobsScheduleCmd, jobsRetryCmd,
		jobsCancelCmd, jobsApproveCmd, jobsTailCmd, jobsAttachCmd, jobsGCCmd)
}

func store() jobstore.Store { return jobstore.New(repoRoot) }

var (
	listAll             bool
	listDismissFailures bool
	listFormat          string
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := store().List()
		if err != nil {
			return err
		}
		if !listAll {
			cutoff := time.Now().Add(-24 * time.Hour)
			filtered := records[:0]
			for _, rec := range records {
				if rec.Status.IsTerminal() && rec.CreatedAt.Before(cutoff) {
					continue
				}
				filtered = append(filtered, rec)
			}
			records = filtered
		}
		if listDismissFailures {
			filtered := records[:0]
			for _, rec := range records {
				if rec.Status == jobstore.StatusFailed {
					continue
				}
				filtered = append(filtered, rec)
			}
			records = filtered
		}

		switch listFormat {
		case "json":
			return json.NewEncoder(os.Stdout).Encode(records)
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(records)
		case "block":
			for _, rec := range records {
				printBlock(rec)
			}
			return nil
		default:
			table := formatter.NewTable(os.Stdout, "ID", "STATUS", "COMMAND", "CREATED")
			for _, rec := range records {
				table.AddRow(rec.ID, statusLabel(rec.Status), firstWord(rec.Command), rec.CreatedAt.Format(time.RFC3339))
			}
			return table.Render()
		}
	},
}

func init() {
	jobsListCmd.Flags().BoolVar(&listAll, "all", false, "Include terminal jobs older than 24h")
	jobsListCmd.Flags().BoolVar(&listDismissFailures, "dismiss-failures", false, "Hide failed jobs")
	jobsListCmd.Flags().StringVar(&listFormat, "format", "table", "Output format: block|table|json|yaml")
}

var showFormat string

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := store().Load(args[0])
		if err != nil {
			return err
		}
		switch showFormat {
		case "json":
			return json.NewEncoder(os.Stdout).Encode(rec)
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(rec)
		case "table":
			table := formatter.NewTable(os.Stdout, "FIELD", "VALUE")
			table.AddRow("id", rec.ID)
			table.AddRow("status", string(rec.Status))
			table.AddRow("command", fmt.Sprint(rec.Command))
			table.AddRow("created", rec.CreatedAt.Format(time.RFC3339))
			if rec.Schedule.WaitReason != nil {
				table.AddRow("wait_reason", fmt.Sprintf("[%s] %s", rec.Schedule.WaitReason.Kind, rec.Schedule.WaitReason.Detail))
			}
			return table.Render()
		default:
			printBlock(rec)
			return nil
		}
	},
}

func init() {
	jobsShowCmd.Flags().StringVar(&showFormat, "format", "block", "Output format: block|table|json|yaml")
}

func printBlock(rec *jobstore.Record) {
	fmt.Printf("id:      %s\n", rec.ID)
	fmt.Printf("status:  %s\n", statusLabel(rec.Status))
	fmt.Printf("command: %v\n", rec.Command)
	fmt.Printf("created: %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.Schedule.WaitReason != nil {
		fmt.Printf("waiting: [%s] %s\n", rec.Schedule.WaitReason.Kind, rec.Schedule.WaitReason.Detail)
	}
	if len(rec.Schedule.After) > 0 {
		fmt.Printf("after:   %v\n", rec.Schedule.After)
	}
	if len(rec.Schedule.Artifacts) > 0 {
		fmt.Printf("produces: %v\n", rec.Schedule.Artifacts)
	}
	if len(rec.Schedule.Dependencies) > 0 {
		fmt.Printf("depends: %v\n", rec.Schedule.Dependencies)
	}
	if rec.PID != nil {
		fmt.Printf("pid:     %d\n", *rec.PID)
	}
	if rec.ExitCode != nil {
		fmt.Printf("exit:    %d\n", *rec.ExitCode)
	}
	fmt.Println()
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print one job's status on a single line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := store().Load(args[0])
		if err != nil {
			return err
		}
		line := statusLabel(rec.Status)
		if rec.Schedule.WaitReason != nil {
			line += fmt.Sprintf(" (%s: %s)", rec.Schedule.WaitReason.Kind, rec.Schedule.WaitReason.Detail)
		}
		fmt.Println(line)
		if rec.Status == jobstore.StatusFailed {
			os.Exit(1)
		}
		return nil
	},
}

var (
	scheduleAll      bool
	scheduleJob      string
	scheduleFormat   string
	scheduleMaxDepth int
)

var jobsScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run one scheduler tick, or render the dependency graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scheduleFormat == "" {
			driver := scheduler.NewDriver(repoRoot)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return driver.Tick(ctx)
		}
		records, err := store().List()
		if err != nil {
			return err
		}
		if scheduleJob != "" && !scheduleAll {
			records = filterSubgraph(records, scheduleJob, scheduleMaxDepth)
		}
		switch scheduleFormat {
		case "json":
			return json.NewEncoder(os.Stdout).Encode(records)
		case "dag":
			printDAG(records)
			return nil
		default:
			return fmt.Errorf("unknown --format %q: want dag or json", scheduleFormat)
		}
	},
}

func init() {
	jobsScheduleCmd.Flags().BoolVar(&scheduleAll, "all", false, "Include every job in the rendered graph")
	jobsScheduleCmd.Flags().StringVar(&scheduleJob, "job", "", "Root the rendered graph at this job id")
	jobsScheduleCmd.Flags().StringVar(&scheduleFormat, "format", "", "Render the dependency graph instead of ticking: dag|json")
	jobsScheduleCmd.Flags().IntVar(&scheduleMaxDepth, "max-depth", 0, "Limit --job subgraph depth (0 = unlimited)")
}

// filterSubgraph walks the `after` edges reachable from root, up to
// maxDepth hops (0 = unlimited), and returns just those records.
func filterSubgraph(records []*jobstore.Record, root string, maxDepth int) []*jobstore.Record {
	byID := make(map[string]*jobstore.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	type frontier struct {
		id    string
		depth int
	}
	seen := map[string]bool{root: true}
	queue := []frontier{{root, 0}}
	var out []*jobstore.Record
	if rec, ok := byID[root]; ok {
		out = append(out, rec)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && cur.depth >= maxDepth {
			continue
		}
		rec, ok := byID[cur.id]
		if !ok {
			continue
		}
		for _, entry := range rec.Schedule.After {
			if seen[entry.JobID] {
				continue
			}
			seen[entry.JobID] = true
			if pred, ok := byID[entry.JobID]; ok {
				out = append(out, pred)
			}
			queue = append(queue, frontier{entry.JobID, cur.depth + 1})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func printDAG(records []*jobstore.Record) {
	for _, rec := range records {
		fmt.Printf("%s [%s]\n", rec.ID, statusLabel(rec.Status))
		for _, entry := range rec.Schedule.After {
			fmt.Printf("  after -> %s\n", entry.JobID)
		}
		for _, h := range rec.Schedule.Dependencies {
			fmt.Printf("  depends -> %s\n", h)
		}
	}
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Reset a blocked or failed job, and its downstream consumers, back to queued",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := lifecycle.New(store(), vcs.New(repoRoot))
		reset, err := mgr.Retry(args[0])
		if err != nil {
			return err
		}
		for _, id := range reset {
			fmt.Println("queued:", id)
		}
		driver := scheduler.NewDriver(repoRoot)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return driver.Tick(ctx)
	},
}

var (
	cancelSignal          string
	cancelWorktree        string
	cancelCleanupWorktree bool
	cancelNoCleanup       bool
)

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Stop a running job's process tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := parseSignal(cancelSignal)
		if err != nil {
			return err
		}
		mgr := lifecycle.New(store(), vcs.New(repoRoot))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		worktreePath := cancelWorktree
		if cancelNoCleanup {
			worktreePath = ""
		} else if cancelCleanupWorktree && worktreePath == "" {
			return fmt.Errorf("--cleanup-worktree requires --worktree <path>")
		}
		return mgr.Cancel(ctx, args[0], sig, worktreePath)
	},
}

func init() {
	jobsCancelCmd.Flags().StringVar(&cancelSignal, "signal", "TERM", "Signal to send: TERM|KILL|INT")
	jobsCancelCmd.Flags().StringVar(&cancelWorktree, "worktree", "", "Disposable worktree path to remove after cancel")
	jobsCancelCmd.Flags().BoolVar(&cancelCleanupWorktree, "cleanup-worktree", false, "Remove the job's worktree (requires --worktree)")
	jobsCancelCmd.Flags().BoolVar(&cancelNoCleanup, "no-cleanup-worktree", false, "Leave the job's worktree in place")
}

var approveReject bool

var jobsApproveCmd = &cobra.Command{
	Use:   "approve <job-id>",
	Short: "Approve (or, with --reject, reject) a job waiting on a decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := lifecycle.New(store(), vcs.New(repoRoot))
		if err := mgr.Approve(args[0], !approveReject); err != nil {
			return err
		}
		driver := scheduler.NewDriver(repoRoot)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return driver.Tick(ctx)
	},
}

func init() {
	jobsApproveCmd.Flags().BoolVar(&approveReject, "reject", false, "Reject instead of approve")
}

var tailStream string

var jobsTailCmd = &cobra.Command{
	Use:   "tail <job-id>",
	Short: "Follow a job's stdout and/or stderr log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tailJob(args[0], tailStream, true)
	},
}

func init() {
	jobsTailCmd.Flags().StringVar(&tailStream, "stream", "stdout", "Which log to follow: stdout|stderr|both")
}

var jobsAttachCmd = &cobra.Command{
	Use:   "attach <job-id>",
	Short: "Equivalent to jobs tail --stream both",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return tailJob(args[0], "both", true)
	},
}

func tailJob(jobID, stream string, follow bool) error {
	s := store()
	f := follower.New(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch stream {
	case "stdout":
		return f.Follow(ctx, jobID, s.StdoutPath(jobID), os.Stdout)
	case "stderr":
		return f.Follow(ctx, jobID, s.StderrPath(jobID), os.Stderr)
	case "both":
		errCh := make(chan error, 2)
		go func() { errCh <- f.Follow(ctx, jobID, s.StdoutPath(jobID), os.Stdout) }()
		go func() { errCh <- f.Follow(ctx, jobID, s.StderrPath(jobID), os.Stderr) }()
		var firstErr error
		for i := 0; i < 2; i++ {
			if err := <-errCh; err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	default:
		return fmt.Errorf("unknown --stream %q: want stdout, stderr, or both", stream)
	}
}

var gcRetentionDays int

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove old terminal job directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := lifecycle.New(store(), vcs.New(repoRoot))
		days := gcRetentionDays
		if !cmd.Flags().Changed("days") && Config() != nil {
			days = Config().GCRetentionDays
		}
		removed, err := mgr.GC(days, time.Now().UTC())
		if err != nil {
			return err
		}
		for _, id := range removed {
			fmt.Println("removed:", id)
		}
		return nil
	},
}

func init() {
	jobsGCCmd.Flags().IntVar(&gcRetentionDays, "days", 7, "Terminal jobs older than this many days are removed (0 removes all terminal jobs)")
}

func statusLabel(s jobstore.Status) string {
	switch s {
	case jobstore.StatusSucceeded:
		return color.GreenString(string(s))
	case jobstore.StatusFailed, jobstore.StatusBlockedByDependency:
		return color.RedString(string(s))
	case jobstore.StatusRunning:
		return color.CyanString(string(s))
	case jobstore.StatusWaitingOnDeps, jobstore.StatusWaitingOnLocks, jobstore.StatusWaitingOnApproval:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}

func firstWord(command []string) string {
	if len(command) == 0 {
		return ""
	}
	return command[0]
}

func parseSignal(s string) (syscall.Signal, error) {
	switch s {
	case "TERM":
		return syscall.SIGTERM, nil
	case "KILL":
		return syscall.SIGKILL, nil
	case "INT":
		return syscall.SIGINT, nil
	default:
		return 0, fmt.Errorf("unknown signal %q: want TERM, KILL, or INT", s)
	}
}
