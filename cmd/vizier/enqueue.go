package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/finalize"
	"github.com/JTan2231/vizier/internal/follower"
	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/planner"
	"github.com/JTan2231/vizier/internal/scheduler"
	"github.com/JTan2231/vizier/internal/vcs"
)

// enqueueFlags are shared by every mutating command (save, draft, approve,
// review, merge): the operator's explicit confirmation, predecessor job
// ids, an opt-in approval gate, and whether to attach a follower once the
// job starts running.
type enqueueFlags struct {
	slug            string
	branch          string
	target          string
	after           []string
	yes             bool
	requireApproval bool
	follow          bool
	backgroundJobID string
}

func bindEnqueueFlags(cmd *cobra.Command, f *enqueueFlags, withSlug, withBranch, withTarget bool) {
	if withSlug {
		cmd.Flags().StringVar(&f.slug, "slug", "", "Implementation-plan slug")
	}
	if withBranch {
		cmd.Flags().StringVar(&f.branch, "branch", "", "Draft branch name (default: draft/<slug>)")
	}
	if withTarget {
		cmd.Flags().StringVar(&f.target, "target", "", "Integration target branch")
	}
	cmd.Flags().StringSliceVar(&f.after, "after", nil, "Predecessor job id this job waits on (repeatable)")
	cmd.Flags().BoolVar(&f.yes, "yes", false, "Confirm this mutating command")
	cmd.Flags().BoolVar(&f.requireApproval, "require-approval", false, "Gate this job behind an explicit jobs approve call")
	cmd.Flags().BoolVar(&f.follow, "follow", false, "Attach to the job's logs once it starts")
	cmd.Flags().StringVar(&f.backgroundJobID, "background-job-id", "", "internal: re-invocation as the job's own child process")
}

func draftBranchName(f *enqueueFlags) string {
	if f.branch != "" {
		return f.branch
	}
	return "draft/" + f.slug
}

// resolveDraftBranchLive implements the planner's pre-flight gate for
// approve/review/merge: a plan whose draft branch doesn't exist on disk yet
// is only acceptable if some job still active in the store is itself
// producing that PlanBranch handle.
func resolveDraftBranchLive(ctx context.Context, v *vcs.Collaborator, s jobstore.Store, slug, branch string) (bool, error) {
	handle := artifact.PlanBranch(slug, branch)
	exists, err := v.Exists(ctx, handle)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	records, err := s.List()
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if !rec.Status.IsActive() {
			continue
		}
		for _, produced := range rec.Schedule.Artifacts {
			if produced == handle {
				return true, nil
			}
		}
	}
	return false, nil
}

// runEnqueue is the shared body for every mutating command: plan the job,
// enqueue it, trigger a tick, print its id, and optionally follow its logs.
// When invoked as a spawned child (backgroundJobID set), it instead runs
// the command's (out-of-scope) business logic stand-in and finalizes.
func runEnqueue(cmd planner.Command, args planner.Args, argv []string, f *enqueueFlags) error {
	ctx := context.Background()
	s := store()
	driver := scheduler.NewDriver(repoRoot)

	if f.backgroundJobID != "" {
		return runChildBody(ctx, s, driver, f.backgroundJobID)
	}

	args.JobID = jobstore.GenerateID(time.Now())
	args.After = f.after
	args.Confirmed = f.yes
	args.ApprovalRequired = f.requireApproval

	p := planner.New(s)
	command := append(append([]string{}, argv...), "--background-job-id", args.JobID)
	rec, err := p.Plan(cmd, command, args)
	if err != nil {
		return err
	}
	if Config() != nil {
		rec.ConfigSnapshot = Config().ToMap()
	}
	rec.RecordedArgs = argv

	if DryRun() {
		return yaml.NewEncoder(os.Stdout).Encode(rec)
	}

	if err := s.Enqueue(rec); err != nil {
		return err
	}
	fmt.Println(rec.ID)

	if err := driver.Tick(ctx); err != nil {
		return err
	}

	if f.follow {
		tail := follower.New(s)
		return tail.Follow(ctx, rec.ID, s.StdoutPath(rec.ID), os.Stdout)
	}
	return nil
}

// runChildBody stands in for the (out-of-scope, per the design's §1 scope
// note) command body: the actual git plumbing, agent-shim protocol, and
// plan-document rendering that `save`/`draft`/`approve`/`review`/`merge`
// perform. The scheduler only needs the child to finalize on exit; what it
// does in between is someone else's contract.
func runChildBody(ctx context.Context, s jobstore.Store, driver *scheduler.Driver, jobID string) error {
	rec, err := s.Load(jobID)
	if err != nil {
		return err
	}
	VerbosePrintf("running job %s (%v)\n", jobID, rec.RecordedArgs)

	return finalize.Finalize(ctx, s, driver, jobID, finalize.Result{
		Succeeded: true,
		ExitCode:  0,
	})
}

var saveFlags enqueueFlags

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Commit the current worktree's changes and capture an input patch",
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		if saveFlags.backgroundJobID != "" {
			return runEnqueue(planner.CommandSave, planner.Args{}, append([]string{"save"}, cliArgs...), &saveFlags)
		}
		v := vcs.New(repoRoot)
		branch, err := v.CurrentBranch(cmd.Context())
		if err != nil {
			return err
		}
		oid, err := v.BranchOID(cmd.Context(), branch)
		if err != nil {
			return err
		}
		return runEnqueue(planner.CommandSave, planner.Args{
			CurrentBranch: branch,
			HeadOID:       oid,
		}, append([]string{"save"}, cliArgs...), &saveFlags)
	},
}

var draftFlags enqueueFlags

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Start an implementation-plan draft branch",
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		branch := draftBranchName(&draftFlags)
		return runEnqueue(planner.CommandDraft, planner.Args{
			Slug:   draftFlags.slug,
			Branch: branch,
		}, append([]string{"draft"}, cliArgs...), &draftFlags)
	},
}

var approveFlags enqueueFlags

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a draft plan document, advancing it to implementation commits",
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		if approveFlags.backgroundJobID == "" {
			branch := draftBranchName(&approveFlags)
			live, err := resolveDraftBranchLive(cmd.Context(), vcs.New(repoRoot), store(), approveFlags.slug, branch)
			if err != nil {
				return err
			}
			return runEnqueue(planner.CommandApprove, planner.Args{
				Slug: approveFlags.slug, Branch: branch, DraftBranchLive: live,
			}, append([]string{"approve"}, cliArgs...), &approveFlags)
		}
		return runEnqueue(planner.CommandApprove, planner.Args{}, append([]string{"approve"}, cliArgs...), &approveFlags)
	},
}

var reviewFlags enqueueFlags

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Request a review pass over a draft plan's implementation commits",
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		if reviewFlags.backgroundJobID == "" {
			branch := draftBranchName(&reviewFlags)
			live, err := resolveDraftBranchLive(cmd.Context(), vcs.New(repoRoot), store(), reviewFlags.slug, branch)
			if err != nil {
				return err
			}
			return runEnqueue(planner.CommandReview, planner.Args{
				Slug: reviewFlags.slug, Branch: branch, DraftBranchLive: live,
			}, append([]string{"review"}, cliArgs...), &reviewFlags)
		}
		return runEnqueue(planner.CommandReview, planner.Args{}, append([]string{"review"}, cliArgs...), &reviewFlags)
	},
}

var mergeFlags enqueueFlags

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Integrate a reviewed draft branch into its target branch",
	RunE: func(cmd *cobra.Command, cliArgs []string) error {
		if mergeFlags.backgroundJobID == "" {
			branch := draftBranchName(&mergeFlags)
			live, err := resolveDraftBranchLive(cmd.Context(), vcs.New(repoRoot), store(), mergeFlags.slug, branch)
			if err != nil {
				return err
			}
			return runEnqueue(planner.CommandMerge, planner.Args{
				Slug: mergeFlags.slug, Branch: branch, TargetBranch: mergeFlags.target, DraftBranchLive: live,
			}, append([]string{"merge"}, cliArgs...), &mergeFlags)
		}
		return runEnqueue(planner.CommandMerge, planner.Args{}, append([]string{"merge"}, cliArgs...), &mergeFlags)
	},
}

func init() {
	bindEnqueueFlags(saveCmd, &saveFlags, false, false, false)
	bindEnqueueFlags(draftCmd, &draftFlags, true, true, false)
	bindEnqueueFlags(approveCmd, &approveFlags, true, true, false)
	bindEnqueueFlags(reviewCmd, &reviewFlags, true, true, false)
	bindEnqueueFlags(mergeCmd, &mergeFlags, true, true, true)

	rootCmd.AddCommand(saveCmd, draftCmd, approveCmd, reviewCmd, mergeCmd)
}
