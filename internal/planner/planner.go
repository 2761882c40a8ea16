// Package planner is the Enqueue Planner: it turns one of the fixed
// command invocations (save, draft, approve, review, merge) into a job
// record's Schedule, using the resource signature that command carries
// unconditionally — its dependencies, the locks it must hold, the
// artifacts it produces, and whether it pins a branch head or requires an
// explicit approval. The signature table is fixed on purpose: a new
// command needs a new signature entry, not a config knob.
package planner

import (
	"fmt"
	"time"

	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/schederr"
)

// Command is one of the fixed command names the planner knows a resource
// signature for.
type Command string

const (
	CommandSave    Command = "save"
	CommandDraft   Command = "draft"
	CommandApprove Command = "approve"
	CommandReview  Command = "review"
	CommandMerge   Command = "merge"
)

// Args carries everything a signature might need to build concrete handles.
// Not every field is used by every command.
type Args struct {
	JobID            string
	Slug             string
	Branch           string // draft/<slug>, for draft/approve/review/merge
	CurrentBranch    string // branch save is committing to
	TargetBranch     string // integration target, for merge
	HeadOID          string // current HEAD of CurrentBranch, for save's pinned_head
	After            []string
	ApprovalRequired bool
	Confirmed        bool // --yes: required for every mutating command
	DraftBranchLive  bool // true if the draft branch exists or a job producing PlanBranch{slug, Branch} is still active
}

type signature struct {
	dependencies func(Args) []artifact.Handle
	locks        func(Args) []artifact.Lock
	artifacts    func(Args) []artifact.Handle
	pinnedHead   func(Args) *jobstore.PinnedHead
	approval     bool
	requires     func(Args) error
	mutating     bool
}

var signatures = map[Command]signature{
	CommandSave: {
		mutating: true,
		locks: func(a Args) []artifact.Lock {
			return []artifact.Lock{
				artifact.RepoSerialLock(),
				artifact.BranchLock(a.CurrentBranch),
				artifact.WorktreeLock(a.JobID),
			}
		},
		artifacts: func(a Args) []artifact.Handle {
			return []artifact.Handle{artifact.CommandPatch(a.JobID)}
		},
		pinnedHead: func(a Args) *jobstore.PinnedHead {
			if a.HeadOID == "" {
				return nil
			}
			return &jobstore.PinnedHead{Branch: a.CurrentBranch, OID: a.HeadOID}
		},
		requires: func(a Args) error {
			if a.CurrentBranch == "" {
				return fmt.Errorf("save requires a resolvable current branch")
			}
			return nil
		},
	},
	CommandDraft: {
		mutating: true,
		locks: func(a Args) []artifact.Lock {
			return []artifact.Lock{artifact.BranchLock(a.Branch), artifact.WorktreeLock(a.JobID)}
		},
		artifacts: func(a Args) []artifact.Handle {
			return []artifact.Handle{
				artifact.PlanBranch(a.Slug, a.Branch),
				artifact.PlanDoc(a.Slug, a.Branch),
			}
		},
		requires: func(a Args) error {
			if a.Slug == "" || a.Branch == "" {
				return fmt.Errorf("draft requires --slug and --branch")
			}
			return nil
		},
	},
	CommandApprove: {
		mutating: true,
		dependencies: func(a Args) []artifact.Handle {
			return []artifact.Handle{artifact.PlanDoc(a.Slug, a.Branch)}
		},
		locks: func(a Args) []artifact.Lock {
			return []artifact.Lock{artifact.BranchLock(a.Branch), artifact.WorktreeLock(a.JobID)}
		},
		artifacts: func(a Args) []artifact.Handle {
			return []artifact.Handle{artifact.PlanCommits(a.Slug, a.Branch)}
		},
		requires: func(a Args) error {
			if a.Slug == "" || a.Branch == "" {
				return fmt.Errorf("approve requires --slug and --branch")
			}
			return requireDraftBranch(a)
		},
	},
	CommandReview: {
		mutating: true,
		dependencies: func(a Args) []artifact.Handle {
			return []artifact.Handle{
				artifact.PlanBranch(a.Slug, a.Branch),
				artifact.PlanDoc(a.Slug, a.Branch),
			}
		},
		locks: func(a Args) []artifact.Lock {
			return []artifact.Lock{artifact.BranchLock(a.Branch), artifact.WorktreeLock(a.JobID)}
		},
		artifacts: func(a Args) []artifact.Handle {
			return []artifact.Handle{artifact.PlanCommits(a.Slug, a.Branch)}
		},
		requires: func(a Args) error {
			if a.Slug == "" || a.Branch == "" {
				return fmt.Errorf("review requires --slug and --branch")
			}
			return requireDraftBranch(a)
		},
	},
	CommandMerge: {
		mutating: true,
		dependencies: func(a Args) []artifact.Handle {
			return []artifact.Handle{artifact.PlanBranch(a.Slug, a.Branch)}
		},
		locks: func(a Args) []artifact.Lock {
			return []artifact.Lock{
				artifact.BranchLock(a.TargetBranch),
				artifact.BranchLock(a.Branch),
				artifact.MergeSentinelLock(a.Slug),
			}
		},
		artifacts: func(a Args) []artifact.Handle {
			return []artifact.Handle{artifact.TargetBranch(a.TargetBranch)}
		},
		requires: func(a Args) error {
			if a.Slug == "" || a.TargetBranch == "" || a.Branch == "" {
				return fmt.Errorf("merge requires --slug, --branch, and --target")
			}
			return requireDraftBranch(a)
		},
	},
}

// requireDraftBranch implements the pre-flight gate for approve/review/merge
// on a plan whose draft branch does not yet exist on disk: allowed only if
// some job still active in the store is itself producing that PlanBranch
// handle (i.e. a concurrent or not-yet-finished `draft`). The caller
// resolves DraftBranchLive by checking the VCS collaborator and the store
// before calling Plan; the planner itself performs no I/O.
func requireDraftBranch(a Args) error {
	if a.DraftBranchLive {
		return nil
	}
	return fmt.Errorf("plan not found; run draft first")
}

// Planner validates a command invocation against its fixed resource
// signature and pre-flight checks --after against the store.
type Planner struct {
	Store jobstore.Store
}

// New wires a Planner to a job store.
func New(store jobstore.Store) *Planner {
	return &Planner{Store: store}
}

// Plan builds a ready-to-enqueue job record for cmd. args.JobID must already
// be assigned by the caller (typically jobstore.GenerateID), since some
// signatures — save's captured-patch artifact — name the job that produces
// them by id. Callers are responsible for resolving Args.DraftBranchLive
// (an existence check the planner itself never performs) before calling
// Plan so requireDraftBranch can make its pre-flight decision.
func (p *Planner) Plan(cmd Command, command []string, args Args) (*jobstore.Record, error) {
	sig, ok := signatures[cmd]
	if !ok {
		return nil, schederr.New(schederr.KindEnqueueRejected, fmt.Sprintf("unknown command %q", cmd))
	}
	if sig.mutating && !args.Confirmed {
		return nil, schederr.New(schederr.KindEnqueueRejected, "requires --yes")
	}
	if sig.requires != nil {
		if err := sig.requires(args); err != nil {
			return nil, schederr.Wrap(schederr.KindEnqueueRejected, "validate command arguments", err)
		}
	}

	after := jobstore.DedupeAfter(toAfterEntries(args.After))
	for _, entry := range after {
		if _, err := p.Store.Load(entry.JobID); err != nil {
			return nil, schederr.Wrap(schederr.KindEnqueueRejected, fmt.Sprintf("--after references unknown job %s", entry.JobID), err)
		}
	}

	sched := jobstore.Schedule{After: after}
	if sig.dependencies != nil {
		sched.Dependencies = sig.dependencies(args)
	}
	if sig.locks != nil {
		sched.Locks = sig.locks(args)
	}
	if sig.artifacts != nil {
		sched.Artifacts = sig.artifacts(args)
	}
	if sig.pinnedHead != nil {
		sched.PinnedHead = sig.pinnedHead(args)
	}
	if sig.approval || args.ApprovalRequired {
		sched.Approval = &jobstore.ApprovalState{Required: true, State: "pending"}
	}

	return &jobstore.Record{
		ID:        args.JobID,
		Status:    initialStatus(sched),
		Command:   command,
		CreatedAt: time.Now().UTC(),
		Schedule:  sched,
	}, nil
}

func initialStatus(s jobstore.Schedule) jobstore.Status {
	if s.Approval != nil && s.Approval.Required {
		return jobstore.StatusWaitingOnApproval
	}
	if len(s.After) > 0 {
		return jobstore.StatusWaitingOnDeps
	}
	return jobstore.StatusQueued
}

func toAfterEntries(ids []string) []jobstore.AfterEntry {
	entries := make([]jobstore.AfterEntry, len(ids))
	for i, id := range ids {
		entries[i] = jobstore.AfterEntry{JobID: id, Policy: jobstore.PolicySuccess}
	}
	return entries
}
