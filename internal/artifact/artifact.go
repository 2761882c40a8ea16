// Package artifact defines the fixed catalogue of artifact handles and lock
// keys the scheduler reasons about, plus their canonical string form. This
// is the lowest-level package in the scheduler's dependency order: nothing
// here touches the filesystem or git.
package artifact

import "fmt"

// Kind enumerates the fixed artifact handle catalogue.
type Kind string

const (
	KindPlanBranch    Kind = "PlanBranch"
	KindPlanDoc       Kind = "PlanDoc"
	KindPlanCommits   Kind = "PlanCommits"
	KindTargetBranch  Kind = "TargetBranch"
	KindMergeSentinel Kind = "MergeSentinel"
	KindCommandPatch  Kind = "CommandPatch"
)

// Handle is a structurally-compared tagged value naming a resource the
// scheduler reasons about. Equality is plain Go struct equality (all fields
// comparable), matching the design's "equality is structural" requirement.
type Handle struct {
	Kind   Kind   `json:"kind"`
	Slug   string `json:"slug,omitempty"`
	Branch string `json:"branch,omitempty"`
	Name   string `json:"name,omitempty"`
	JobID  string `json:"job_id,omitempty"`
}

// PlanBranch names the existence of the named draft branch.
func PlanBranch(slug, branch string) Handle {
	return Handle{Kind: KindPlanBranch, Slug: slug, Branch: branch}
}

// PlanDoc names the existence of the plan document on a branch.
func PlanDoc(slug, branch string) Handle {
	return Handle{Kind: KindPlanDoc, Slug: slug, Branch: branch}
}

// PlanCommits names a branch having advanced beyond its base with
// implementation commits.
func PlanCommits(slug, branch string) Handle {
	return Handle{Kind: KindPlanCommits, Slug: slug, Branch: branch}
}

// TargetBranch names the readiness/lock handle for an integration target.
func TargetBranch(name string) Handle {
	return Handle{Kind: KindTargetBranch, Name: name}
}

// MergeSentinel names a mutual-exclusion token for conflict-resolution state.
func MergeSentinel(slug string) Handle {
	return Handle{Kind: KindMergeSentinel, Slug: slug}
}

// CommandPatch names a captured input patch file a job needs.
func CommandPatch(jobID string) Handle {
	return Handle{Kind: KindCommandPatch, JobID: jobID}
}

// String renders the canonical "Kind(field=value, …)" form.
func (h Handle) String() string {
	switch h.Kind {
	case KindPlanBranch:
		return fmt.Sprintf("PlanBranch(slug=%s, branch=%s)", h.Slug, h.Branch)
	case KindPlanDoc:
		return fmt.Sprintf("PlanDoc(slug=%s, branch=%s)", h.Slug, h.Branch)
	case KindPlanCommits:
		return fmt.Sprintf("PlanCommits(slug=%s, branch=%s)", h.Slug, h.Branch)
	case KindTargetBranch:
		return fmt.Sprintf("TargetBranch(name=%s)", h.Name)
	case KindMergeSentinel:
		return fmt.Sprintf("MergeSentinel(slug=%s)", h.Slug)
	case KindCommandPatch:
		return fmt.Sprintf("CommandPatch(job_id=%s)", h.JobID)
	default:
		return fmt.Sprintf("%s(?)", h.Kind)
	}
}

// LockMode is the acquisition mode for a lock key.
type LockMode string

const (
	// LockExclusive is incompatible with any other holder of the same key.
	LockExclusive LockMode = "exclusive"
	// LockShared may coexist with any number of other shared holders.
	LockShared LockMode = "shared"
)

// Lock pairs an opaque key with an acquisition mode. The scheduler does not
// parse keys; conventional keys are formatted by the callers in this
// package for the benefit of human-readable job.json records.
type Lock struct {
	Key  string   `json:"key"`
	Mode LockMode `json:"mode"`
}

// RepoSerialLock is held exclusively by commands that need exclusive use of
// the repository working tree (currently only save).
func RepoSerialLock() Lock {
	return Lock{Key: "repo_serial", Mode: LockExclusive}
}

// BranchLock is held exclusively by commands mutating a named branch.
func BranchLock(name string) Lock {
	return Lock{Key: "branch:" + name, Mode: LockExclusive}
}

// WorktreeLock is held exclusively for the lifetime of a job's disposable
// worktree, keyed by the job's own id.
func WorktreeLock(jobID string) Lock {
	return Lock{Key: "temp_worktree:" + jobID, Mode: LockExclusive}
}

// MergeSentinelLock is held exclusively during merge conflict resolution.
func MergeSentinelLock(slug string) Lock {
	return Lock{Key: "merge_sentinel:" + slug, Mode: LockExclusive}
}
