package jobstore

import (
	"time"

	"github.com/JTan2231/vizier/internal/artifact"
)

// Status is one of the job lifecycle states.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusWaitingOnDeps       Status = "waiting_on_deps"
	StatusWaitingOnLocks      Status = "waiting_on_locks"
	StatusRunning             Status = "running"
	StatusSucceeded           Status = "succeeded"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
	StatusBlockedByDependency Status = "blocked_by_dependency"
	StatusWaitingOnApproval   Status = "waiting_on_approval"
)

// IsTerminal reports whether a status only changes via explicit retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusBlockedByDependency:
		return true
	default:
		return false
	}
}

// IsActive reports whether a status is queued, waiting, or running.
func (s Status) IsActive() bool {
	switch s {
	case StatusQueued, StatusWaitingOnDeps, StatusWaitingOnLocks, StatusRunning, StatusWaitingOnApproval:
		return true
	default:
		return false
	}
}

// AfterPolicy is the predecessor-satisfaction policy for an `after` entry.
// Extensible; "success" is the only member today.
type AfterPolicy string

// PolicySuccess requires the predecessor to reach StatusSucceeded.
const PolicySuccess AfterPolicy = "success"

// AfterEntry references a predecessor job id with a satisfaction policy.
type AfterEntry struct {
	JobID  string      `json:"job_id"`
	Policy AfterPolicy `json:"policy"`
}

// WaitKind classifies why a job is not running.
type WaitKind string

const (
	WaitKindDependencies WaitKind = "dependencies"
	WaitKindLocks        WaitKind = "locks"
	WaitKindPinnedHead   WaitKind = "pinned_head"
)

// WaitReason is the oracle's last-computed, purely informational reason.
type WaitReason struct {
	Kind   WaitKind `json:"kind"`
	Detail string   `json:"detail,omitempty"`
}

// PinnedHead records the HEAD commit a job was enqueued against.
type PinnedHead struct {
	Branch string `json:"branch"`
	OID    string `json:"oid"`
}

// ApprovalState gates a job behind an explicit lifecycle approval call.
type ApprovalState struct {
	Required  bool       `json:"required"`
	State     string     `json:"state"` // pending | approved | rejected
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`
}

// Schedule carries every readiness-relevant field of a job record.
type Schedule struct {
	After        []AfterEntry      `json:"after"`
	Dependencies []artifact.Handle `json:"dependencies"`
	Locks        []artifact.Lock   `json:"locks"`
	Artifacts    []artifact.Handle `json:"artifacts"`
	PinnedHead   *PinnedHead       `json:"pinned_head,omitempty"`
	WaitReason   *WaitReason       `json:"wait_reason,omitempty"`
	WaitedOn     []WaitKind        `json:"waited_on,omitempty"`
	Approval     *ApprovalState    `json:"approval,omitempty"`
}

// Record is the persisted, one-per-job document at
// ".vizier/jobs/<id>/job.json".
type Record struct {
	ID             string            `json:"id"`
	Status         Status            `json:"status"`
	Command        []string          `json:"command"`
	RecordedArgs   []string          `json:"recorded_args"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	PID            *int              `json:"pid,omitempty"`
	ExitCode       *int              `json:"exit_code,omitempty"`
	StdoutPath     string            `json:"stdout_path"`
	StderrPath     string            `json:"stderr_path"`
	SessionPath    string            `json:"session_path,omitempty"`
	OutcomePath    string            `json:"outcome_path,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ConfigSnapshot map[string]string `json:"config_snapshot,omitempty"`
	Schedule       Schedule          `json:"schedule"`
}

// AppendWaitKind appends kind to WaitedOn if not already present. Monotone:
// the set never shrinks; lifecycle.Retry keeps it as well.
func (s *Schedule) AppendWaitKind(kind WaitKind) {
	for _, k := range s.WaitedOn {
		if k == kind {
			return
		}
	}
	s.WaitedOn = append(s.WaitedOn, kind)
}

// DedupeAfter deduplicates After entries while preserving first-occurrence
// order, per the enqueue planner's contract for --after handling.
func DedupeAfter(entries []AfterEntry) []AfterEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]AfterEntry, 0, len(entries))
	for _, e := range entries {
		if seen[e.JobID] {
			continue
		}
		seen[e.JobID] = true
		out = append(out, e)
	}
	return out
}
