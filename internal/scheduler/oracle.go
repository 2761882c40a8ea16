package scheduler

import (
	"fmt"

	"github.com/JTan2231/vizier/internal/jobstore"
)

// Action is the oracle's verdict for a single job on one tick.
type Action string

const (
	// ActionUpdateStatus transitions the job to a new non-running,
	// non-terminal-commit status (waiting_on_deps, waiting_on_locks,
	// waiting_on_approval) without starting a child.
	ActionUpdateStatus Action = "update_status"
	// ActionBlock transitions the job to blocked_by_dependency. Distinct
	// from ActionUpdateStatus because a blocked job requires an explicit
	// retry to ever move again; a merely-waiting job re-evaluates every
	// tick on its own.
	ActionBlock Action = "block"
	// ActionStart commits every lock the job declares and transitions it to
	// running; the tick driver is responsible for actually spawning the
	// child process.
	ActionStart Action = "start"
	// ActionFailMissingChildArgs marks the job failed immediately: its
	// recorded command is empty, a state no enqueue path should produce and
	// which the oracle treats as a defensive, non-retryable failure.
	ActionFailMissingChildArgs Action = "fail_missing_child_args"
)

// Decision is the oracle's output for one job on one tick.
type Decision struct {
	JobID      string
	Action     Action
	NewStatus  jobstore.Status
	WaitReason *jobstore.WaitReason
}

// Evaluate computes the readiness decision for a single non-terminal,
// non-running job against facts, threading locks so that jobs evaluated
// later in the same tick see locks jobs evaluated earlier in the tick just
// committed. The check order is fixed: predecessor jobs, then artifact
// dependencies, then pinned-head freshness, then locks, then the
// missing-child-args defensive check — the first unsatisfied check wins and
// later checks are not consulted. Missing child args runs last so a
// tampered record that's also waiting on a lock reports waiting_on_locks,
// not a premature non-retryable failure.
func Evaluate(rec *jobstore.Record, facts *Facts, locks *LockState) Decision {
	if rec.Schedule.Approval != nil && rec.Schedule.Approval.Required {
		switch rec.Schedule.Approval.State {
		case "approved":
			// falls through to the remaining checks
		case "rejected":
			return blockedDecision(rec.ID, jobstore.WaitKindDependencies, "rejected by approval")
		default:
			return Decision{JobID: rec.ID, Action: ActionUpdateStatus, NewStatus: jobstore.StatusWaitingOnApproval}
		}
	}

	if wait, blocked := evaluateAfter(rec, facts); blocked != nil {
		return *blocked
	} else if wait != nil {
		return *wait
	}

	if wait, blocked := evaluateArtifacts(rec, facts); blocked != nil {
		return *blocked
	} else if wait != nil {
		return *wait
	}

	if wait := evaluatePinnedHead(rec, facts); wait != nil {
		return *wait
	}

	if !locks.CanAcquireAll(rec.Schedule.Locks) {
		return waitDecision(rec.ID, jobstore.StatusWaitingOnLocks, jobstore.WaitKindLocks, "waiting on locks")
	}

	if len(rec.Command) == 0 {
		return Decision{JobID: rec.ID, Action: ActionFailMissingChildArgs, NewStatus: jobstore.StatusFailed,
			WaitReason: &jobstore.WaitReason{Kind: jobstore.WaitKindDependencies, Detail: "missing child args"}}
	}

	locks.Acquire(rec.Schedule.Locks)
	return Decision{JobID: rec.ID, Action: ActionStart, NewStatus: jobstore.StatusRunning}
}

// EvaluateAll runs Evaluate over every job that is neither terminal nor
// already running, in the order given (the store lists jobs by created_at
// then id, so callers that pass a Store.List() result get a stable,
// deterministic pass), threading one LockState across the whole tick.
func EvaluateAll(records []*jobstore.Record, facts *Facts, locks *LockState) []Decision {
	var decisions []Decision
	for _, rec := range records {
		if rec.Status.IsTerminal() || rec.Status == jobstore.StatusRunning {
			continue
		}
		decisions = append(decisions, Evaluate(rec, facts, locks))
	}
	return decisions
}

func waitDecision(id string, status jobstore.Status, kind jobstore.WaitKind, detail string) Decision {
	return Decision{
		JobID:      id,
		Action:     ActionUpdateStatus,
		NewStatus:  status,
		WaitReason: &jobstore.WaitReason{Kind: kind, Detail: detail},
	}
}

func blockedDecision(id string, kind jobstore.WaitKind, detail string) Decision {
	return Decision{
		JobID:      id,
		Action:     ActionBlock,
		NewStatus:  jobstore.StatusBlockedByDependency,
		WaitReason: &jobstore.WaitReason{Kind: kind, Detail: detail},
	}
}

// evaluateAfter checks every predecessor job id in rec.Schedule.After, in
// order, and returns on the first one not satisfied: (wait, nil) to keep
// waiting, (nil, blocked) to permanently block, or (nil, nil) if every
// predecessor already succeeded.
func evaluateAfter(rec *jobstore.Record, facts *Facts) (wait, blocked *Decision) {
	for _, entry := range rec.Schedule.After {
		pred, ok := facts.job(entry.JobID)
		if !ok {
			d := blockedDecision(rec.ID, jobstore.WaitKindDependencies, fmt.Sprintf("missing job dependency %s", entry.JobID))
			return nil, &d
		}
		if pred.Status == jobstore.StatusSucceeded {
			continue
		}
		if pred.Status.IsTerminal() {
			d := blockedDecision(rec.ID, jobstore.WaitKindDependencies, fmt.Sprintf("dependency failed for job %s (%s)", entry.JobID, pred.Status))
			return nil, &d
		}
		d := waitDecision(rec.ID, jobstore.StatusWaitingOnDeps, jobstore.WaitKindDependencies, fmt.Sprintf("waiting on job %s", entry.JobID))
		return &d, nil
	}
	return nil, nil
}

// evaluateArtifacts checks every artifact handle in rec.Schedule.Dependencies
// against the tick's precomputed Facts.Artifacts, in order, with the same
// wait/blocked/ok return shape as evaluateAfter.
func evaluateArtifacts(rec *jobstore.Record, facts *Facts) (wait, blocked *Decision) {
	for _, h := range rec.Schedule.Dependencies {
		state := facts.artifact(h)
		if state.Exists {
			continue
		}
		if len(state.ProducerStatuses) == 0 {
			d := blockedDecision(rec.ID, jobstore.WaitKindDependencies, fmt.Sprintf("missing %s", h))
			return nil, &d
		}
		// Active outranks terminal: a producer still running wins over any
		// number of failed producers of the same artifact.
		if state.HasActiveProducer() {
			d := waitDecision(rec.ID, jobstore.StatusWaitingOnDeps, jobstore.WaitKindDependencies, fmt.Sprintf("waiting on %s", h))
			return &d, nil
		}
		if state.HasSucceededProducer() {
			d := blockedDecision(rec.ID, jobstore.WaitKindDependencies, fmt.Sprintf("missing %s", h))
			return nil, &d
		}
		d := blockedDecision(rec.ID, jobstore.WaitKindDependencies, fmt.Sprintf("dependency failed for %s", h))
		return nil, &d
	}
	return nil, nil
}

// evaluatePinnedHead checks a job's pinned-head fact, if any, against the
// tick's observed branch oid. A job enqueued against a stale or moved branch
// waits rather than blocks: the branch may simply not have been pushed yet.
func evaluatePinnedHead(rec *jobstore.Record, facts *Facts) *Decision {
	ph := rec.Schedule.PinnedHead
	if ph == nil {
		return nil
	}
	current, ok := facts.HeadOID[ph.Branch]
	if !ok || current != ph.OID {
		d := waitDecision(rec.ID, jobstore.StatusWaitingOnDeps, jobstore.WaitKindPinnedHead, fmt.Sprintf("pinned head mismatch on %s", ph.Branch))
		return &d
	}
	return nil
}
