// Package lifecycle implements the operator-facing actions that sit outside
// the readiness oracle's own decision loop: retrying a blocked job and its
// downstream consumers, cancelling a running job's process tree, recording
// an approval decision, and garbage-collecting old terminal job directories.
// Process-tree discovery (listProcesses/descendantPIDs) is adapted from the
// teacher's run-cancellation command, which shells to `ps` rather than
// walking /proc directly so it behaves the same on macOS and Linux.
package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/schederr"
	"github.com/JTan2231/vizier/internal/vcs"
	"github.com/JTan2231/vizier/internal/worker"
)

// Manager groups the job store and vcs collaborator the lifecycle
// operations act on.
type Manager struct {
	Store jobstore.Store
	VCS   *vcs.Collaborator
}

// New wires a Manager.
func New(store jobstore.Store, v *vcs.Collaborator) *Manager {
	return &Manager{Store: store, VCS: v}
}

// Retry resets a terminal job back to queued, clearing its run bookkeeping
// (finished_at, exit_code, pid) but preserving its monotone WaitedOn
// history, then cascades the same reset to every other terminal job in the
// store that named it as an `after` predecessor or that is blocked on an
// artifact this job produces — a retried producer's consumers get another
// chance too, rather than staying permanently blocked on a dependency that
// just un-failed. The cascade cannot cycle: artifact handles are fixed at
// enqueue time and a job never names itself as a predecessor or producer of
// its own dependency.
func (m *Manager) Retry(id string) ([]string, error) {
	rec, err := m.Store.Load(id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsTerminal() {
		return nil, schederr.New(schederr.KindEnqueueRejected, "job "+id+" is not in a terminal state")
	}
	produced := rec.Schedule.Artifacts

	reset := []string{id}
	if err := m.resetToQueued(id); err != nil {
		return nil, err
	}

	all, err := m.Store.List()
	if err != nil {
		return reset, err
	}
	for _, other := range all {
		if !other.Status.IsTerminal() {
			continue
		}
		blockedOnArtifact := other.Status == jobstore.StatusBlockedByDependency && dependsOnArtifact(other, produced)
		if !dependsOn(other, id) && !blockedOnArtifact {
			continue
		}
		if err := m.resetToQueued(other.ID); err != nil {
			return reset, err
		}
		reset = append(reset, other.ID)
	}
	return reset, nil
}

func (m *Manager) resetToQueued(id string) error {
	return m.Store.Update(id, func(r *jobstore.Record) error {
		r.Status = jobstore.StatusQueued
		r.Schedule.WaitReason = nil
		r.FinishedAt = nil
		r.ExitCode = nil
		r.PID = nil
		return nil
	})
}

func dependsOn(rec *jobstore.Record, id string) bool {
	for _, entry := range rec.Schedule.After {
		if entry.JobID == id {
			return true
		}
	}
	return false
}

func dependsOnArtifact(rec *jobstore.Record, produced []artifact.Handle) bool {
	for _, dep := range rec.Schedule.Dependencies {
		for _, h := range produced {
			if dep == h {
				return true
			}
		}
	}
	return false
}

// Approve records a decision against a job waiting on approval.
func (m *Manager) Approve(id string, approved bool) error {
	decidedBy, err := currentUser()
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "resolve approver identity", err)
	}
	return m.Store.Update(id, func(r *jobstore.Record) error {
		if r.Schedule.Approval == nil || !r.Schedule.Approval.Required {
			return schederr.New(schederr.KindEnqueueRejected, "job "+id+" does not require approval")
		}
		now := time.Now().UTC()
		r.Schedule.Approval.DecidedAt = &now
		r.Schedule.Approval.DecidedBy = decidedBy
		if approved {
			r.Schedule.Approval.State = "approved"
			r.Status = jobstore.StatusQueued
		} else {
			r.Schedule.Approval.State = "rejected"
			r.Status = jobstore.StatusBlockedByDependency
		}
		return nil
	})
}

// currentUser resolves a non-spoofable local identity for "decided_by",
// rather than trusting an operator-supplied flag.
func currentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Cancel sends sig to a running job's pid and to every descendant of it found
// in the process table, marks the job cancelled, and then, if worktreePath is
// set, asks vcs to remove that worktree. It does not wait for the signalled
// processes to exit before removing the worktree. A job that is not running
// is rejected.
func (m *Manager) Cancel(ctx context.Context, id string, sig syscall.Signal, worktreePath string) error {
	rec, err := m.Store.Load(id)
	if err != nil {
		return err
	}
	if rec.Status != jobstore.StatusRunning || rec.PID == nil {
		return schederr.New(schederr.KindEnqueueRejected, "job "+id+" is not running")
	}

	procs, err := listProcesses()
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "list processes", err)
	}
	pids := descendantPIDs(procs, *rec.PID)
	pids = append(pids, *rec.PID)

	var failures []string
	for _, pid := range pids {
		if err := syscall.Kill(pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			failures = append(failures, fmt.Sprintf("pid %d: %v", pid, err))
		}
	}

	if err := m.Store.Update(id, func(r *jobstore.Record) error {
		now := time.Now().UTC()
		r.Status = jobstore.StatusCancelled
		r.FinishedAt = &now
		return nil
	}); err != nil {
		failures = append(failures, err.Error())
	}

	if worktreePath != "" {
		if err := m.VCS.RemoveWorktree(ctx, worktreePath); err != nil {
			failures = append(failures, fmt.Sprintf("remove worktree: %v", err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("cancel completed with errors: %s", strings.Join(failures, "; "))
	}
	return nil
}

// GC removes terminal job directories older than retentionDays. A
// retentionDays of zero sweeps every terminal job regardless of age. Eligible
// directories are deleted concurrently through a bounded worker pool since a
// large backlog of old jobs otherwise makes gc's wall-clock cost scale with
// disk latency times job count rather than just the slowest one.
func (m *Manager) GC(retentionDays int, now time.Time) ([]string, error) {
	records, err := m.Store.List()
	if err != nil {
		return nil, err
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	var eligible []string
	for _, rec := range records {
		if !rec.Status.IsTerminal() {
			continue
		}
		age := rec.CreatedAt
		if rec.FinishedAt != nil {
			age = *rec.FinishedAt
		}
		if retentionDays > 0 && age.After(cutoff) {
			continue
		}
		eligible = append(eligible, rec.ID)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	pool := worker.NewPool[struct{}](0)
	results := pool.Process(eligible, func(id string) (struct{}, error) {
		return struct{}{}, m.Store.Delete(id)
	})

	var removed []string
	for _, r := range results {
		if r.Err != nil {
			return removed, r.Err
		}
		removed = append(removed, eligible[r.Index])
	}
	return removed, nil
}

type processEntry struct {
	PID     int
	PPID    int
	Command string
}

func listProcesses() ([]processEntry, error) {
	out, err := exec.Command("ps", "-axo", "pid=,ppid=,command=").Output()
	if err != nil {
		return nil, err
	}

	var procs []processEntry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cmd := ""
		if len(fields) > 2 {
			cmd = strings.Join(fields[2:], " ")
		}
		procs = append(procs, processEntry{PID: pid, PPID: ppid, Command: cmd})
	}
	return procs, scanner.Err()
}

// descendantPIDs walks the process table breadth-first from root, returning
// every pid whose ancestry leads back to it.
func descendantPIDs(procs []processEntry, root int) []int {
	childrenOf := make(map[int][]int)
	for _, p := range procs {
		childrenOf[p.PPID] = append(childrenOf[p.PPID], p.PID)
	}

	var out []int
	queue := []int{root}
	seen := map[int]bool{root: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf[pid] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}
