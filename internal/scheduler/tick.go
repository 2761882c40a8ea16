package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/schederr"
	"github.com/JTan2231/vizier/internal/ticklock"
	"github.com/JTan2231/vizier/internal/vcs"
)

// Driver runs one scheduler tick at a time against a job store and a vcs
// collaborator, serialized by a ticklock.Lock so two concurrent invocations
// (an interactive command and a finalizing child) never race each other's
// status writes.
type Driver struct {
	Store jobstore.Store
	VCS   *vcs.Collaborator
	Lock  *ticklock.Lock
}

// NewDriver wires a Driver from a repo root.
func NewDriver(repoRoot string) *Driver {
	return &Driver{
		Store: jobstore.New(repoRoot),
		VCS:   vcs.New(repoRoot),
		Lock:  ticklock.Open(repoRoot),
	}
}

// Tick runs crash recovery, builds this tick's Facts, evaluates every
// non-terminal non-running job, and applies the resulting decisions —
// including spawning children for jobs the oracle starts.
func (d *Driver) Tick(ctx context.Context) error {
	release, err := d.Lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	records, err := d.Store.List()
	if err != nil {
		return err
	}

	if err := d.recoverCrashedChildren(records); err != nil {
		return err
	}

	facts, err := d.buildFacts(ctx, records)
	if err != nil {
		return err
	}

	locks := NewLockStateFromRunning(records)
	decisions := EvaluateAll(records, facts, locks)

	for _, dec := range decisions {
		if err := d.apply(ctx, dec); err != nil {
			return err
		}
	}
	return nil
}

// recoverCrashedChildren marks any job recorded as running, but whose
// recorded pid is no longer alive, as failed, with a wait_reason detail
// naming the dead pid. A tick that reboots after the whole machine died is the common
// case this guards against.
func (d *Driver) recoverCrashedChildren(records []*jobstore.Record) error {
	for _, rec := range records {
		if rec.Status != jobstore.StatusRunning || rec.PID == nil {
			continue
		}
		if processAlive(*rec.PID) {
			continue
		}
		id := rec.ID
		err := d.Store.Update(id, func(r *jobstore.Record) error {
			now := time.Now().UTC()
			r.Status = jobstore.StatusFailed
			r.FinishedAt = &now
			r.Schedule.WaitReason = &jobstore.WaitReason{
				Kind:   jobstore.WaitKindDependencies,
				Detail: fmt.Sprintf("child process %d no longer running", *rec.PID),
			}
			return nil
		})
		if err != nil {
			return schederr.Wrap(schederr.KindChildCrash, "record crashed child for job "+id, err)
		}
	}
	return nil
}

// buildFacts gathers every piece of VCS-derived state EvaluateAll might
// need across the whole batch, in one fanned-out pass, so the oracle loop
// itself performs no I/O.
func (d *Driver) buildFacts(ctx context.Context, records []*jobstore.Record) (*Facts, error) {
	byID := make(map[string]*jobstore.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	producers := make(map[artifact.Handle][]jobstore.Status)
	var handles []artifact.Handle
	branches := make(map[string]struct{})

	for _, rec := range records {
		for _, h := range rec.Schedule.Artifacts {
			producers[h] = append(producers[h], rec.Status)
		}
	}
	for _, rec := range records {
		if rec.Status.IsTerminal() || rec.Status == jobstore.StatusRunning {
			continue
		}
		handles = append(handles, rec.Schedule.Dependencies...)
		if rec.Schedule.PinnedHead != nil {
			branches[rec.Schedule.PinnedHead.Branch] = struct{}{}
		}
	}

	existence, err := d.VCS.ExistsAll(ctx, handles)
	if err != nil {
		return nil, schederr.Wrap(schederr.KindVcsUnavailable, "resolve artifact existence", err)
	}

	artifactStates := make(map[artifact.Handle]ArtifactState, len(existence))
	for h, exists := range existence {
		artifactStates[h] = ArtifactState{Exists: exists, ProducerStatuses: producers[h]}
	}

	headOID := make(map[string]string, len(branches))
	for branch := range branches {
		oid, err := d.VCS.BranchOID(ctx, branch)
		if err != nil {
			continue // branch not yet pushed; pinned-head check treats this as a mismatch, not a fatal error
		}
		headOID[branch] = oid
	}

	return &Facts{Jobs: byID, Artifacts: artifactStates, HeadOID: headOID}, nil
}

// apply writes a Decision back to the store, spawning a detached child for
// ActionStart.
func (d *Driver) apply(ctx context.Context, dec Decision) error {
	switch dec.Action {
	case ActionStart:
		return d.startJob(ctx, dec)
	case ActionFailMissingChildArgs:
		return d.Store.Update(dec.JobID, func(r *jobstore.Record) error {
			now := time.Now().UTC()
			r.Status = jobstore.StatusFailed
			r.FinishedAt = &now
			r.Schedule.WaitReason = dec.WaitReason
			return nil
		})
	default: // ActionUpdateStatus, ActionBlock
		return d.Store.Update(dec.JobID, func(r *jobstore.Record) error {
			r.Status = dec.NewStatus
			r.Schedule.WaitReason = dec.WaitReason
			if dec.WaitReason != nil {
				r.Schedule.AppendWaitKind(dec.WaitReason.Kind)
			}
			return nil
		})
	}
}

// startJob spawns the job's recorded command as a detached child (its own
// process group, so a cancelled or crashed vizier process doesn't take the
// child down with it), wiring its stdout/stderr to the job's log files, and
// commits the running status with the observed pid.
func (d *Driver) startJob(ctx context.Context, dec Decision) error {
	rec, err := d.Store.Load(dec.JobID)
	if err != nil {
		return err
	}
	if len(rec.Command) == 0 {
		return schederr.New(schederr.KindMissingChildArgs, "job "+dec.JobID+" has no recorded command")
	}

	stdout, err := d.Store.OpenStdoutAppend(dec.JobID)
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "open stdout log", err)
	}
	defer stdout.Close()
	stderr, err := d.Store.OpenStderrAppend(dec.JobID)
	if err != nil {
		return schederr.Wrap(schederr.KindIoFatal, "open stderr log", err)
	}
	defer stderr.Close()

	args := append([]string{}, rec.Command[1:]...)
	args = append(args, "--background-job-id", dec.JobID)
	cmd := exec.Command(rec.Command[0], args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return schederr.Wrap(schederr.KindChildCrash, "spawn job "+dec.JobID, err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }() // reaps the child; terminal status is written by its own --background-job-id finalize step

	return d.Store.Update(dec.JobID, func(r *jobstore.Record) error {
		now := time.Now().UTC()
		r.Status = jobstore.StatusRunning
		r.StartedAt = &now
		r.PID = &pid
		return nil
	})
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
