// Package scheduler holds the readiness oracle and the per-tick driver that
// applies its decisions. The oracle itself (this file and oracle.go) is a
// pure function over a precomputed Facts snapshot: nothing in here touches
// the filesystem, git, or a clock, so it can be exhaustively table-tested.
package scheduler

import (
	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/jobstore"
)

// ArtifactState is the precomputed existence/provenance snapshot for one
// artifact handle, gathered once per tick (via the vcs collaborator, fanned
// out and memoized across the jobs sharing a handle) so Evaluate never
// blocks on I/O.
type ArtifactState struct {
	Exists bool
	// ProducerStatuses holds the status of every job in this tick's batch
	// that declares this handle among its own Schedule.Artifacts — a
	// multiset, not a single status, because more than one job may promise
	// the same artifact (e.g. a retried draft alongside its predecessor).
	// An active producer outranks any terminal one when both are present.
	ProducerStatuses []jobstore.Status
}

// HasActiveProducer reports whether any producer of this artifact is still
// queued, waiting, or running.
func (a ArtifactState) HasActiveProducer() bool {
	for _, s := range a.ProducerStatuses {
		if s.IsActive() {
			return true
		}
	}
	return false
}

// HasSucceededProducer reports whether any producer of this artifact
// reached succeeded (even if the artifact itself is no longer realized).
func (a ArtifactState) HasSucceededProducer() bool {
	for _, s := range a.ProducerStatuses {
		if s == jobstore.StatusSucceeded {
			return true
		}
	}
	return false
}

// Facts is the immutable snapshot the oracle evaluates against, built once
// per tick before any decision is computed.
type Facts struct {
	Jobs      map[string]*jobstore.Record
	Artifacts map[artifact.Handle]ArtifactState
	// HeadOID maps branch name to the oid it currently points at. A branch
	// absent from the map is treated as not-yet-existing.
	HeadOID map[string]string
}

func (f *Facts) job(id string) (*jobstore.Record, bool) {
	r, ok := f.Jobs[id]
	return r, ok
}

func (f *Facts) artifact(h artifact.Handle) ArtifactState {
	return f.Artifacts[h]
}

// LockState tracks locks committed by Start decisions within a single tick.
// Evaluating jobs in order and mutating one LockState across the whole pass
// is what makes a tick's lock grants consistent with each other without a
// second pass.
type LockState struct {
	held map[string]artifact.LockMode
}

// NewLockState returns an empty lock table.
func NewLockState() *LockState {
	return &LockState{held: make(map[string]artifact.LockMode)}
}

// NewLockStateFromRunning seeds a lock table with every lock held by jobs
// currently in StatusRunning, matching the fact-bundle's "initial lock_state
// -> all keys held by currently-running jobs" requirement. A queued job
// contending with a running job for the same exclusive key must see that
// key held, not free, the first time it's evaluated.
func NewLockStateFromRunning(records []*jobstore.Record) *LockState {
	ls := NewLockState()
	for _, rec := range records {
		if rec.Status == jobstore.StatusRunning {
			ls.Acquire(rec.Schedule.Locks)
		}
	}
	return ls
}

// CanAcquireAll reports whether every lock in locks is compatible with
// what's currently held: two exclusive holders never coexist on the same
// key, and an exclusive holder excludes any shared holder on that key too.
func (ls *LockState) CanAcquireAll(locks []artifact.Lock) bool {
	for _, l := range locks {
		mode, held := ls.held[l.Key]
		if !held {
			continue
		}
		if mode == artifact.LockExclusive || l.Mode == artifact.LockExclusive {
			return false
		}
	}
	return true
}

// Acquire commits locks as held. Callers must have already confirmed
// CanAcquireAll for the same slice.
func (ls *LockState) Acquire(locks []artifact.Lock) {
	for _, l := range locks {
		if l.Mode == artifact.LockExclusive {
			ls.held[l.Key] = artifact.LockExclusive
			continue
		}
		if _, exists := ls.held[l.Key]; !exists {
			ls.held[l.Key] = artifact.LockShared
		}
	}
}
