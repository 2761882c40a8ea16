// Package ticklock serializes scheduler ticks across concurrent vizier
// invocations (a finalizing child and an interactive "jobs schedule" call
// both landing at once) with a single process-external advisory lock file.
// Unlike the teacher's supervisor lease (a non-blocking flock plus a
// heartbeat goroutine racing other holders out), a tick must never be
// skipped — callers block until the lock is free, run one tick, and
// release.
package ticklock

import (
	"context"
	"time"

	"github.com/gofrs/flock"

	"github.com/JTan2231/vizier/internal/layout"
	"github.com/JTan2231/vizier/internal/schederr"
)

// pollInterval is how often TryLockContext re-attempts the lock while
// blocked behind another holder.
const pollInterval = 50 * time.Millisecond

// Lock wraps the on-disk tick lock at ".vizier/jobs/.lock".
type Lock struct {
	fl *flock.Flock
}

// Open prepares (without acquiring) the tick lock for repoRoot.
func Open(repoRoot string) *Lock {
	return &Lock{fl: flock.New(layout.TickLockPath(repoRoot))}
}

// Acquire blocks until the tick lock is held or ctx is done. The returned
// release func must be called exactly once.
func (l *Lock) Acquire(ctx context.Context) (release func(), err error) {
	locked, err := l.fl.TryLockContext(ctx, pollInterval)
	if err != nil {
		return nil, schederr.Wrap(schederr.KindIoFatal, "acquire tick lock", err)
	}
	if !locked {
		return nil, schederr.New(schederr.KindIoFatal, "tick lock not acquired before context cancellation")
	}
	return func() { _ = l.fl.Unlock() }, nil
}

// Locked reports whether this process currently holds the lock. Exposed for
// tests and for a "jobs schedule --status" style diagnostic.
func (l *Lock) Locked() bool {
	return l.fl.Locked()
}
