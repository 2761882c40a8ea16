package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JTan2231/vizier/internal/jobstore"
	"github.com/JTan2231/vizier/internal/vcs"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	return New(jobstore.New(root), vcs.New(root))
}

func TestRetryResetsBlockedJobToQueued(t *testing.T) {
	m := newManager(t)
	rec := &jobstore.Record{
		ID: "job-1", Status: jobstore.StatusBlockedByDependency, CreatedAt: time.Now().UTC(),
		Schedule: jobstore.Schedule{WaitReason: &jobstore.WaitReason{Kind: jobstore.WaitKindDependencies, Detail: "dependency failed for job pred-1 (failed)"}},
	}
	require.NoError(t, m.Store.Enqueue(rec))

	reset, err := m.Retry("job-1")
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, reset)

	loaded, err := m.Store.Load("job-1")
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusQueued, loaded.Status)
	require.Nil(t, loaded.Schedule.WaitReason)
}

func TestRetryCascadesToTerminalConsumers(t *testing.T) {
	m := newManager(t)
	producer := &jobstore.Record{ID: "job-1", Status: jobstore.StatusFailed, CreatedAt: time.Now().UTC()}
	consumer := &jobstore.Record{
		ID: "job-2", Status: jobstore.StatusBlockedByDependency, CreatedAt: time.Now().UTC(),
		Schedule: jobstore.Schedule{After: []jobstore.AfterEntry{{JobID: "job-1", Policy: jobstore.PolicySuccess}}},
	}
	require.NoError(t, m.Store.Enqueue(producer))
	require.NoError(t, m.Store.Enqueue(consumer))

	reset, err := m.Retry("job-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"job-1", "job-2"}, reset)

	loadedConsumer, err := m.Store.Load("job-2")
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusQueued, loadedConsumer.Status)
}

func TestRetryRejectsNonTerminalJob(t *testing.T) {
	m := newManager(t)
	rec := &jobstore.Record{ID: "job-1", Status: jobstore.StatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, m.Store.Enqueue(rec))

	_, err := m.Retry("job-1")
	require.Error(t, err)
}

func TestApproveGrantsAndQueues(t *testing.T) {
	m := newManager(t)
	rec := &jobstore.Record{
		ID: "job-1", Status: jobstore.StatusWaitingOnApproval, CreatedAt: time.Now().UTC(),
		Schedule: jobstore.Schedule{Approval: &jobstore.ApprovalState{Required: true, State: "pending"}},
	}
	require.NoError(t, m.Store.Enqueue(rec))

	require.NoError(t, m.Approve("job-1", true))

	loaded, err := m.Store.Load("job-1")
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusQueued, loaded.Status)
	require.Equal(t, "approved", loaded.Schedule.Approval.State)
	require.NotEmpty(t, loaded.Schedule.Approval.DecidedBy)
}

func TestApproveRejectsBlocksJob(t *testing.T) {
	m := newManager(t)
	rec := &jobstore.Record{
		ID: "job-1", Status: jobstore.StatusWaitingOnApproval, CreatedAt: time.Now().UTC(),
		Schedule: jobstore.Schedule{Approval: &jobstore.ApprovalState{Required: true, State: "pending"}},
	}
	require.NoError(t, m.Store.Enqueue(rec))

	require.NoError(t, m.Approve("job-1", false))

	loaded, err := m.Store.Load("job-1")
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusBlockedByDependency, loaded.Status)
	require.Equal(t, "rejected", loaded.Schedule.Approval.State)
}

func TestApproveRejectsJobWithoutApprovalGate(t *testing.T) {
	m := newManager(t)
	rec := &jobstore.Record{ID: "job-1", Status: jobstore.StatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, m.Store.Enqueue(rec))

	err := m.Approve("job-1", true)
	require.Error(t, err)
}

func TestGCRemovesOldTerminalJobs(t *testing.T) {
	m := newManager(t)
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -10)
	oldFinished := old
	recent := &jobstore.Record{ID: "recent", Status: jobstore.StatusSucceeded, CreatedAt: now, FinishedAt: &now}
	stale := &jobstore.Record{ID: "stale", Status: jobstore.StatusFailed, CreatedAt: old, FinishedAt: &oldFinished}
	running := &jobstore.Record{ID: "running", Status: jobstore.StatusRunning, CreatedAt: old}

	require.NoError(t, m.Store.Enqueue(recent))
	require.NoError(t, m.Store.Enqueue(stale))
	require.NoError(t, m.Store.Enqueue(running))

	removed, err := m.GC(7, now)
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, removed)

	_, err = m.Store.Load("recent")
	require.NoError(t, err)
	_, err = m.Store.Load("running")
	require.NoError(t, err)
}

func TestGCWithZeroRetentionSweepsAllTerminal(t *testing.T) {
	m := newManager(t)
	now := time.Now().UTC()
	rec := &jobstore.Record{ID: "job-1", Status: jobstore.StatusSucceeded, CreatedAt: now, FinishedAt: &now}
	require.NoError(t, m.Store.Enqueue(rec))

	removed, err := m.GC(0, now)
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, removed)
}
