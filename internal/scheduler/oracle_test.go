package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/jobstore"
)

func baseRecord(id string) *jobstore.Record {
	return &jobstore.Record{
		ID:      id,
		Status:  jobstore.StatusQueued,
		Command: []string{"save", "--slug", "widget"},
	}
}

func TestEvaluateStartsWhenNothingBlocks(t *testing.T) {
	rec := baseRecord("job-1")
	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": rec}}
	locks := NewLockState()

	d := Evaluate(rec, facts, locks)

	require.Equal(t, ActionStart, d.Action)
	require.Equal(t, jobstore.StatusRunning, d.NewStatus)
	require.Nil(t, d.WaitReason)
}

func TestEvaluateMissingChildArgsFailsImmediately(t *testing.T) {
	rec := baseRecord("job-1")
	rec.Command = nil
	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": rec}}

	d := Evaluate(rec, facts, NewLockState())

	require.Equal(t, ActionFailMissingChildArgs, d.Action)
	require.Equal(t, jobstore.StatusFailed, d.NewStatus)
}

func TestEvaluateLockWaitBeatsMissingChildArgs(t *testing.T) {
	holder := baseRecord("job-1")
	holder.Schedule.Locks = []artifact.Lock{artifact.BranchLock("vizier/widget")}
	contender := baseRecord("job-2")
	contender.Command = nil
	contender.Schedule.Locks = []artifact.Lock{artifact.BranchLock("vizier/widget")}

	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": holder, "job-2": contender}}
	locks := NewLockState()

	require.Equal(t, ActionStart, Evaluate(holder, facts, locks).Action)

	d := Evaluate(contender, facts, locks)
	require.Equal(t, ActionUpdateStatus, d.Action)
	require.Equal(t, jobstore.StatusWaitingOnLocks, d.NewStatus)
	require.Equal(t, "waiting on locks", d.WaitReason.Detail)
}

func TestEvaluateAfterDependencyMatrix(t *testing.T) {
	cases := []struct {
		name       string
		predecessor *jobstore.Record
		wantAction Action
		wantStatus jobstore.Status
		wantDetail string
	}{
		{
			name:        "predecessor missing entirely",
			predecessor: nil,
			wantAction:  ActionBlock,
			wantStatus:  jobstore.StatusBlockedByDependency,
			wantDetail:  "missing job dependency pred-1",
		},
		{
			name:        "predecessor still running",
			predecessor: &jobstore.Record{ID: "pred-1", Status: jobstore.StatusRunning},
			wantAction:  ActionUpdateStatus,
			wantStatus:  jobstore.StatusWaitingOnDeps,
			wantDetail:  "waiting on job pred-1",
		},
		{
			name:        "predecessor queued",
			predecessor: &jobstore.Record{ID: "pred-1", Status: jobstore.StatusQueued},
			wantAction:  ActionUpdateStatus,
			wantStatus:  jobstore.StatusWaitingOnDeps,
			wantDetail:  "waiting on job pred-1",
		},
		{
			name:        "predecessor failed",
			predecessor: &jobstore.Record{ID: "pred-1", Status: jobstore.StatusFailed},
			wantAction:  ActionBlock,
			wantStatus:  jobstore.StatusBlockedByDependency,
			wantDetail:  "dependency failed for job pred-1 (failed)",
		},
		{
			name:        "predecessor cancelled",
			predecessor: &jobstore.Record{ID: "pred-1", Status: jobstore.StatusCancelled},
			wantAction:  ActionBlock,
			wantStatus:  jobstore.StatusBlockedByDependency,
			wantDetail:  "dependency failed for job pred-1 (cancelled)",
		},
		{
			name:        "predecessor succeeded unblocks",
			predecessor: &jobstore.Record{ID: "pred-1", Status: jobstore.StatusSucceeded},
			wantAction:  ActionStart,
			wantStatus:  jobstore.StatusRunning,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := baseRecord("job-1")
			rec.Schedule.After = []jobstore.AfterEntry{{JobID: "pred-1", Policy: jobstore.PolicySuccess}}

			jobs := map[string]*jobstore.Record{"job-1": rec}
			if tc.predecessor != nil {
				jobs["pred-1"] = tc.predecessor
			}
			facts := &Facts{Jobs: jobs}

			d := Evaluate(rec, facts, NewLockState())

			require.Equal(t, tc.wantAction, d.Action)
			require.Equal(t, tc.wantStatus, d.NewStatus)
			if tc.wantDetail != "" {
				require.NotNil(t, d.WaitReason)
				require.Equal(t, tc.wantDetail, d.WaitReason.Detail)
			}
		})
	}
}

func TestEvaluateArtifactDependencyMatrix(t *testing.T) {
	handle := artifact.PlanBranch("widget", "vizier/widget")

	cases := []struct {
		name       string
		state      ArtifactState
		wantAction Action
		wantStatus jobstore.Status
		wantDetail string
	}{
		{
			name:       "artifact exists",
			state:      ArtifactState{Exists: true},
			wantAction: ActionStart,
			wantStatus: jobstore.StatusRunning,
		},
		{
			name:       "artifact missing, no known producer",
			state:      ArtifactState{Exists: false},
			wantAction: ActionBlock,
			wantStatus: jobstore.StatusBlockedByDependency,
			wantDetail: "missing " + handle.String(),
		},
		{
			name:       "artifact missing, producer still running",
			state:      ArtifactState{Exists: false, ProducerStatuses: []jobstore.Status{jobstore.StatusRunning}},
			wantAction: ActionUpdateStatus,
			wantStatus: jobstore.StatusWaitingOnDeps,
			wantDetail: "waiting on " + handle.String(),
		},
		{
			name:       "artifact missing, producer failed",
			state:      ArtifactState{Exists: false, ProducerStatuses: []jobstore.Status{jobstore.StatusFailed}},
			wantAction: ActionBlock,
			wantStatus: jobstore.StatusBlockedByDependency,
			wantDetail: "dependency failed for " + handle.String(),
		},
		{
			name:       "artifact missing, sole producer succeeded but artifact no longer realized",
			state:      ArtifactState{Exists: false, ProducerStatuses: []jobstore.Status{jobstore.StatusSucceeded}},
			wantAction: ActionBlock,
			wantStatus: jobstore.StatusBlockedByDependency,
			wantDetail: "missing " + handle.String(),
		},
		{
			name:       "artifact missing, one producer failed and another still running: active outranks terminal",
			state:      ArtifactState{Exists: false, ProducerStatuses: []jobstore.Status{jobstore.StatusFailed, jobstore.StatusRunning}},
			wantAction: ActionUpdateStatus,
			wantStatus: jobstore.StatusWaitingOnDeps,
			wantDetail: "waiting on " + handle.String(),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := baseRecord("job-1")
			rec.Schedule.Dependencies = []artifact.Handle{handle}
			facts := &Facts{
				Jobs:      map[string]*jobstore.Record{"job-1": rec},
				Artifacts: map[artifact.Handle]ArtifactState{handle: tc.state},
			}

			d := Evaluate(rec, facts, NewLockState())

			require.Equal(t, tc.wantAction, d.Action)
			require.Equal(t, tc.wantStatus, d.NewStatus)
			if tc.wantDetail != "" {
				require.NotNil(t, d.WaitReason)
				require.Equal(t, tc.wantDetail, d.WaitReason.Detail)
			}
		})
	}
}

func TestEvaluatePinnedHeadMismatchWaits(t *testing.T) {
	rec := baseRecord("job-1")
	rec.Schedule.PinnedHead = &jobstore.PinnedHead{Branch: "main", OID: "abc123"}
	facts := &Facts{
		Jobs:    map[string]*jobstore.Record{"job-1": rec},
		HeadOID: map[string]string{"main": "def456"},
	}

	d := Evaluate(rec, facts, NewLockState())

	require.Equal(t, ActionUpdateStatus, d.Action)
	require.Equal(t, jobstore.StatusWaitingOnDeps, d.NewStatus)
	require.Equal(t, "pinned head mismatch on main", d.WaitReason.Detail)
}

func TestEvaluatePinnedHeadMatchProceeds(t *testing.T) {
	rec := baseRecord("job-1")
	rec.Schedule.PinnedHead = &jobstore.PinnedHead{Branch: "main", OID: "abc123"}
	facts := &Facts{
		Jobs:    map[string]*jobstore.Record{"job-1": rec},
		HeadOID: map[string]string{"main": "abc123"},
	}

	d := Evaluate(rec, facts, NewLockState())

	require.Equal(t, ActionStart, d.Action)
}

func TestEvaluateWaitsOnLocksHeldByEarlierJobInSameTick(t *testing.T) {
	first := baseRecord("job-1")
	first.Schedule.Locks = []artifact.Lock{artifact.BranchLock("vizier/widget")}
	second := baseRecord("job-2")
	second.Schedule.Locks = []artifact.Lock{artifact.BranchLock("vizier/widget")}

	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": first, "job-2": second}}
	locks := NewLockState()

	d1 := Evaluate(first, facts, locks)
	require.Equal(t, ActionStart, d1.Action)

	d2 := Evaluate(second, facts, locks)
	require.Equal(t, ActionUpdateStatus, d2.Action)
	require.Equal(t, jobstore.StatusWaitingOnLocks, d2.NewStatus)
	require.Equal(t, "waiting on locks", d2.WaitReason.Detail)
}

func TestEvaluateSharedLocksCoexist(t *testing.T) {
	first := baseRecord("job-1")
	first.Schedule.Locks = []artifact.Lock{{Key: "repo_serial", Mode: artifact.LockShared}}
	second := baseRecord("job-2")
	second.Schedule.Locks = []artifact.Lock{{Key: "repo_serial", Mode: artifact.LockShared}}

	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": first, "job-2": second}}
	locks := NewLockState()

	require.Equal(t, ActionStart, Evaluate(first, facts, locks).Action)
	require.Equal(t, ActionStart, Evaluate(second, facts, locks).Action)
}

func TestEvaluateWaitsOnApprovalUntilDecided(t *testing.T) {
	rec := baseRecord("job-1")
	rec.Schedule.Approval = &jobstore.ApprovalState{Required: true, State: "pending"}
	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": rec}}

	d := Evaluate(rec, facts, NewLockState())

	require.Equal(t, ActionUpdateStatus, d.Action)
	require.Equal(t, jobstore.StatusWaitingOnApproval, d.NewStatus)
}

func TestEvaluateRejectedApprovalBlocks(t *testing.T) {
	rec := baseRecord("job-1")
	rec.Schedule.Approval = &jobstore.ApprovalState{Required: true, State: "rejected"}
	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": rec}}

	d := Evaluate(rec, facts, NewLockState())

	require.Equal(t, ActionBlock, d.Action)
	require.Equal(t, jobstore.StatusBlockedByDependency, d.NewStatus)
}

func TestEvaluateApprovedApprovalProceeds(t *testing.T) {
	rec := baseRecord("job-1")
	rec.Schedule.Approval = &jobstore.ApprovalState{Required: true, State: "approved"}
	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": rec}}

	d := Evaluate(rec, facts, NewLockState())

	require.Equal(t, ActionStart, d.Action)
}

func TestEvaluateAllSkipsTerminalAndRunningJobs(t *testing.T) {
	queued := baseRecord("job-1")
	running := baseRecord("job-2")
	running.Status = jobstore.StatusRunning
	succeeded := baseRecord("job-3")
	succeeded.Status = jobstore.StatusSucceeded

	records := []*jobstore.Record{queued, running, succeeded}
	facts := &Facts{Jobs: map[string]*jobstore.Record{
		"job-1": queued, "job-2": running, "job-3": succeeded,
	}}

	decisions := EvaluateAll(records, facts, NewLockState())

	require.Len(t, decisions, 1)
	require.Equal(t, "job-1", decisions[0].JobID)
}

func TestEvaluateAllGrantsLocksInPassOrder(t *testing.T) {
	first := baseRecord("job-1")
	first.Schedule.Locks = []artifact.Lock{artifact.RepoSerialLock()}
	second := baseRecord("job-2")
	second.Schedule.Locks = []artifact.Lock{artifact.RepoSerialLock()}

	records := []*jobstore.Record{first, second}
	facts := &Facts{Jobs: map[string]*jobstore.Record{"job-1": first, "job-2": second}}

	decisions := EvaluateAll(records, facts, NewLockState())

	require.Len(t, decisions, 2)
	require.Equal(t, ActionStart, decisions[0].Action)
	require.Equal(t, ActionUpdateStatus, decisions[1].Action)
	require.Equal(t, jobstore.StatusWaitingOnLocks, decisions[1].NewStatus)
}
