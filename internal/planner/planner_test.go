package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JTan2231/vizier/internal/artifact"
	"github.com/JTan2231/vizier/internal/jobstore"
)

func newStore(t *testing.T) *jobstore.FileStore {
	t.Helper()
	return jobstore.New(t.TempDir())
}

func TestPlanSaveLocksRepoAndProducesPatchArtifact(t *testing.T) {
	p := New(newStore(t))

	rec, err := p.Plan(CommandSave, []string{"vizier-save", "--slug", "widget"}, Args{
		JobID: "job-1", CurrentBranch: "main", HeadOID: "abc123", Confirmed: true,
	})
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusQueued, rec.Status)
	require.Equal(t, []artifact.Lock{
		artifact.RepoSerialLock(),
		artifact.BranchLock("main"),
		artifact.WorktreeLock("job-1"),
	}, rec.Schedule.Locks)
	require.Equal(t, []artifact.Handle{artifact.CommandPatch("job-1")}, rec.Schedule.Artifacts)
	require.Equal(t, "main", rec.Schedule.PinnedHead.Branch)
	require.Equal(t, "abc123", rec.Schedule.PinnedHead.OID)
}

func TestPlanRejectsMutatingCommandWithoutConfirmation(t *testing.T) {
	p := New(newStore(t))

	_, err := p.Plan(CommandSave, nil, Args{JobID: "job-1", CurrentBranch: "main"})
	require.ErrorContains(t, err, "requires --yes")
}

func TestPlanDraftRequiresSlugAndBranch(t *testing.T) {
	p := New(newStore(t))

	_, err := p.Plan(CommandDraft, nil, Args{JobID: "job-1", Confirmed: true})
	require.Error(t, err)

	rec, err := p.Plan(CommandDraft, nil, Args{JobID: "job-1", Slug: "widget", Branch: "draft/widget", Confirmed: true})
	require.NoError(t, err)
	require.Equal(t, []artifact.Lock{artifact.BranchLock("draft/widget"), artifact.WorktreeLock("job-1")}, rec.Schedule.Locks)
	require.Equal(t, []artifact.Handle{
		artifact.PlanBranch("widget", "draft/widget"),
		artifact.PlanDoc("widget", "draft/widget"),
	}, rec.Schedule.Artifacts)
}

func TestPlanApproveRequiresDraftBranchLive(t *testing.T) {
	p := New(newStore(t))

	_, err := p.Plan(CommandApprove, nil, Args{JobID: "job-1", Slug: "widget", Branch: "draft/widget", Confirmed: true})
	require.ErrorContains(t, err, "plan not found")

	rec, err := p.Plan(CommandApprove, nil, Args{
		JobID: "job-1", Slug: "widget", Branch: "draft/widget", Confirmed: true, DraftBranchLive: true,
	})
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusQueued, rec.Status)
	require.Equal(t, []artifact.Handle{artifact.PlanDoc("widget", "draft/widget")}, rec.Schedule.Dependencies)
	require.Equal(t, []artifact.Handle{artifact.PlanCommits("widget", "draft/widget")}, rec.Schedule.Artifacts)
}

func TestPlanApproveWithRequireApprovalGatesOnDecision(t *testing.T) {
	p := New(newStore(t))

	rec, err := p.Plan(CommandApprove, nil, Args{
		JobID: "job-1", Slug: "widget", Branch: "draft/widget",
		Confirmed: true, DraftBranchLive: true, ApprovalRequired: true,
	})
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusWaitingOnApproval, rec.Status)
	require.NotNil(t, rec.Schedule.Approval)
	require.True(t, rec.Schedule.Approval.Required)
}

func TestPlanReviewDependsOnPlanBranchAndPlanDoc(t *testing.T) {
	p := New(newStore(t))

	rec, err := p.Plan(CommandReview, nil, Args{
		JobID: "job-1", Slug: "widget", Branch: "draft/widget", Confirmed: true, DraftBranchLive: true,
	})
	require.NoError(t, err)
	require.Equal(t, []artifact.Handle{
		artifact.PlanBranch("widget", "draft/widget"),
		artifact.PlanDoc("widget", "draft/widget"),
	}, rec.Schedule.Dependencies)
	require.Equal(t, []artifact.Handle{artifact.PlanCommits("widget", "draft/widget")}, rec.Schedule.Artifacts)
}

func TestPlanMergeLocksBothBranchesAndSentinel(t *testing.T) {
	p := New(newStore(t))

	rec, err := p.Plan(CommandMerge, nil, Args{
		JobID: "job-1", Slug: "widget", Branch: "draft/widget", TargetBranch: "main",
		Confirmed: true, DraftBranchLive: true,
	})
	require.NoError(t, err)
	require.Nil(t, rec.Schedule.PinnedHead)
	require.ElementsMatch(t, []artifact.Lock{
		artifact.BranchLock("main"),
		artifact.BranchLock("draft/widget"),
		artifact.MergeSentinelLock("widget"),
	}, rec.Schedule.Locks)
	require.Equal(t, []artifact.Handle{artifact.PlanBranch("widget", "draft/widget")}, rec.Schedule.Dependencies)
	require.Equal(t, []artifact.Handle{artifact.TargetBranch("main")}, rec.Schedule.Artifacts)
}

func TestPlanRejectsUnknownAfterJobID(t *testing.T) {
	p := New(newStore(t))

	_, err := p.Plan(CommandSave, nil, Args{JobID: "job-2", CurrentBranch: "main", Confirmed: true, After: []string{"ghost"}})
	require.Error(t, err)
}

func TestPlanAcceptsKnownAfterJobIDAndStatusWaits(t *testing.T) {
	store := newStore(t)
	p := New(store)

	require.NoError(t, store.Enqueue(&jobstore.Record{ID: "job-1", Status: jobstore.StatusQueued, CreatedAt: time.Now().UTC()}))

	rec, err := p.Plan(CommandSave, nil, Args{JobID: "job-2", CurrentBranch: "main", Confirmed: true, After: []string{"job-1"}})
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusWaitingOnDeps, rec.Status)
	require.Len(t, rec.Schedule.After, 1)
}

func TestPlanDedupesAfterEntries(t *testing.T) {
	store := newStore(t)
	p := New(store)
	require.NoError(t, store.Enqueue(&jobstore.Record{ID: "job-1", Status: jobstore.StatusQueued, CreatedAt: time.Now().UTC()}))

	rec, err := p.Plan(CommandSave, nil, Args{JobID: "job-2", CurrentBranch: "main", Confirmed: true, After: []string{"job-1", "job-1"}})
	require.NoError(t, err)
	require.Len(t, rec.Schedule.After, 1)
}

func TestPlanUnknownCommandRejected(t *testing.T) {
	p := New(newStore(t))
	_, err := p.Plan(Command("bogus"), nil, Args{JobID: "job-1"})
	require.Error(t, err)
}
