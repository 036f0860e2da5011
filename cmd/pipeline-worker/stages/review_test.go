package stages

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/policy"
	"github.com/lyzr/mend/common/workflow"
)

type fakeReviewer struct {
	result  *capability.ReviewResult
	lastReq *capability.ReviewRequest
}

func (f *fakeReviewer) Review(ctx context.Context, req *capability.ReviewRequest) (*capability.ReviewResult, error) {
	f.lastReq = req
	return f.result, nil
}

type fakePatchStore struct {
	latest    *models.Patch
	summaries map[uuid.UUID]map[string]interface{}
}

func (f *fakePatchStore) Create(ctx context.Context, p *models.Patch) error { return nil }

func (f *fakePatchStore) GetLatestByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Patch, error) {
	return f.latest, nil
}

func (f *fakePatchStore) UpdateSummary(ctx context.Context, id uuid.UUID, summary map[string]interface{}) error {
	if f.summaries == nil {
		f.summaries = make(map[uuid.UUID]map[string]interface{})
	}
	f.summaries[id] = summary
	return nil
}

type fakeRunStore struct {
	runs []*models.Run
}

func (f *fakeRunStore) Create(ctx context.Context, run *models.Run) error { return nil }

func (f *fakeRunStore) ListByTicket(ctx context.Context, ticketID uuid.UUID, limit int) ([]*models.Run, error) {
	return f.runs, nil
}

type stageDispatch struct {
	stage  models.Stage
	params map[string]interface{}
}

type fakeStageDispatcher struct {
	dispatches []stageDispatch
}

func (f *fakeStageDispatcher) Dispatch(ctx context.Context, ticketID uuid.UUID, stage models.Stage, params map[string]interface{}) error {
	f.dispatches = append(f.dispatches, stageDispatch{stage: stage, params: params})
	return nil
}

func (f *fakeStageDispatcher) Redispatch(ctx context.Context, job *models.StageJob) error {
	return nil
}

func (f *fakeStageDispatcher) DispatchRepair(ctx context.Context, ticketID uuid.UUID, bundlePath string, attempt int) error {
	return nil
}

type fakeStageWorkflowStore struct {
	workflow *models.Workflow
}

func (f *fakeStageWorkflowStore) GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	return f.workflow, nil
}

func (f *fakeStageWorkflowStore) Create(ctx context.Context, w *models.Workflow) error { return nil }

func (f *fakeStageWorkflowStore) Update(ctx context.Context, w *models.Workflow) error {
	f.workflow = w
	return nil
}

func (f *fakeStageWorkflowStore) CountByState(ctx context.Context) (map[models.State]int, error) {
	return nil, nil
}

func (f *fakeStageWorkflowStore) CountMetaFlag(ctx context.Context, key string) (int, error) {
	return 0, nil
}

type reviewFixture struct {
	executor   *Executor
	env        *Env
	patches    *fakePatchStore
	dispatcher *fakeStageDispatcher
	reviewer   *fakeReviewer
}

func newReviewFixture(t *testing.T, patch *models.Patch, review *capability.ReviewResult, checksPass bool, fixIterations int) *reviewFixture {
	t.Helper()

	enforcer, err := policy.NewEnforcer(policy.Default())
	require.NoError(t, err)
	log := logger.New("error", "json")

	ticket := &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-1", ProjectID: "proj", Title: "fix it"}
	patch.TicketID = ticket.ID
	wf := &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateReviewing, Retries: 1,
		Meta: map[string]interface{}{models.MetaFixIterations: fixIterations},
	}

	patches := &fakePatchStore{latest: patch}
	dispatcher := &fakeStageDispatcher{}
	reviewer := &fakeReviewer{result: review}
	machine := workflow.NewMachine(&fakeStageWorkflowStore{workflow: wf}, nil, nil, 5, log)

	executor := NewExecutor(&Deps{
		Machine:    machine,
		Patches:    patches,
		Runs:       &fakeRunStore{},
		Enforcer:   enforcer,
		Dispatcher: dispatcher,
		Log:        log,
	})

	env := &Env{
		Job: &models.StageJob{
			TicketID: ticket.ID,
			Stage:    models.StageReviewPatch,
			Params:   map[string]interface{}{"checks_pass": checksPass},
		},
		Ticket:   ticket,
		Workflow: wf,
		Caps:     &capability.Capabilities{Reviewer: reviewer},
		Log:      log,
	}

	return &reviewFixture{executor: executor, env: env, patches: patches, dispatcher: dispatcher, reviewer: reviewer}
}

func smallCleanPatch() *models.Patch {
	return &models.Patch{
		ID:           uuid.New(),
		FilesTouched: []string{"src/handler.go", "src/handler_test.go"},
		Stats:        models.DiffStats{LinesAdded: 20, LinesRemoved: 4},
	}
}

func oversizedPatch() *models.Patch {
	files := make([]string, 25)
	for i := range files {
		files[i] = fmt.Sprintf("src/module/file_%d.go", i)
	}
	return &models.Patch{
		ID:           uuid.New(),
		FilesTouched: files,
		Stats:        models.DiffStats{LinesAdded: 60},
	}
}

func TestReviewPatch_AllGatesApproveRealPR(t *testing.T) {
	f := newReviewFixture(t, smallCleanPatch(),
		&capability.ReviewResult{Approved: true, QualityScore: 90}, true, 0)

	require.NoError(t, f.executor.ReviewPatch(context.Background(), f.env))

	require.Len(t, f.dispatcher.dispatches, 1)
	assert.Equal(t, models.StageCreatePR, f.dispatcher.dispatches[0].stage)
	assert.Equal(t, false, f.dispatcher.dispatches[0].params["draft"])
	assert.Equal(t, models.StateReviewing, f.env.Workflow.State)
}

// Reviewer approval alone is not enough: a policy hard violation vetoes
// the patch and routes it into the fix loop when issues are fixable.
func TestReviewPatch_PolicyVetoOverridesReviewerApproval(t *testing.T) {
	review := &capability.ReviewResult{
		Approved:     true,
		QualityScore: 85,
		Issues: []capability.ReviewIssue{
			{File: "src/module/file_0.go", Severity: "major", Description: "split this change", Fixable: true},
		},
	}
	f := newReviewFixture(t, oversizedPatch(), review, true, 0)

	require.NoError(t, f.executor.ReviewPatch(context.Background(), f.env))

	assert.Equal(t, models.StateFixing, f.env.Workflow.State)
	assert.Equal(t, 1, f.env.Workflow.MetaInt(models.MetaFixIterations))

	require.Len(t, f.dispatcher.dispatches, 1)
	assert.Equal(t, models.StageFixIteration, f.dispatcher.dispatches[0].stage)
	assert.NotEmpty(t, f.dispatcher.dispatches[0].params["issues"])

	// The recorded summary reflects the merged verdict, not the reviewer's
	summary := f.patches.summaries[f.patches.latest.ID]
	require.NotNil(t, summary)
	verdict := summary["review"].(map[string]interface{})
	assert.Equal(t, false, verdict["approved"])

	// The reviewer saw the policy violations as input
	require.NotNil(t, f.reviewer.lastReq)
	assert.NotEmpty(t, f.reviewer.lastReq.PolicyViolations)
}

func TestReviewPatch_FailedChecksVeto(t *testing.T) {
	f := newReviewFixture(t, smallCleanPatch(),
		&capability.ReviewResult{Approved: true, QualityScore: 95}, false, 0)

	require.NoError(t, f.executor.ReviewPatch(context.Background(), f.env))

	// No fixable issues: rejection surfaces as a draft PR
	require.Len(t, f.dispatcher.dispatches, 1)
	assert.Equal(t, models.StageCreatePR, f.dispatcher.dispatches[0].stage)
	assert.Equal(t, true, f.dispatcher.dispatches[0].params["draft"])
	assert.Equal(t, models.StateReviewing, f.env.Workflow.State)
}

func TestReviewPatch_IterationCapForcesDraft(t *testing.T) {
	review := &capability.ReviewResult{
		Approved: false,
		Issues: []capability.ReviewIssue{
			{File: "src/handler.go", Severity: "minor", Description: "rename", Fixable: true},
		},
	}
	// fix_iterations already at the cap of 2
	f := newReviewFixture(t, smallCleanPatch(), review, true, 2)

	require.NoError(t, f.executor.ReviewPatch(context.Background(), f.env))

	require.Len(t, f.dispatcher.dispatches, 1)
	d := f.dispatcher.dispatches[0]
	assert.Equal(t, models.StageCreatePR, d.stage)
	assert.Equal(t, true, d.params["draft"])
	assert.Contains(t, d.params["draft_reason"], "fix budget exhausted")
	assert.Equal(t, models.StateReviewing, f.env.Workflow.State)
}

func TestReviewPatch_MissingPatchIsValidationFailure(t *testing.T) {
	f := newReviewFixture(t, smallCleanPatch(),
		&capability.ReviewResult{Approved: true}, true, 0)
	f.patches.latest = nil

	err := f.executor.ReviewPatch(context.Background(), f.env)
	require.Error(t, err)

	stageErr := AsStageError(err)
	require.NotNil(t, stageErr)
	assert.Equal(t, FailureValidation, stageErr.Kind)
	assert.Empty(t, f.dispatcher.dispatches)
}
