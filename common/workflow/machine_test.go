package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

// fakeStore keeps workflows in memory and can simulate persist failures
type fakeStore struct {
	workflows  map[uuid.UUID]*models.Workflow
	failUpdate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{workflows: make(map[uuid.UUID]*models.Workflow)}
}

func (s *fakeStore) GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	w, ok := s.workflows[ticketID]
	if !ok {
		return nil, nil
	}
	copied := *w
	return &copied, nil
}

func (s *fakeStore) Create(ctx context.Context, w *models.Workflow) error {
	copied := *w
	s.workflows[w.TicketID] = &copied
	return nil
}

func (s *fakeStore) Update(ctx context.Context, w *models.Workflow) error {
	if s.failUpdate {
		return errors.New("persist unavailable")
	}
	copied := *w
	s.workflows[w.TicketID] = &copied
	return nil
}

func (s *fakeStore) CountByState(ctx context.Context) (map[models.State]int, error) {
	counts := make(map[models.State]int)
	for _, w := range s.workflows {
		counts[w.State]++
	}
	return counts, nil
}

func (s *fakeStore) CountMetaFlag(ctx context.Context, key string) (int, error) {
	n := 0
	for _, w := range s.workflows {
		if flag, ok := w.Meta[key].(bool); ok && flag {
			n++
		}
	}
	return n, nil
}

type dispatchCall struct {
	ticketID uuid.UUID
	stage    models.Stage
}

type fakeDispatcher struct {
	calls []dispatchCall
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ticketID uuid.UUID, stage models.Stage, params map[string]interface{}) error {
	d.calls = append(d.calls, dispatchCall{ticketID: ticketID, stage: stage})
	return nil
}

type fakeRecords struct {
	plan, patch, pr bool
}

func (r *fakeRecords) HasPlan(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	return r.plan, nil
}
func (r *fakeRecords) HasPatch(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	return r.patch, nil
}
func (r *fakeRecords) HasOpenPR(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	return r.pr, nil
}

func newTestMachine(t *testing.T) (*Machine, *fakeStore, *fakeDispatcher) {
	t.Helper()
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	m := NewMachine(store, &fakeRecords{}, dispatcher, 5, logger.New("error", "json"))
	return m, store, dispatcher
}

func testTicket() *models.Ticket {
	return &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-1", ProjectID: "proj", Title: "fix it"}
}

func TestStart_CreatesWorkflowAndDispatchesContextBuild(t *testing.T) {
	m, store, dispatcher := newTestMachine(t)
	ticket := testTicket()

	w, err := m.Start(context.Background(), ticket, false)
	require.NoError(t, err)
	assert.Equal(t, models.StateIngested, w.State)
	assert.Equal(t, 1, w.Retries)

	stored, _ := store.GetByTicket(context.Background(), ticket.ID)
	require.NotNil(t, stored)

	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, models.StageBuildContext, dispatcher.calls[0].stage)
}

func TestStart_NoOpWhenAlreadyComplete(t *testing.T) {
	m, store, dispatcher := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateDone, Retries: 1,
	}

	w, err := m.Start(context.Background(), ticket, false)
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, w.State)
	assert.Empty(t, dispatcher.calls)
}

func TestStart_NoOpWhenNonDraftPROpen(t *testing.T) {
	m, store, dispatcher := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StatePRCreated, Retries: 1,
		Meta: map[string]interface{}{models.MetaPRDraft: false},
	}

	w, err := m.Start(context.Background(), ticket, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatePRCreated, w.State)
	assert.Empty(t, dispatcher.calls)
}

func TestStart_RestartsDraftParkedWorkflow(t *testing.T) {
	m, store, dispatcher := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StatePRCreated, Retries: 1,
		Meta: map[string]interface{}{
			models.MetaPRDraft:        true,
			models.MetaActionRequired: "draft PR needs human review",
		},
	}

	w, err := m.Start(context.Background(), ticket, false)
	require.NoError(t, err)
	assert.Equal(t, models.StateIngested, w.State)
	assert.Equal(t, 2, w.Retries)
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, models.StageBuildContext, dispatcher.calls[0].stage)
}

func TestStart_RejectsExhaustedFailureUnlessForced(t *testing.T) {
	m, store, dispatcher := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateFailed, Retries: 5,
	}

	_, err := m.Start(context.Background(), ticket, false)
	require.ErrorIs(t, err, ErrRetryCeiling)
	assert.Empty(t, dispatcher.calls)

	w, err := m.Start(context.Background(), ticket, true)
	require.NoError(t, err)
	assert.Equal(t, models.StateIngested, w.State)
	assert.Equal(t, 6, w.Retries)
	require.Len(t, dispatcher.calls, 1)
}

func TestTransition_LegalAndIllegalSteps(t *testing.T) {
	legal := []struct {
		from, to models.State
	}{
		{models.StateIngested, models.StateContextReady},
		{models.StateContextReady, models.StatePlanned},
		{models.StatePlanned, models.StateImplementing},
		{models.StateImplementing, models.StateTesting},
		{models.StateTesting, models.StateReviewing},
		{models.StateReviewing, models.StateFixing},
		{models.StateReviewing, models.StatePRCreated},
		{models.StateFixing, models.StateTesting},
		{models.StatePRCreated, models.StateDone},
		{models.StateTesting, models.StateFailed},
	}
	for _, tc := range legal {
		m, store, _ := newTestMachine(t)
		ticket := testTicket()
		w := &models.Workflow{ID: uuid.New(), TicketID: ticket.ID, State: tc.from}
		store.workflows[ticket.ID] = w

		err := m.Transition(context.Background(), w, tc.to, nil)
		require.NoError(t, err, "%s -> %s should be legal", tc.from, tc.to)
		assert.Equal(t, tc.to, w.State)
	}

	illegal := []struct {
		from, to models.State
	}{
		{models.StateIngested, models.StatePlanned},       // skipping ahead
		{models.StateTesting, models.StatePRCreated},      // skipping review
		{models.StateDone, models.StateIngested},          // terminal
		{models.StateFailed, models.StateTesting},         // only retry leaves FAILED
		{models.StateReviewing, models.StateImplementing}, // backwards
	}
	for _, tc := range illegal {
		m, store, _ := newTestMachine(t)
		ticket := testTicket()
		w := &models.Workflow{ID: uuid.New(), TicketID: ticket.ID, State: tc.from}
		store.workflows[ticket.ID] = w

		err := m.Transition(context.Background(), w, tc.to, nil)
		require.Error(t, err, "%s -> %s should be illegal", tc.from, tc.to)

		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, tc.from, w.State, "state must not change on rejection")
	}
}

func TestTransition_RollsBackOnPersistFailure(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ticket := testTicket()
	w := &models.Workflow{ID: uuid.New(), TicketID: ticket.ID, State: models.StateIngested}
	store.workflows[ticket.ID] = w
	store.failUpdate = true

	err := m.Transition(context.Background(), w, models.StateContextReady, nil)
	require.Error(t, err)
	assert.Equal(t, models.StateIngested, w.State)
}

func TestFail_RecordsCheckpointAndError(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ticket := testTicket()
	w := &models.Workflow{ID: uuid.New(), TicketID: ticket.ID, State: models.StateTesting}
	store.workflows[ticket.ID] = w

	err := m.Fail(context.Background(), w, errors.New("lint check failed"), map[string]interface{}{
		models.MetaLastBundle: "artifacts/tickets/x/bundle.json",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StateFailed, w.State)
	assert.Equal(t, string(models.StateTesting), w.MetaString(models.MetaPreviousState))
	assert.Equal(t, "lint check failed", w.MetaString(models.MetaLastError))
	assert.Equal(t, "artifacts/tickets/x/bundle.json", w.MetaString(models.MetaLastBundle))
}

func TestRetry_ResumesFromCheckpoint(t *testing.T) {
	m, store, dispatcher := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateFailed, Retries: 1,
		Meta: map[string]interface{}{
			models.MetaPreviousState: string(models.StateTesting),
		},
	}

	w, err := m.Retry(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateTesting, w.State)
	assert.Equal(t, 2, w.Retries)

	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, models.StageRunChecks, dispatcher.calls[0].stage)
}

func TestRetry_OnlyFromFailed(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateTesting, Retries: 1,
	}

	_, err := m.Retry(context.Background(), ticket.ID)
	require.ErrorIs(t, err, ErrRetryNotAllowed)
}

func TestRetry_CeilingEnforced(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateFailed, Retries: 5,
	}

	_, err := m.Retry(context.Background(), ticket.ID)
	require.ErrorIs(t, err, ErrRetryCeiling)
}

func TestRetry_UnknownCheckpointRestartsFromIngested(t *testing.T) {
	m, store, dispatcher := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateFailed, Retries: 0,
		Meta: map[string]interface{}{},
	}

	w, err := m.Retry(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateIngested, w.State)
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, models.StageBuildContext, dispatcher.calls[0].stage)
}

func TestCancel_IsIdempotentAndRejectsDone(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateReviewing,
	}

	w, err := m.Cancel(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, w.State)
	assert.True(t, w.IsCancelled())

	// Second cancel is a no-op
	again, err := m.Cancel(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.True(t, again.IsCancelled())

	// Completed workflows cannot be cancelled
	done := testTicket()
	store.workflows[done.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: done.ID, State: models.StateDone,
	}
	_, err = m.Cancel(context.Background(), done.ID)
	require.Error(t, err)
}

// Full happy path: every stage transition in order, ending in DONE.
func TestWorkflow_HappyPath(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ticket := testTicket()

	w, err := m.Start(context.Background(), ticket, false)
	require.NoError(t, err)

	path := []models.State{
		models.StateContextReady,
		models.StatePlanned,
		models.StateImplementing,
		models.StateTesting,
		models.StateReviewing,
		models.StatePRCreated,
		models.StateDone,
	}
	for _, next := range path {
		require.NoError(t, m.Transition(context.Background(), w, next, nil))
	}

	stored, _ := store.GetByTicket(context.Background(), ticket.ID)
	assert.Equal(t, models.StateDone, stored.State)
	assert.True(t, stored.State.IsTerminal())
}

func TestStatus_ReflectsRecordsAndNextStates(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	m := NewMachine(store, &fakeRecords{plan: true, patch: true}, dispatcher, 5, logger.New("error", "json"))

	ticket := testTicket()
	store.workflows[ticket.ID] = &models.Workflow{
		ID: uuid.New(), TicketID: ticket.ID, State: models.StateReviewing, Retries: 1,
	}

	status, err := m.Status(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.True(t, status.HasPlan)
	assert.True(t, status.HasPatch)
	assert.False(t, status.HasPR)
	assert.False(t, status.IsComplete)
	assert.ElementsMatch(t,
		[]models.State{models.StateFixing, models.StatePRCreated, models.StateFailed},
		status.NextStates)

	_, err = m.Status(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrWorkflowNotFound)
}
