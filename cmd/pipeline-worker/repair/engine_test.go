package repair

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/policy"
	"github.com/lyzr/mend/common/workflow"
)

type fakeTicketSource struct {
	ticket *models.Ticket
}

func (f *fakeTicketSource) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	if f.ticket != nil && f.ticket.ID == id {
		return f.ticket, nil
	}
	return nil, nil
}

type fakeWorkflowStore struct {
	workflow *models.Workflow
	updates  int
}

func (f *fakeWorkflowStore) GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	if f.workflow != nil && f.workflow.TicketID == ticketID {
		return f.workflow, nil
	}
	return nil, nil
}

func (f *fakeWorkflowStore) Create(ctx context.Context, w *models.Workflow) error { return nil }

func (f *fakeWorkflowStore) Update(ctx context.Context, w *models.Workflow) error {
	f.workflow = w
	f.updates++
	return nil
}

func (f *fakeWorkflowStore) CountByState(ctx context.Context) (map[models.State]int, error) {
	return nil, nil
}

func (f *fakeWorkflowStore) CountMetaFlag(ctx context.Context, key string) (int, error) {
	return 0, nil
}

func newCapTestEngine(t *testing.T, store *fakeWorkflowStore, tickets TicketSource) *Engine {
	t.Helper()
	enforcer, err := policy.NewEnforcer(policy.Default())
	require.NoError(t, err)
	log := logger.New("error", "json")
	return &Engine{
		machine:  workflow.NewMachine(store, nil, nil, 5, log),
		tickets:  tickets,
		enforcer: enforcer,
		log:      log,
	}
}

func TestAttemptRepair_CapShortCircuitsBeforeAnalysis(t *testing.T) {
	ticket := &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-1", ProjectID: "proj"}
	store := &fakeWorkflowStore{workflow: &models.Workflow{
		ID:       uuid.New(),
		TicketID: ticket.ID,
		State:    models.StateFailed,
		Meta:     map[string]interface{}{},
	}}

	// Collector, resolver and dispatcher are nil: a capped attempt must
	// escalate without touching any of them
	e := newCapTestEngine(t, store, &fakeTicketSource{ticket: ticket})

	err := e.AttemptRepair(context.Background(), &models.RepairJob{
		TicketID:      ticket.ID,
		BundlePath:    "artifacts/tickets/x/bundle.json",
		AttemptNumber: 3, // cap is 2
	})
	require.NoError(t, err)

	require.Equal(t, 1, store.updates)
	assert.Equal(t, models.StateFailed, store.workflow.State)
	assert.Equal(t, true, store.workflow.Meta[models.MetaRepairEscalate])
	assert.NotEmpty(t, store.workflow.Meta[models.MetaActionRequired])
}

func TestAttemptRepair_SkipsWhenWorkflowNoLongerFailed(t *testing.T) {
	ticket := &models.Ticket{ID: uuid.New(), ExternalKey: "PROJ-2", ProjectID: "proj"}
	store := &fakeWorkflowStore{workflow: &models.Workflow{
		ID:       uuid.New(),
		TicketID: ticket.ID,
		State:    models.StateImplementing,
		Meta:     map[string]interface{}{},
	}}

	e := newCapTestEngine(t, store, &fakeTicketSource{ticket: ticket})

	err := e.AttemptRepair(context.Background(), &models.RepairJob{
		TicketID:      ticket.ID,
		AttemptNumber: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store.updates)
}

func TestAttemptRepair_DropsWhenTicketMissing(t *testing.T) {
	store := &fakeWorkflowStore{}
	e := newCapTestEngine(t, store, &fakeTicketSource{})

	err := e.AttemptRepair(context.Background(), &models.RepairJob{
		TicketID:      uuid.New(),
		AttemptNumber: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store.updates)
}

func TestCommandFor(t *testing.T) {
	checks := policy.ChecksConfig{
		LintCommand:      "golangci-lint run",
		TypecheckCommand: "go vet ./...",
		TestCommand:      "go test ./...",
		BuildCommand:     "go build ./...",
	}

	assert.Equal(t, "golangci-lint run", commandFor(checks, models.CheckLint))
	assert.Equal(t, "go vet ./...", commandFor(checks, models.CheckTypecheck))
	assert.Equal(t, "go test ./...", commandFor(checks, models.CheckTest))
	assert.Equal(t, "go build ./...", commandFor(checks, models.CheckBuild))
	assert.Equal(t, "", commandFor(checks, models.CheckType("unknown")))
}

func TestActionCommands(t *testing.T) {
	cfg := policy.Default()
	cfg.Checks.FormatCommand = "gofmt -w ."
	cfg.Checks.LintCommand = "golangci-lint run"
	enforcer, err := policy.NewEnforcer(cfg)
	require.NoError(t, err)
	e := &Engine{enforcer: enforcer}

	// Bundle-carried commands win over the action mapping
	got := e.actionCommands(&repairStrategy{
		Type:     models.SuggestLintFix,
		Actions:  []string{"format", "lint"},
		Commands: []string{"custom --fix"},
	})
	assert.Equal(t, []string{"custom --fix"}, got)

	// A lint strategy resolves format then lint to the configured commands
	lint := deriveStrategy(&models.FailureBundle{
		Suggestions: []models.Suggestion{{Type: models.SuggestLintFix, Priority: models.PriorityMedium}},
	})
	assert.Equal(t, []string{"gofmt -w .", "golangci-lint run"}, e.actionCommands(lint))

	// Non-mechanical actions resolve to nothing and leave the AI rung
	typeFix := deriveStrategy(&models.FailureBundle{
		Suggestions: []models.Suggestion{{Type: models.SuggestTypeFix, Priority: models.PriorityHigh}},
	})
	assert.Empty(t, e.actionCommands(typeFix))
}
