package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

// Store persists workflow records. Update must write state, retries and
// meta in a single statement so counters stay transactional with the
// transition they gate.
type Store interface {
	GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error)
	Create(ctx context.Context, w *models.Workflow) error
	Update(ctx context.Context, w *models.Workflow) error
	CountByState(ctx context.Context) (map[models.State]int, error)
	CountMetaFlag(ctx context.Context, key string) (int, error)
}

// Dispatcher schedules a stage job for asynchronous execution
type Dispatcher interface {
	Dispatch(ctx context.Context, ticketID uuid.UUID, stage models.Stage, params map[string]interface{}) error
}

// Records reports which downstream artifacts a ticket has accumulated.
// Used only by the status read model.
type Records interface {
	HasPlan(ctx context.Context, ticketID uuid.UUID) (bool, error)
	HasPatch(ctx context.Context, ticketID uuid.UUID) (bool, error)
	HasOpenPR(ctx context.Context, ticketID uuid.UUID) (bool, error)
}

// Machine enforces the workflow state machine: valid transitions, retry
// counters and meta accumulation. All stage handlers and the repair engine
// mutate workflows exclusively through it.
type Machine struct {
	store      Store
	records    Records
	dispatcher Dispatcher
	log        *logger.Logger

	// Orchestration-level restart ceiling for start/retry
	maxRetries int
}

// NewMachine creates a workflow state machine
func NewMachine(store Store, records Records, dispatcher Dispatcher, maxRetries int, log *logger.Logger) *Machine {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Machine{
		store:      store,
		records:    records,
		dispatcher: dispatcher,
		maxRetries: maxRetries,
		log:        log,
	}
}

// Start creates the workflow for a ticket if absent and dispatches the
// first pipeline stage. Re-invocation on a successfully finished workflow
// is a no-op; a FAILED workflow past the retry ceiling is rejected unless
// forced.
func (m *Machine) Start(ctx context.Context, ticket *models.Ticket, force bool) (*models.Workflow, error) {
	w, err := m.store.GetByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}

	if w == nil {
		w = &models.Workflow{
			ID:       uuid.New(),
			TicketID: ticket.ID,
			State:    models.StateIngested,
			Retries:  1,
			Meta: map[string]interface{}{
				"started_at": time.Now().UTC().Format(time.RFC3339),
			},
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := m.store.Create(ctx, w); err != nil {
			return nil, fmt.Errorf("create workflow: %w", err)
		}
		m.log.WithTicket(ticket.ID.String()).Info("workflow created", "state", w.State)
	} else {
		if w.State == models.StateDone {
			m.log.WithTicket(ticket.ID.String()).Info("workflow already complete, start is a no-op")
			return w, nil
		}
		if w.State == models.StatePRCreated && !w.IsCancelled() && !w.MetaBool(models.MetaPRDraft) {
			// Non-draft PR already open; nothing left to orchestrate.
			// Draft-parked workflows stay restartable.
			return w, nil
		}
		if w.State == models.StateFailed && w.Retries >= m.maxRetries && !force {
			return nil, fmt.Errorf("%w: %d attempts", ErrRetryCeiling, w.Retries)
		}

		w.State = models.StateIngested
		w.Retries++
		w.Meta, err = MergeMeta(w.Meta, map[string]interface{}{
			"restarted_at":         time.Now().UTC().Format(time.RFC3339),
			models.MetaCancelled:   false,
			models.MetaLastError:   "",
			models.MetaRepairEscalate: false,
		})
		if err != nil {
			return nil, err
		}
		if err := m.store.Update(ctx, w); err != nil {
			return nil, fmt.Errorf("restart workflow: %w", err)
		}
		m.log.WithTicket(ticket.ID.String()).Info("workflow restarted", "retries", w.Retries)
	}

	if err := m.dispatcher.Dispatch(ctx, ticket.ID, models.StageBuildContext, nil); err != nil {
		return nil, fmt.Errorf("dispatch context build: %w", err)
	}

	return w, nil
}

// Transition validates and applies a state change, merging metaPatch into
// the workflow meta (non-destructive union, later keys win). Illegal
// transitions return InvalidTransitionError and leave state unchanged.
func (m *Machine) Transition(ctx context.Context, w *models.Workflow, newState models.State, metaPatch map[string]interface{}) error {
	if !models.CanTransition(w.State, newState) {
		return &InvalidTransitionError{From: w.State, To: newState}
	}

	merged, err := MergeMeta(w.Meta, metaPatch)
	if err != nil {
		return err
	}

	prev := w.State
	w.State = newState
	w.Meta = merged
	w.UpdatedAt = time.Now().UTC()

	if err := m.store.Update(ctx, w); err != nil {
		// Roll back the in-memory mutation so callers see consistent state
		w.State = prev
		return fmt.Errorf("persist transition %s -> %s: %w", prev, newState, err)
	}

	m.log.WithTicket(w.TicketID.String()).Info("workflow transition", "from", prev, "to", newState)
	return nil
}

// Fail moves the workflow to FAILED from any non-terminal state, recording
// the checkpoint and error for later retry or repair.
func (m *Machine) Fail(ctx context.Context, w *models.Workflow, stageErr error, metaPatch map[string]interface{}) error {
	if w.State == models.StateFailed {
		// Already failed; just accumulate meta
		merged, err := MergeMeta(w.Meta, metaPatch)
		if err != nil {
			return err
		}
		w.Meta = merged
		return m.store.Update(ctx, w)
	}

	patch := map[string]interface{}{
		models.MetaPreviousState: string(w.State),
		models.MetaLastError:     stageErr.Error(),
		"failed_at":              time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range metaPatch {
		patch[k] = v
	}
	return m.Transition(ctx, w, models.StateFailed, patch)
}

// Retry resets a FAILED workflow to the checkpoint recorded in
// meta.previous_state and re-dispatches the corresponding stage job.
func (m *Machine) Retry(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	w, err := m.store.GetByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWorkflowNotFound
	}
	if w.State != models.StateFailed {
		return nil, ErrRetryNotAllowed
	}
	if w.Retries >= m.maxRetries {
		return nil, fmt.Errorf("%w: %d attempts", ErrRetryCeiling, w.Retries)
	}

	checkpoint := models.State(w.MetaString(models.MetaPreviousState))
	stage, ok := models.StageForState(checkpoint)
	if !ok {
		checkpoint = models.StateIngested
		stage = models.StageBuildContext
	}

	w.State = checkpoint
	w.Retries++
	w.Meta, err = MergeMeta(w.Meta, map[string]interface{}{
		"retried_at":              time.Now().UTC().Format(time.RFC3339),
		models.MetaCancelled:      false,
		models.MetaRepairEscalate: false,
		models.MetaActionRequired: "",
	})
	if err != nil {
		return nil, err
	}
	w.UpdatedAt = time.Now().UTC()

	if err := m.store.Update(ctx, w); err != nil {
		return nil, fmt.Errorf("persist retry: %w", err)
	}

	m.log.WithTicket(ticketID.String()).Info("workflow retried",
		"checkpoint", checkpoint, "stage", stage, "retries", w.Retries)

	if err := m.dispatcher.Dispatch(ctx, ticketID, stage, nil); err != nil {
		return nil, fmt.Errorf("dispatch retry stage: %w", err)
	}

	return w, nil
}

// Cancel flags the workflow as cancelled. Modeled as FAILED with
// meta.cancelled=true; dispatch guards check the flag before executing any
// further stage. Idempotent.
func (m *Machine) Cancel(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	w, err := m.store.GetByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWorkflowNotFound
	}

	if w.IsCancelled() {
		return w, nil
	}
	if w.State == models.StateDone {
		return nil, &InvalidTransitionError{From: w.State, To: models.StateFailed}
	}

	patch := map[string]interface{}{
		models.MetaCancelled: true,
		"cancelled_at":       time.Now().UTC().Format(time.RFC3339),
	}

	if w.State == models.StateFailed {
		w.Meta, err = MergeMeta(w.Meta, patch)
		if err != nil {
			return nil, err
		}
		if err := m.store.Update(ctx, w); err != nil {
			return nil, err
		}
		return w, nil
	}

	patch[models.MetaPreviousState] = string(w.State)
	if err := m.Transition(ctx, w, models.StateFailed, patch); err != nil {
		return nil, err
	}
	return w, nil
}

// Status returns the observability read model for a ticket's workflow.
// Pure read: drives dashboards and tests, never transitions.
func (m *Machine) Status(ctx context.Context, ticketID uuid.UUID) (*models.WorkflowStatus, error) {
	w, err := m.store.GetByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWorkflowNotFound
	}

	hasPlan, err := m.records.HasPlan(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	hasPatch, err := m.records.HasPatch(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	hasPR, err := m.records.HasOpenPR(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	return &models.WorkflowStatus{
		TicketID:   ticketID,
		State:      w.State,
		Retries:    w.Retries,
		HasPlan:    hasPlan,
		HasPatch:   hasPatch,
		HasPR:      hasPR,
		IsComplete: w.State == models.StateDone,
		IsFailed:   w.State == models.StateFailed,
		Duration:   time.Since(w.CreatedAt).Round(time.Second).String(),
		NextStates: models.Transitions[w.State],
		Meta:       w.Meta,
	}, nil
}

// Statistics aggregates workflow counts for the admin surface
func (m *Machine) Statistics(ctx context.Context) (*models.WorkflowStatistics, error) {
	byState, err := m.store.CountByState(ctx)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range byState {
		total += n
	}

	escalated, err := m.store.CountMetaFlag(ctx, models.MetaRepairEscalate)
	if err != nil {
		return nil, err
	}
	cancelled, err := m.store.CountMetaFlag(ctx, models.MetaCancelled)
	if err != nil {
		return nil, err
	}

	return &models.WorkflowStatistics{
		Total:     total,
		ByState:   byState,
		Escalated: escalated,
		Cancelled: cancelled,
	}, nil
}

// Get loads a workflow by ticket, nil when absent
func (m *Machine) Get(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	return m.store.GetByTicket(ctx, ticketID)
}
