package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/models"
)

// ImplementPlan executes the persisted plan step by step, applying the
// implementer's proposed changes to the workspace and recording the
// result as a patch. PLANNED -> IMPLEMENTING -> TESTING.
func (e *Executor) ImplementPlan(ctx context.Context, env *Env) error {
	plan, err := e.deps.Plans.GetByTicket(ctx, env.Ticket.ID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("no plan exists for ticket %s", env.Ticket.ID),
		}
	}

	// When resuming from a PLANNED checkpoint, enter IMPLEMENTING first;
	// the repair path may re-dispatch this stage while already there.
	if env.Workflow.State == models.StatePlanned {
		if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StateImplementing, nil); err != nil {
			return err
		}
	}

	workspace := env.Workspace(e.deps.Config)
	var filesTouched []string
	var stats models.DiffStats

	// Step order is topological: the validator rejects forward
	// depends_on references at planning time
	for _, step := range plan.Steps {
		stepCtx := retrievalContext(ctx, env, &step)

		changes, err := env.Caps.Implementer.Implement(ctx, &step, stepCtx, workspace)
		if err != nil {
			return fmt.Errorf("implement step %s: %w", step.ID, err)
		}
		if len(changes.Changes) == 0 {
			env.Log.Warn("step produced no changes", "step", step.ID, "intent", step.Intent)
			continue
		}

		touched, stepStats, err := applyChangeSet(workspace, changes)
		if err != nil {
			return &StageError{
				Kind: FailureValidation,
				Err:  fmt.Errorf("apply step %s: %w", step.ID, err),
			}
		}

		filesTouched = append(filesTouched, touched...)
		stats.LinesAdded += stepStats.LinesAdded
		stats.LinesRemoved += stepStats.LinesRemoved

		env.Log.Info("step applied",
			"step", step.ID,
			"intent", step.Intent,
			"files", len(touched),
			"lines_added", stepStats.LinesAdded,
			"lines_removed", stepStats.LinesRemoved)
	}

	if len(filesTouched) == 0 {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("implementation produced no changes for ticket %s", env.Ticket.ID),
		}
	}

	e.formatWorkspace(ctx, env, workspace)

	patch := &models.Patch{
		ID:           uuid.New(),
		TicketID:     env.Ticket.ID,
		FilesTouched: dedupe(filesTouched),
		Stats:        stats,
		Summary: map[string]interface{}{
			"plan_id": plan.ID.String(),
			"steps":   len(plan.Steps),
		},
		CreatedAt: time.Now().UTC(),
	}
	patch.RiskScore = e.deps.Enforcer.CheckPatchCompliance(patch).RiskScore

	if err := e.deps.Patches.Create(ctx, patch); err != nil {
		return fmt.Errorf("persist patch: %w", err)
	}

	env.Log.Info("patch recorded",
		"patch_id", patch.ID,
		"files", len(patch.FilesTouched),
		"risk_score", patch.RiskScore)

	if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StateTesting, map[string]interface{}{
		"last_patch": patch.ID.String(),
	}); err != nil {
		return err
	}

	return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StageRunChecks, nil)
}

// retrievalContext gathers nearby code for one step; empty on failure
func retrievalContext(ctx context.Context, env *Env, step *models.PlanStep) string {
	query := step.Rationale
	if len(step.TargetFiles) > 0 {
		query += " " + strings.Join(step.TargetFiles, " ")
	}

	chunks, err := env.Caps.Indexer.Search(ctx, query, 5, env.Ticket.ProjectID)
	if err != nil || len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	for _, chunk := range chunks {
		fmt.Fprintf(&b, "--- %s\n%s\n", chunk.Path, chunk.Content)
	}
	return b.String()
}
