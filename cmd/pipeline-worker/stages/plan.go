package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/validation"
)

// PlanTicket asks the AI planner for an implementation plan, validates
// it structurally and against policy, persists it and posts a summary
// back to the tracker. CONTEXT_READY -> PLANNED.
func (e *Executor) PlanTicket(ctx context.Context, env *Env) error {
	query := env.Ticket.Title
	if env.Ticket.Body != "" {
		query += "\n" + env.Ticket.Body
	}

	chunks, err := env.Caps.Indexer.Search(ctx, query, 8, env.Ticket.ProjectID)
	if err != nil {
		env.Log.Warn("retrieval failed, planning from ticket text only", "error", err)
		chunks = nil
	}

	result, err := env.Caps.Planner.Plan(ctx, env.Ticket, chunks)
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}

	if err := validation.ValidatePlan(result); err != nil {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("plan rejected: %w", err),
		}
	}

	plan := &models.Plan{
		ID:             uuid.New(),
		TicketID:       env.Ticket.ID,
		Steps:          result.Steps,
		Risk:           result.Risk,
		TestStrategy:   result.TestStrategy,
		FilesAffected:  result.FilesAffected,
		EstimatedHours: result.EstimatedHours,
		Summary:        result.Summary,
		CreatedAt:      time.Now().UTC(),
	}

	if res := e.deps.Enforcer.CheckPlanCompliance(plan); !res.Passed {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("plan violates policy: %s", strings.Join(res.Violations, "; ")),
		}
	}

	// Re-planning after a repair replaces the previous plan
	if err := e.deps.Plans.Upsert(ctx, plan); err != nil {
		return fmt.Errorf("persist plan: %w", err)
	}

	// Best-effort tracker note; planning must not fail on tracker outages
	if err := env.Caps.Tracker.AddComment(ctx, env.Ticket.ExternalKey, planComment(plan)); err != nil {
		env.Log.Warn("failed to post plan comment", "error", err)
	}

	env.Log.Info("plan persisted", "steps", len(plan.Steps), "risk", plan.Risk)

	metaPatch := map[string]interface{}{
		"plan_steps": len(plan.Steps),
		"plan_risk":  string(plan.Risk),
	}
	if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StatePlanned, metaPatch); err != nil {
		return err
	}

	return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StageImplementPlan, nil)
}

func planComment(plan *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Implementation plan** (risk: %s, est. %.1fh)\n\n", plan.Risk, plan.EstimatedHours)
	for i, step := range plan.Steps {
		fmt.Fprintf(&b, "%d. `%s` %s", i+1, step.Intent, step.Rationale)
		if len(step.TargetFiles) > 0 {
			fmt.Fprintf(&b, " _(%s)_", strings.Join(step.TargetFiles, ", "))
		}
		b.WriteString("\n")
	}
	if plan.TestStrategy != "" {
		fmt.Fprintf(&b, "\n**Test strategy:** %s\n", plan.TestStrategy)
	}
	return b.String()
}
