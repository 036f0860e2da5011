package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/models"
)

// FixIteration applies targeted corrections for the review issues that
// triggered it, grouped per file, and sends the amended patch back
// through verification. FIXING -> TESTING.
func (e *Executor) FixIteration(ctx context.Context, env *Env) error {
	issues, err := issuesFromParams(env.Job.Params)
	if err != nil {
		return &StageError{Kind: FailureValidation, Err: err}
	}
	if len(issues) == 0 {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("fix iteration dispatched without issues for ticket %s", env.Ticket.ID),
		}
	}

	workspace := env.Workspace(e.deps.Config)
	var filesTouched []string
	var stats models.DiffStats

	for file, fileIssues := range groupByFile(issues) {
		changes, err := env.Caps.Implementer.SuggestFix(ctx, &capability.FixRequest{
			Kind:          "review_fix",
			File:          file,
			Issues:        fileIssues,
			WorkspacePath: workspace,
		})
		if err != nil {
			return fmt.Errorf("suggest fix for %s: %w", file, err)
		}
		if len(changes.Changes) == 0 {
			env.Log.Warn("no fix produced", "file", file, "issues", len(fileIssues))
			continue
		}

		touched, fixStats, err := applyChangeSet(workspace, changes)
		if err != nil {
			return &StageError{
				Kind: FailureValidation,
				Err:  fmt.Errorf("apply fix for %s: %w", file, err),
			}
		}

		filesTouched = append(filesTouched, touched...)
		stats.LinesAdded += fixStats.LinesAdded
		stats.LinesRemoved += fixStats.LinesRemoved
	}

	if len(filesTouched) == 0 {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("fix iteration produced no changes for ticket %s", env.Ticket.ID),
		}
	}

	e.formatWorkspace(ctx, env, workspace)

	patch := &models.Patch{
		ID:           uuid.New(),
		TicketID:     env.Ticket.ID,
		FilesTouched: dedupe(filesTouched),
		Stats:        stats,
		Summary: map[string]interface{}{
			"fix_iteration": env.Workflow.MetaInt(models.MetaFixIterations),
			"issues_fixed":  len(issues),
		},
		CreatedAt: time.Now().UTC(),
	}
	patch.RiskScore = e.deps.Enforcer.CheckPatchCompliance(patch).RiskScore

	if err := e.deps.Patches.Create(ctx, patch); err != nil {
		return fmt.Errorf("persist fix patch: %w", err)
	}

	env.Log.Info("fix patch recorded",
		"patch_id", patch.ID,
		"files", len(patch.FilesTouched),
		"iteration", env.Workflow.MetaInt(models.MetaFixIterations))

	if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StateTesting, map[string]interface{}{
		"last_patch": patch.ID.String(),
	}); err != nil {
		return err
	}

	return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StageRunChecks, nil)
}

// issuesFromParams decodes the issue list carried in the stage params.
// Params round-trip through JSON, so the list arrives as generic maps.
func issuesFromParams(params map[string]interface{}) ([]capability.ReviewIssue, error) {
	if params == nil {
		return nil, nil
	}
	raw, ok := params["issues"]
	if !ok {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode issues param: %w", err)
	}
	var issues []capability.ReviewIssue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil, fmt.Errorf("decode issues param: %w", err)
	}
	return issues, nil
}

func groupByFile(issues []capability.ReviewIssue) map[string][]capability.ReviewIssue {
	grouped := make(map[string][]capability.ReviewIssue)
	for _, issue := range issues {
		grouped[issue.File] = append(grouped[issue.File], issue)
	}
	return grouped
}
