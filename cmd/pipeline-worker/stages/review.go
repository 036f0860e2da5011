package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/models"
)

// ReviewPatch runs AI review against the current patch with policy
// findings and test results as input. Approval requires the reviewer,
// the policy enforcer and the checks to all agree; rejection routes into
// the bounded fix loop, or a forced draft PR once the loop is exhausted.
// REVIEWING -> FIXING | (dispatch to PR creation).
func (e *Executor) ReviewPatch(ctx context.Context, env *Env) error {
	patch, err := e.deps.Patches.GetLatestByTicket(ctx, env.Ticket.ID)
	if err != nil {
		return fmt.Errorf("load latest patch: %w", err)
	}
	if patch == nil {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("no patch to review for ticket %s", env.Ticket.ID),
		}
	}

	checksPass := false
	if env.Job.Params != nil {
		checksPass, _ = env.Job.Params["checks_pass"].(bool)
	}

	policyRes := e.deps.Enforcer.CheckPatchCompliance(patch)

	runs, err := e.deps.Runs.ListByTicket(ctx, env.Ticket.ID, 10)
	if err != nil {
		env.Log.Warn("failed to load run history for review", "error", err)
	}

	review, err := env.Caps.Reviewer.Review(ctx, &capability.ReviewRequest{
		PatchSummary: map[string]interface{}{
			"files_touched": patch.FilesTouched,
			"lines_added":   patch.Stats.LinesAdded,
			"lines_removed": patch.Stats.LinesRemoved,
			"risk_score":    patch.RiskScore,
			"risk_level":    string(patch.RiskLevel()),
		},
		TestResults:      runSummary(runs),
		ChecksPass:       checksPass,
		PolicyViolations: policyRes.Violations,
	})
	if err != nil {
		return fmt.Errorf("reviewer: %w", err)
	}

	// All three gatekeepers must agree before a real PR goes out
	approved := review.IsApproved() && policyRes.Passed && checksPass

	// Merged score averages the inverted policy risk with the reviewer's
	// quality score
	mergedScore := ((100 - policyRes.RiskScore) + review.QualityScore) / 2

	summary := patch.Summary
	if summary == nil {
		summary = map[string]interface{}{}
	}
	summary["review"] = map[string]interface{}{
		"approved":        approved,
		"score":           mergedScore,
		"quality_score":   review.QualityScore,
		"issues":          len(review.Issues),
		"security_issues": len(review.SecurityIssues),
		"violations":      policyRes.Violations,
		"reviewed_at":     time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.deps.Patches.UpdateSummary(ctx, patch.ID, summary); err != nil {
		env.Log.Warn("failed to record review summary", "error", err)
	}

	if approved {
		env.Log.Info("patch approved",
			"quality_score", review.QualityScore,
			"risk_level", patch.RiskLevel())
		return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StageCreatePR, map[string]interface{}{
			"draft": false,
		})
	}

	fixable := fixableIssues(review)
	iterations := env.Workflow.MetaInt(models.MetaFixIterations)
	maxIterations := e.deps.Enforcer.Config().Review.MaxFixIterations

	if len(fixable) > 0 && iterations < maxIterations {
		env.Log.Info("review rejected, entering fix iteration",
			"iteration", iterations+1,
			"fixable_issues", len(fixable))

		if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StateFixing, map[string]interface{}{
			models.MetaFixIterations: iterations + 1,
		}); err != nil {
			return err
		}
		return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StageFixIteration, map[string]interface{}{
			"issues": issuesToParams(fixable),
		})
	}

	// Fix budget exhausted or nothing auto-fixable: surface the work as
	// a draft PR so a human picks it up with full review context
	reason := draftReason(review, policyRes.Violations, iterations, maxIterations)
	env.Log.Warn("review rejected, forcing draft PR", "reason", reason)

	return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StageCreatePR, map[string]interface{}{
		"draft":        true,
		"draft_reason": reason,
	})
}

func fixableIssues(review *capability.ReviewResult) []capability.ReviewIssue {
	var out []capability.ReviewIssue
	for _, issue := range review.Issues {
		if issue.Fixable {
			out = append(out, issue)
		}
	}
	// Security findings are never auto-fixed; they always reach a human
	return out
}

func issuesToParams(issues []capability.ReviewIssue) []interface{} {
	out := make([]interface{}, 0, len(issues))
	for _, issue := range issues {
		out = append(out, map[string]interface{}{
			"file":        issue.File,
			"line":        issue.Line,
			"severity":    issue.Severity,
			"category":    issue.Category,
			"description": issue.Description,
			"suggestion":  issue.Suggestion,
		})
	}
	return out
}

func runSummary(runs []*models.Run) string {
	if len(runs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, run := range runs {
		fmt.Fprintf(&b, "%s: %s (exit %d)\n", run.Type, run.Status, run.ExitCode)
	}
	return b.String()
}

func draftReason(review *capability.ReviewResult, violations []string, iterations, maxIterations int) string {
	parts := []string{}
	if iterations >= maxIterations {
		parts = append(parts, fmt.Sprintf("fix budget exhausted (%d/%d iterations)", iterations, maxIterations))
	}
	if len(review.SecurityIssues) > 0 {
		parts = append(parts, fmt.Sprintf("%d security findings", len(review.SecurityIssues)))
	}
	if len(violations) > 0 {
		parts = append(parts, fmt.Sprintf("policy violations: %s", strings.Join(violations, "; ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "review not approved and no auto-fixable issues")
	}
	return strings.Join(parts, "; ")
}
