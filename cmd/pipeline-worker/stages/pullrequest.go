package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/models"
)

// CreatePullRequest pushes the patch branch and opens the pull request.
// Approved patches become ready-for-merge PRs and complete the workflow;
// exhausted review budgets arrive here as forced drafts that stay in
// PR_CREATED until a human takes over. REVIEWING -> PR_CREATED [-> DONE].
func (e *Executor) CreatePullRequest(ctx context.Context, env *Env) error {
	patch, err := e.deps.Patches.GetLatestByTicket(ctx, env.Ticket.ID)
	if err != nil {
		return fmt.Errorf("load latest patch: %w", err)
	}
	if patch == nil {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("no patch to publish for ticket %s", env.Ticket.ID),
		}
	}

	draft := false
	draftReason := ""
	if env.Job.Params != nil {
		draft, _ = env.Job.Params["draft"].(bool)
		draftReason, _ = env.Job.Params["draft_reason"].(string)
	}

	workspace := env.Workspace(e.deps.Config)
	branch := branchName(env.Ticket)

	var logs []models.CommandLog
	for _, cmd := range []string{
		fmt.Sprintf("git checkout -B %s", branch),
		"git add -A",
		fmt.Sprintf("git commit -m %q", commitMessage(env.Ticket, draft)),
		fmt.Sprintf("git push -u origin %s --force-with-lease", branch),
	} {
		res, err := env.Caps.Runner.RunDirect(ctx, workspace, cmd, 2*time.Minute)
		if err != nil {
			return fmt.Errorf("git: %w", err)
		}
		logs = append(logs, models.CommandLog{
			Command:  cmd,
			Type:     "shell",
			Output:   res.Output(),
			ExitCode: res.ExitCode,
		})
		if res.ExitCode != 0 {
			return &StageError{
				Kind: FailureException,
				Logs: logs,
				Err:  fmt.Errorf("git command failed: %s: %s", cmd, res.Output()),
			}
		}
	}

	level := patch.RiskLevel()
	labels := prLabels(env.Ticket, level, draft, languagesFromMeta(env.Workflow))

	result, err := env.Caps.Vcs.OpenPR(ctx, &capability.PrRequest{
		Title:      prTitle(env.Ticket, draft),
		Body:       prBody(env.Ticket, patch, draftReason),
		BaseBranch: env.Ticket.BaseBranch(),
		HeadBranch: branch,
		Draft:      draft,
		Labels:     labels,
		Reviewers:  e.deps.Enforcer.Reviewers(level),
	})
	if err != nil {
		return fmt.Errorf("open pull request: %w", err)
	}

	pr := &models.PullRequest{
		ID:         uuid.New(),
		TicketID:   env.Ticket.ID,
		ProviderID: result.ID,
		URL:        result.URL,
		Branch:     branch,
		Draft:      draft,
		Labels:     labels,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.deps.Pulls.Create(ctx, pr); err != nil {
		return fmt.Errorf("persist pull request: %w", err)
	}

	env.Log.Info("pull request opened", "url", result.URL, "draft", draft)

	metaPatch := map[string]interface{}{
		"pr_url":           result.URL,
		"pr_branch":        branch,
		models.MetaPRDraft: draft,
	}
	if draft {
		metaPatch[models.MetaActionRequired] = "draft PR needs human review: " + draftReason
	}
	if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StatePRCreated, metaPatch); err != nil {
		return err
	}

	// Best-effort tracker note either way
	if err := env.Caps.Tracker.AddComment(ctx, env.Ticket.ExternalKey, prComment(result, draft, draftReason)); err != nil {
		env.Log.Warn("failed to post PR comment", "error", err)
	}

	// A ready-for-merge PR completes the automated workflow; drafts
	// park in PR_CREATED until a human finishes them
	if draft {
		return nil
	}

	if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StateDone, nil); err != nil {
		return err
	}
	if err := e.deps.Tickets.UpdateStatus(ctx, env.Ticket.ID, models.TicketResolved); err != nil {
		env.Log.Warn("failed to mark ticket resolved", "error", err)
	}
	return nil
}

func branchName(t *models.Ticket) string {
	key := strings.ToLower(t.ExternalKey)
	key = strings.ReplaceAll(key, " ", "-")
	return "mend/" + key
}

func commitMessage(t *models.Ticket, draft bool) string {
	msg := fmt.Sprintf("%s: %s", t.ExternalKey, t.Title)
	if draft {
		msg = "WIP " + msg
	}
	return msg
}

func prTitle(t *models.Ticket, draft bool) string {
	title := fmt.Sprintf("[%s] %s", t.ExternalKey, t.Title)
	if draft {
		title = "Draft: " + title
	}
	return title
}

func prBody(t *models.Ticket, patch *models.Patch, draftReason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for %s.\n\n", t.ExternalKey)
	if t.Body != "" {
		fmt.Fprintf(&b, "%s\n\n", t.Body)
	}
	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("**Acceptance criteria**\n")
		for _, ac := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", ac)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**Changes**: %d files, +%d/-%d lines (risk: %s)\n",
		len(patch.FilesTouched), patch.Stats.LinesAdded, patch.Stats.LinesRemoved, patch.RiskLevel())
	if draftReason != "" {
		fmt.Fprintf(&b, "\n**Needs attention**: %s\n", draftReason)
	}
	return b.String()
}

func prLabels(t *models.Ticket, level models.RiskLevel, draft bool, languages []string) []string {
	labels := append([]string{}, t.Labels...)
	labels = append(labels, "automated", "risk:"+string(level))
	for _, lang := range languages {
		labels = append(labels, "lang:"+lang)
	}
	if draft {
		labels = append(labels, "needs-human-review")
	}
	return labels
}

// languagesFromMeta reads the language profile recorded at context time.
// Meta round-trips through JSON, so the list arrives as generic values.
func languagesFromMeta(w *models.Workflow) []string {
	raw, ok := w.Meta["languages"].([]interface{})
	if !ok {
		return nil
	}
	langs := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			langs = append(langs, s)
		}
	}
	return langs
}

func prComment(result *capability.PrResult, draft bool, draftReason string) string {
	if draft {
		return fmt.Sprintf("Opened draft PR %s: %s", result.URL, draftReason)
	}
	return fmt.Sprintf("Opened PR %s, ready for merge review", result.URL)
}
