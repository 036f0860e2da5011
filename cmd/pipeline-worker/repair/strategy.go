package repair

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/failure"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

// strategyActions is the fixed action table per failure class, most
// specific action first. Classification decides, repair executes.
var strategyActions = map[models.SuggestionType][]string{
	models.SuggestLintFix:    {"format", "lint"},
	models.SuggestTestFix:    {"fix_tests", "update_assertions"},
	models.SuggestTypeFix:    {"fix_types", "update_signatures"},
	models.SuggestImportFix:  {"add_imports", "fix_namespace"},
	models.SuggestSyntaxFix:  {"fix_syntax"},
	models.SuggestMinimalFix: {"analyze", "minimal_fix"},
}

// repairStrategy is the plan for one repair attempt, derived from the
// bundle's top suggestion: what class of fix to make, which actions in
// which order, and which files to target.
type repairStrategy struct {
	Type        models.SuggestionType
	Priority    models.SuggestionPriority
	Actions     []string
	Commands    []string
	TargetFiles []string
}

// deriveStrategy turns a bundle into a concrete strategy. Nil when the
// bundle carries no suggestions; unrecognized classes fall back to the
// minimal-fix actions.
func deriveStrategy(bundle *models.FailureBundle) *repairStrategy {
	suggestion := bundle.TopSuggestion()
	if suggestion == nil {
		return nil
	}
	actions, ok := strategyActions[suggestion.Type]
	if !ok {
		actions = strategyActions[models.SuggestMinimalFix]
	}
	return &repairStrategy{
		Type:        suggestion.Type,
		Priority:    suggestion.Priority,
		Actions:     append([]string(nil), actions...),
		Commands:    suggestion.Commands,
		TargetFiles: extractCandidateFiles(bundle),
	}
}

// fixKinds is the AI rung of the ladder for this strategy: the
// class-specific fix first, the bounded minimal fix as fallback
func (s *repairStrategy) fixKinds() []string {
	switch s.Type {
	case models.SuggestImportFix:
		return []string{"add_imports", "minimal_fix"}
	case models.SuggestTypeFix:
		return []string{"fix_types", "minimal_fix"}
	case models.SuggestSyntaxFix:
		return []string{"fix_syntax", "minimal_fix"}
	case models.SuggestTestFix:
		return []string{"test_fix", "minimal_fix"}
	default:
		return []string{"minimal_fix"}
	}
}

// attemptContext carries the state of one repair attempt through the
// strategy ladder
type attemptContext struct {
	bundle    *models.FailureBundle
	strategy  *repairStrategy
	ticket    *models.Ticket
	caps      *capability.Capabilities
	workspace string
	budget    int
	log       *logger.Logger
}

// applyStrategies walks the repair ladder in fixed order: mechanical
// auto-fix commands first, then the strategy's mechanical actions, then
// AI-proposed changes under the diff budget. Returns whether anything
// was changed; verification decides whether it was a fix.
func (e *Engine) applyStrategies(ctx context.Context, ac *attemptContext) (bool, error) {
	applied := false

	// 1. Mechanical auto-fixes (formatters, --fix lint runs). Cheap and
	// deterministic, so always tried first.
	if e.runAutoFix(ctx, ac) {
		applied = true
	}

	if ac.strategy == nil {
		return applied, nil
	}

	// 2. Mechanical commands for the strategy's actions
	for _, command := range e.actionCommands(ac.strategy) {
		if e.runCommand(ctx, ac, command) {
			applied = true
		}
	}

	// 3. AI-proposed changes, bounded by the diff budget. The
	// class-specific kind goes first; minimal fix only runs when it
	// produced nothing and budget remains.
	for _, kind := range ac.strategy.fixKinds() {
		changed, err := e.applyAiFix(ctx, ac, kind)
		if err != nil {
			return applied, err
		}
		if changed {
			return true, nil
		}
		if ac.budget <= 0 {
			break
		}
	}
	return applied, nil
}

func (e *Engine) runAutoFix(ctx context.Context, ac *attemptContext) bool {
	ran := false
	for _, command := range e.enforcer.Config().Checks.AutoFixCommands {
		if e.runCommand(ctx, ac, command) {
			ran = true
		}
	}
	return ran
}

// actionCommands resolves the strategy's mechanical actions to shell
// commands: bundle-carried commands when the classifier attached any,
// otherwise the configured formatter and linter for the format/lint
// actions. Other actions have no mechanical form and fall through to
// the AI fix.
func (e *Engine) actionCommands(strategy *repairStrategy) []string {
	if len(strategy.Commands) > 0 {
		return strategy.Commands
	}
	checks := e.enforcer.Config().Checks
	var commands []string
	for _, action := range strategy.Actions {
		switch action {
		case "format":
			if checks.FormatCommand != "" {
				commands = append(commands, checks.FormatCommand)
			}
		case "lint":
			if checks.LintCommand != "" {
				commands = append(commands, checks.LintCommand)
			}
		}
	}
	return commands
}

func (e *Engine) runCommand(ctx context.Context, ac *attemptContext, command string) bool {
	res, err := ac.caps.Runner.Run(ctx, ac.workspace, command, 2*time.Minute)
	if err != nil {
		ac.log.Warn("repair command errored", "command", command, "error", err)
		return false
	}
	if res.ExitCode != 0 {
		ac.log.Info("repair command failed", "command", command, "exit_code", res.ExitCode)
		return false
	}
	ac.log.Info("repair command applied", "command", command)
	return true
}

// applyAiFix requests one fix kind against the strategy's target files
// and applies the implementer's proposal within the diff budget
func (e *Engine) applyAiFix(ctx context.Context, ac *attemptContext, kind string) (bool, error) {
	candidates := ac.strategy.TargetFiles
	if len(candidates) == 0 {
		candidates = []string{""} // let the implementer locate the file
	}

	changedAny := false
	for _, file := range candidates {
		changes, err := ac.caps.Implementer.SuggestFix(ctx, &capability.FixRequest{
			Kind:          kind,
			File:          file,
			FailureOutput: failureOutput(ac.bundle),
			WorkspacePath: ac.workspace,
		})
		if err != nil {
			return changedAny, fmt.Errorf("suggest %s: %w", kind, err)
		}

		changed, used := e.applyBudgeted(ac, changes)
		ac.budget -= used
		if changed {
			changedAny = true
		}
		if ac.budget <= 0 {
			break
		}
	}
	return changedAny, nil
}

// applyBudgeted applies changes that fit the remaining diff budget.
// Oversized changes are skipped whole, never truncated: half an edit is
// worse than none.
func (e *Engine) applyBudgeted(ac *attemptContext, cs *capability.ChangeSet) (bool, int) {
	changed := false
	used := 0
	for i := range cs.Changes {
		change := &cs.Changes[i]
		delta := change.LineDelta()
		if delta > ac.budget-used {
			ac.log.Info("skipping change over diff budget",
				"file", change.File,
				"lines", delta,
				"budget_left", ac.budget-used)
			continue
		}
		if err := applyChange(ac.workspace, change); err != nil {
			ac.log.Warn("failed to apply repair change", "file", change.File, "error", err)
			continue
		}
		used += delta
		changed = true
	}
	return changed, used
}

func applyChange(workspace string, change *capability.Change) error {
	cleaned := filepath.Clean(change.File)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("change path escapes workspace: %s", change.File)
	}
	path := filepath.Join(workspace, cleaned)

	if change.IsReplacement() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content := string(data)
		if strings.Count(content, change.Old) != 1 {
			return fmt.Errorf("replacement target not unique in %s", change.File)
		}
		return os.WriteFile(path, []byte(strings.Replace(content, change.Old, change.New, 1)), 0o644)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(change.Content), 0o644)
}

// extractCandidateFiles pulls file paths out of a bundle in priority
// order: command output first, then the error trace and message, then
// the most recent patch's touched files, then retrieval context. First
// sources are closest to the failure.
func extractCandidateFiles(bundle *models.FailureBundle) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(files []string) {
		for _, f := range files {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}

	for _, log := range bundle.CommandLogs {
		add(failure.ExtractFiles(log.Output))
	}
	add(failure.ExtractFiles(bundle.Error.Trace))
	add(failure.ExtractFiles(bundle.Error.Message))
	add(bundle.RecentFiles)
	for _, chunk := range bundle.CodeContext {
		add([]string{chunk.Path})
	}

	// A handful of candidates is enough; deeper ones are noise
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func failureOutput(bundle *models.FailureBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", bundle.Error.Class, bundle.Error.Message)
	for _, log := range bundle.CommandLogs {
		fmt.Fprintf(&b, "\n$ %s (exit %d)\n%s\n", log.Command, log.ExitCode, log.Output)
	}
	return b.String()
}
