package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/metrics"
	"github.com/lyzr/mend/common/models"
)

// RunChecks executes the policy's mandatory verification checks against
// the current patch, recording each as an append-only run. All checks
// must pass to reach review; the first failure aborts the stage.
// TESTING -> REVIEWING.
func (e *Executor) RunChecks(ctx context.Context, env *Env) error {
	patch, err := e.deps.Patches.GetLatestByTicket(ctx, env.Ticket.ID)
	if err != nil {
		return fmt.Errorf("load latest patch: %w", err)
	}
	if patch == nil {
		return &StageError{
			Kind: FailureValidation,
			Err:  fmt.Errorf("no patch exists for ticket %s", env.Ticket.ID),
		}
	}

	workspace := env.Workspace(e.deps.Config)
	checksCfg := e.deps.Enforcer.Config().Checks
	var logs []models.CommandLog

	for _, name := range checksCfg.Mandatory {
		checkType := models.CheckType(name)
		command := e.commandFor(checkType)
		if command == "" {
			env.Log.Warn("mandatory check has no configured command, skipping", "check", name)
			e.recordRun(ctx, env, patch, checkType, models.RunSkipped, 0, "")
			continue
		}

		res, err := env.Caps.Runner.Run(ctx, workspace, command, e.deps.Config.Pipeline.ChecksTimeout)
		if err != nil {
			return fmt.Errorf("run %s check: %w", name, err)
		}

		logs = append(logs, models.CommandLog{
			Command:  command,
			Type:     name,
			Output:   res.Output(),
			ExitCode: res.ExitCode,
		})

		logPath := e.storeRunLog(ctx, env, checkType, res.Output())

		if res.ExitCode != 0 {
			e.recordRun(ctx, env, patch, checkType, models.RunFailed, res.ExitCode, logPath)
			return &StageError{
				Kind:      FailureCheck,
				CheckType: name,
				Logs:      logs,
				Err:       fmt.Errorf("%s check failed (exit %d)", name, res.ExitCode),
			}
		}

		e.recordRun(ctx, env, patch, checkType, models.RunSuccess, 0, logPath)
		env.Log.Info("check passed", "check", name)
	}

	if err := e.deps.Machine.Transition(ctx, env.Workflow, models.StateReviewing, nil); err != nil {
		return err
	}

	return e.deps.Dispatcher.Dispatch(ctx, env.Ticket.ID, models.StageReviewPatch, map[string]interface{}{
		"checks_pass": true,
	})
}

func (e *Executor) commandFor(t models.CheckType) string {
	checks := e.deps.Enforcer.Config().Checks
	switch t {
	case models.CheckLint:
		return checks.LintCommand
	case models.CheckTypecheck:
		return checks.TypecheckCommand
	case models.CheckTest:
		if checks.Coverage && checks.TestCommand != "" {
			return checks.TestCommand + " --coverage"
		}
		return checks.TestCommand
	case models.CheckBuild:
		return checks.BuildCommand
	}
	return ""
}

// recordRun persists a run row; failures to do so are logged, never fatal
func (e *Executor) recordRun(ctx context.Context, env *Env, patch *models.Patch, t models.CheckType, status models.RunStatus, exitCode int, logPath string) {
	run := &models.Run{
		ID:        uuid.New(),
		TicketID:  env.Ticket.ID,
		PatchID:   &patch.ID,
		Type:      t,
		Status:    status,
		ExitCode:  exitCode,
		LogPath:   logPath,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.deps.Runs.Create(ctx, run); err != nil {
		env.Log.Error("failed to record run", "check", t, "error", err)
	}
	metrics.ChecksTotal.WithLabelValues(string(t), string(status)).Inc()
}

// storeRunLog persists command output as an artifact; empty path on error
func (e *Executor) storeRunLog(ctx context.Context, env *Env, t models.CheckType, output string) string {
	path := fmt.Sprintf("artifacts/tickets/%s/runs/%s-%d.log",
		env.Ticket.ID, t, time.Now().UnixNano())
	if err := e.deps.Artifacts.Put(ctx, path, []byte(output)); err != nil {
		env.Log.Warn("failed to store run log", "check", t, "error", err)
		return ""
	}
	return path
}
