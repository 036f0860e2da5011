// Package repair implements the bounded self-healing engine. It consumes
// failure bundles captured by the collector, tries a fixed ladder of
// repair strategies under a strict diff budget and either resumes the
// workflow from its checkpoint or escalates to a human.
package repair

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/cmd/pipeline-worker/dispatch"
	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/config"
	"github.com/lyzr/mend/common/failure"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/metrics"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/policy"
	"github.com/lyzr/mend/common/workflow"
)

// TicketSource loads the ticket a repair job refers to
type TicketSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
}

// Engine runs repair attempts against captured failure bundles
type Engine struct {
	machine    *workflow.Machine
	tickets    TicketSource
	collector  *failure.Collector
	enforcer   *policy.Enforcer
	resolver   *capability.Resolver
	dispatcher *dispatch.QueueDispatcher
	cfg        *config.Config
	log        *logger.Logger
}

// NewEngine creates the repair engine
func NewEngine(
	machine *workflow.Machine,
	tickets TicketSource,
	collector *failure.Collector,
	enforcer *policy.Enforcer,
	resolver *capability.Resolver,
	dispatcher *dispatch.QueueDispatcher,
	cfg *config.Config,
	log *logger.Logger,
) *Engine {
	return &Engine{
		machine:    machine,
		tickets:    tickets,
		collector:  collector,
		enforcer:   enforcer,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

// AttemptRepair executes one bounded repair attempt. Never returns an
// error for business outcomes; the workflow state carries the result and
// the message is acknowledged regardless.
func (e *Engine) AttemptRepair(ctx context.Context, job *models.RepairJob) error {
	log := e.log.WithTicket(job.TicketID.String()).WithFields(map[string]any{
		"attempt": job.AttemptNumber,
		"bundle":  job.BundlePath,
	})

	ticket, err := e.tickets.GetByID(ctx, job.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket: %w", err)
	}
	w, err := e.machine.Get(ctx, job.TicketID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if ticket == nil || w == nil {
		log.Error("ticket or workflow missing, dropping repair job")
		metrics.RepairsTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	// Repair only runs against a workflow parked in FAILED; anything
	// else means an operator already intervened
	if w.IsCancelled() || w.State != models.StateFailed {
		log.Info("workflow no longer repairable, skipping", "state", w.State)
		metrics.RepairsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	// Attempt cap is checked before any analysis: a capped chain
	// escalates immediately, it never burns AI calls first
	maxAttempts := e.enforcer.Config().Repair.MaxAttempts
	if job.AttemptNumber > maxAttempts {
		log.Warn("repair attempt cap reached, escalating")
		e.escalate(ctx, w, job.AttemptNumber-1,
			fmt.Sprintf("repair cap reached (%d attempts), human intervention required", maxAttempts))
		return nil
	}

	bundle, err := e.collector.LoadBundle(ctx, job.BundlePath)
	if err != nil {
		return fmt.Errorf("load bundle: %w", err)
	}
	if bundle == nil {
		log.Error("failure bundle missing, escalating")
		e.escalate(ctx, w, job.AttemptNumber, "failure bundle missing from artifact store")
		return nil
	}

	caps, err := e.resolver.For(ticket)
	if err != nil {
		e.escalate(ctx, w, job.AttemptNumber, fmt.Sprintf("provider resolution failed: %v", err))
		return nil
	}

	workspace := filepath.Join(e.cfg.Pipeline.WorkspaceRoot, ticket.ID.String())
	strategy := deriveStrategy(bundle)
	if strategy != nil {
		log.Info("starting repair attempt",
			"source_stage", bundle.SourceStage,
			"strategy", strategy.Type,
			"actions", strategy.Actions)
	} else {
		log.Info("starting repair attempt, bundle carries no suggestions",
			"source_stage", bundle.SourceStage)
	}

	applied, err := e.applyStrategies(ctx, &attemptContext{
		bundle:    bundle,
		strategy:  strategy,
		ticket:    ticket,
		caps:      caps,
		workspace: workspace,
		budget:    e.enforcer.Config().Repair.DiffBudget,
		log:       log,
	})
	if err != nil {
		log.Error("repair strategy error", "error", err)
	}

	if applied && e.verify(ctx, caps, workspace, log) {
		log.Info("repair verified, resuming workflow from checkpoint")
		metrics.RepairsTotal.WithLabelValues("success").Inc()

		if err := e.annotate(ctx, w, map[string]interface{}{
			models.MetaRepairAttempts: job.AttemptNumber,
			models.MetaRepairSuccess:  true,
			"repaired_at":             time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return fmt.Errorf("record repair success: %w", err)
		}

		if _, err := e.machine.Retry(ctx, job.TicketID); err != nil {
			if errors.Is(err, workflow.ErrRetryCeiling) {
				e.escalate(ctx, w, job.AttemptNumber, "repair succeeded but restart ceiling reached")
				return nil
			}
			return fmt.Errorf("resume after repair: %w", err)
		}
		return nil
	}

	metrics.RepairsTotal.WithLabelValues("failed").Inc()

	if job.AttemptNumber < maxAttempts {
		log.Info("repair attempt failed, scheduling next attempt")
		if err := e.annotate(ctx, w, map[string]interface{}{
			models.MetaRepairAttempts: job.AttemptNumber,
		}); err != nil {
			log.Error("failed to record repair attempt", "error", err)
		}
		return e.dispatcher.DispatchRepair(ctx, job.TicketID, job.BundlePath, job.AttemptNumber+1)
	}

	log.Warn("final repair attempt failed, escalating")
	e.escalate(ctx, w, job.AttemptNumber,
		fmt.Sprintf("all %d repair attempts failed for %s failure", maxAttempts, bundle.Error.Class))
	return nil
}

// verify re-runs every mandatory check. All-or-nothing: a repair that
// fixes lint but breaks a test is a failed repair.
func (e *Engine) verify(ctx context.Context, caps *capability.Capabilities, workspace string, log *logger.Logger) bool {
	checks := e.enforcer.Config().Checks
	for _, name := range checks.Mandatory {
		command := commandFor(checks, models.CheckType(name))
		if command == "" {
			continue
		}
		res, err := caps.Runner.Run(ctx, workspace, command, e.cfg.Pipeline.ChecksTimeout)
		if err != nil {
			log.Warn("verification check errored", "check", name, "error", err)
			return false
		}
		if res.ExitCode != 0 {
			log.Info("verification check failed", "check", name, "exit_code", res.ExitCode)
			return false
		}
	}
	return true
}

// escalate parks the FAILED workflow with the escalation flags set
func (e *Engine) escalate(ctx context.Context, w *models.Workflow, attempts int, reason string) {
	metrics.RepairsTotal.WithLabelValues("escalated").Inc()
	if err := e.annotate(ctx, w, map[string]interface{}{
		models.MetaRepairAttempts: attempts,
		models.MetaRepairEscalate: true,
		models.MetaActionRequired: reason,
	}); err != nil {
		e.log.Error("failed to record escalation", "ticket_id", w.TicketID, "error", err)
	}
}

// annotate merges meta onto the already-FAILED workflow
func (e *Engine) annotate(ctx context.Context, w *models.Workflow, patch map[string]interface{}) error {
	return e.machine.Fail(ctx, w, errors.New("repair annotation"), patch)
}

func commandFor(checks policy.ChecksConfig, t models.CheckType) string {
	switch t {
	case models.CheckLint:
		return checks.LintCommand
	case models.CheckTypecheck:
		return checks.TypecheckCommand
	case models.CheckTest:
		return checks.TestCommand
	case models.CheckBuild:
		return checks.BuildCommand
	}
	return ""
}
