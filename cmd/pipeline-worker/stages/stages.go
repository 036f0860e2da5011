// Package stages implements the asynchronous pipeline units that move a
// ticket's workflow from ingestion to an open pull request. Each stage
// consumes one workflow state, does its work through resolved capabilities
// and transitions the workflow via the state machine.
package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/artifact"
	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/config"
	"github.com/lyzr/mend/common/failure"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/metrics"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/policy"
	"github.com/lyzr/mend/common/workflow"
)

// TicketStore is the slice of the ticket repository stages need
type TicketStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.TicketStatus) error
}

// PlanStore persists and loads per-ticket plans
type PlanStore interface {
	Upsert(ctx context.Context, p *models.Plan) error
	GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Plan, error)
}

// PatchStore persists patches and their review summaries
type PatchStore interface {
	Create(ctx context.Context, p *models.Patch) error
	GetLatestByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Patch, error)
	UpdateSummary(ctx context.Context, id uuid.UUID, summary map[string]interface{}) error
}

// RunStore persists check executions
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	ListByTicket(ctx context.Context, ticketID uuid.UUID, limit int) ([]*models.Run, error)
}

// PullStore persists opened pull requests
type PullStore interface {
	Create(ctx context.Context, pr *models.PullRequest) error
}

// Dispatcher schedules follow-up stage and repair jobs
type Dispatcher interface {
	Dispatch(ctx context.Context, ticketID uuid.UUID, stage models.Stage, params map[string]interface{}) error
	Redispatch(ctx context.Context, job *models.StageJob) error
	DispatchRepair(ctx context.Context, ticketID uuid.UUID, bundlePath string, attempt int) error
}

// Deps bundles everything stage handlers need. Built once at worker
// startup and shared across executions.
type Deps struct {
	Machine    *workflow.Machine
	Tickets    TicketStore
	Plans      PlanStore
	Patches    PatchStore
	Runs       RunStore
	Pulls      PullStore
	Resolver   *capability.Resolver
	Artifacts  artifact.Store
	Collector  *failure.Collector
	Enforcer   *policy.Enforcer
	Dispatcher Dispatcher
	Config     *config.Config
	Log        *logger.Logger
}

// Env is the per-execution context handed to a stage handler
type Env struct {
	Job      *models.StageJob
	Ticket   *models.Ticket
	Workflow *models.Workflow
	Caps     *capability.Capabilities
	Log      *logger.Logger
}

// Workspace returns the ticket's working directory under the worker root
func (e *Env) Workspace(cfg *config.Config) string {
	return filepath.Join(cfg.Pipeline.WorkspaceRoot, e.Ticket.ID.String())
}

// Handler executes one stage. A returned *StageError is a business
// failure and goes straight to the failure path; any other error is
// treated as transient and redelivered up to the delivery ceiling.
type Handler func(ctx context.Context, env *Env) error

// Executor routes stage jobs to handlers and owns the shared failure
// path: bundle capture, workflow FAILED transition and repair dispatch.
type Executor struct {
	deps     *Deps
	handlers map[models.Stage]Handler
}

// NewExecutor creates the stage executor with all handlers registered
func NewExecutor(deps *Deps) *Executor {
	e := &Executor{
		deps:     deps,
		handlers: make(map[models.Stage]Handler),
	}
	e.handlers[models.StageBuildContext] = e.BuildContext
	e.handlers[models.StagePlanTicket] = e.PlanTicket
	e.handlers[models.StageImplementPlan] = e.ImplementPlan
	e.handlers[models.StageRunChecks] = e.RunChecks
	e.handlers[models.StageReviewPatch] = e.ReviewPatch
	e.handlers[models.StageFixIteration] = e.FixIteration
	e.handlers[models.StageCreatePR] = e.CreatePullRequest
	return e
}

// Execute runs one stage job end to end. It never returns an error for
// business failures; those are absorbed into the workflow state so the
// message is acknowledged either way.
func (e *Executor) Execute(ctx context.Context, job *models.StageJob) error {
	log := e.deps.Log.WithTicket(job.TicketID.String()).WithStage(string(job.Stage))
	start := time.Now()

	handler, ok := e.handlers[job.Stage]
	if !ok {
		log.Error("unknown stage, dropping job", "stage", job.Stage)
		metrics.StagesTotal.WithLabelValues(string(job.Stage), "dropped").Inc()
		return nil
	}

	ticket, err := e.deps.Tickets.GetByID(ctx, job.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket: %w", err)
	}
	if ticket == nil {
		log.Error("ticket not found, dropping job")
		metrics.StagesTotal.WithLabelValues(string(job.Stage), "dropped").Inc()
		return nil
	}

	w, err := e.deps.Machine.Get(ctx, job.TicketID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if w == nil {
		log.Error("workflow not found, dropping job")
		metrics.StagesTotal.WithLabelValues(string(job.Stage), "dropped").Inc()
		return nil
	}

	// Dispatch guard: cancelled or already-terminal workflows consume
	// their in-flight jobs without executing them
	if w.IsCancelled() || w.State.IsTerminal() {
		log.Info("skipping stage for inactive workflow",
			"state", w.State,
			"cancelled", w.IsCancelled())
		metrics.StagesTotal.WithLabelValues(string(job.Stage), "skipped").Inc()
		return nil
	}

	caps, err := e.deps.Resolver.For(ticket)
	if err != nil {
		// Misconfigured providers cannot self-heal; fail the workflow
		e.failWorkflow(ctx, &failPathInput{
			ticket: ticket, workflow: w, job: job,
			err: &StageError{Kind: FailureException, Err: err},
			log: log,
		})
		return nil
	}

	env := &Env{
		Job:      job,
		Ticket:   ticket,
		Workflow: w,
		Caps:     caps,
		Log:      log,
	}

	stageCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(job.Stage))
	defer cancel()

	log.Info("executing stage", "attempt", job.Attempt, "state", w.State)
	err = handler(stageCtx, env)
	metrics.StageDuration.WithLabelValues(string(job.Stage)).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.StagesTotal.WithLabelValues(string(job.Stage), "success").Inc()
		return nil
	}

	stageErr := AsStageError(err)
	if stageErr == nil {
		// Transient infra error: redeliver until the ceiling, then
		// convert into a business failure
		if job.Attempt < e.deps.Config.Pipeline.MaxDeliveries {
			log.Warn("stage failed, redelivering",
				"attempt", job.Attempt,
				"error", err)
			metrics.StagesTotal.WithLabelValues(string(job.Stage), "retried").Inc()
			return e.deps.Dispatcher.Redispatch(ctx, job)
		}
		stageErr = &StageError{Kind: FailureException, Err: err}
	}

	metrics.StagesTotal.WithLabelValues(string(job.Stage), "failed").Inc()
	e.failWorkflow(ctx, &failPathInput{
		ticket: ticket, workflow: w, job: job,
		err: stageErr,
		log: log,
	})
	return nil
}

type failPathInput struct {
	ticket   *models.Ticket
	workflow *models.Workflow
	job      *models.StageJob
	err      *StageError
	log      *logger.Logger
}

// failWorkflow is the shared failure path: capture a bundle, record the
// checkpoint, move the workflow to FAILED and hand self-healable failures
// to the repair engine.
func (e *Executor) failWorkflow(ctx context.Context, in *failPathInput) {
	in.log.Error("stage failed", "kind", in.err.Kind, "error", in.err.Err)

	bundlePath, captureErr := e.deps.Collector.Capture(ctx, &failure.CaptureInput{
		Err:         in.err.Err,
		ErrKind:     string(in.err.Kind),
		Ticket:      in.ticket,
		SourceStage: in.job.Stage,
		CheckType:   in.err.CheckType,
		CommandLogs: in.err.Logs,
		Indexer:     e.indexerFor(in.ticket),
		Extra: map[string]interface{}{
			"attempt": in.job.Attempt,
		},
	})
	if captureErr != nil {
		in.log.Error("failure bundle capture failed", "error", captureErr)
	} else {
		metrics.BundlesCaptured.Inc()
	}

	metaPatch := map[string]interface{}{}
	if bundlePath != "" {
		metaPatch[models.MetaLastBundle] = bundlePath
	}
	if !in.err.SelfHealable() {
		metaPatch[models.MetaActionRequired] = fmt.Sprintf(
			"stage %s failed (%s): manual intervention or retry required",
			in.job.Stage, in.err.Kind)
	}

	if err := e.deps.Machine.Fail(ctx, in.workflow, in.err.Err, metaPatch); err != nil {
		in.log.Error("failed to mark workflow FAILED", "error", err)
		return
	}

	if !in.err.SelfHealable() || bundlePath == "" {
		return
	}

	attempt := in.workflow.MetaInt(models.MetaRepairAttempts) + 1
	if err := e.deps.Dispatcher.DispatchRepair(ctx, in.ticket.ID, bundlePath, attempt); err != nil {
		in.log.Error("failed to dispatch repair", "error", err)
	}
}

// indexerFor resolves just the retrieval capability for bundle context;
// nil when resolution fails so capture can proceed without it.
func (e *Executor) indexerFor(ticket *models.Ticket) capability.EmbeddingIndexer {
	caps, err := e.deps.Resolver.For(ticket)
	if err != nil {
		return nil
	}
	return caps.Indexer
}

func (e *Executor) timeoutFor(stage models.Stage) time.Duration {
	p := e.deps.Config.Pipeline
	switch stage {
	case models.StageBuildContext:
		return p.ContextTimeout
	case models.StageImplementPlan, models.StageFixIteration:
		return p.ImplementTimeout
	case models.StageRunChecks:
		return p.ChecksTimeout
	default:
		return p.ReviewTimeout
	}
}
