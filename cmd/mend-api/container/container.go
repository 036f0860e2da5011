package container

import (
	"fmt"

	"github.com/lyzr/mend/cmd/mend-api/service"
	"github.com/lyzr/mend/cmd/pipeline-worker/dispatch"
	"github.com/lyzr/mend/common/bootstrap"
	"github.com/lyzr/mend/common/failure"
	"github.com/lyzr/mend/common/policy"
	"github.com/lyzr/mend/common/repository"
	"github.com/lyzr/mend/common/workflow"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	TicketRepo   *repository.TicketRepository
	WorkflowRepo *repository.WorkflowRepository
	PlanRepo     *repository.PlanRepository
	PatchRepo    *repository.PatchRepository
	RunRepo      *repository.RunRepository
	PullRepo     *repository.PullRequestRepository

	// Core
	Machine   *workflow.Machine
	Collector *failure.Collector
	Enforcer  *policy.Enforcer

	// Services
	IngestService *service.IngestService
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	policyCfg, err := policy.Load(cfg.Pipeline.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	enforcer, err := policy.NewEnforcer(policyCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy rules: %w", err)
	}

	// Repositories
	ticketRepo := repository.NewTicketRepository(components.DB)
	workflowRepo := repository.NewWorkflowRepository(components.DB)
	planRepo := repository.NewPlanRepository(components.DB)
	patchRepo := repository.NewPatchRepository(components.DB)
	runRepo := repository.NewRunRepository(components.DB)
	pullRepo := repository.NewPullRequestRepository(components.DB)
	records := repository.NewRecords(planRepo, patchRepo, pullRepo)

	// Core (bottom-up: dependencies first)
	dispatcher := dispatch.NewQueueDispatcher(
		components.Queue,
		cfg.Pipeline.StageStream,
		cfg.Pipeline.RepairStream,
		cfg.Pipeline.DispatchDelay,
		log,
	)
	machine := workflow.NewMachine(workflowRepo, records, dispatcher, 0, log)
	collector := failure.NewCollector(components.Artifacts, patchRepo, log)

	ingestService := service.NewIngestService(ticketRepo, components.Cache, machine, log)

	return &Container{
		Components:    components,
		TicketRepo:    ticketRepo,
		WorkflowRepo:  workflowRepo,
		PlanRepo:      planRepo,
		PatchRepo:     patchRepo,
		RunRepo:       runRepo,
		PullRepo:      pullRepo,
		Machine:       machine,
		Collector:     collector,
		Enforcer:      enforcer,
		IngestService: ingestService,
	}, nil
}
