package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyzr/mend/cmd/pipeline-worker/dispatch"
	"github.com/lyzr/mend/cmd/pipeline-worker/repair"
	"github.com/lyzr/mend/cmd/pipeline-worker/stages"
	"github.com/lyzr/mend/common/bootstrap"
	"github.com/lyzr/mend/common/capability"
	"github.com/lyzr/mend/common/failure"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/policy"
	"github.com/lyzr/mend/common/repository"
	"github.com/lyzr/mend/common/server"
	"github.com/lyzr/mend/common/workflow"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap service components
	components, err := bootstrap.Setup(ctx, "pipeline-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	cfg := components.Config
	log := components.Logger
	log.Info("pipeline-worker starting")

	// Policy: single source of truth for risk, checks, review and repair
	policyCfg, err := policy.Load(cfg.Pipeline.PolicyFile)
	if err != nil {
		log.Error("failed to load policy", "error", err)
		os.Exit(1)
	}
	enforcer, err := policy.NewEnforcer(policyCfg)
	if err != nil {
		log.Error("failed to compile policy rules", "error", err)
		os.Exit(1)
	}

	// Persistence layer
	tickets := repository.NewTicketRepository(components.DB)
	workflows := repository.NewWorkflowRepository(components.DB)
	plans := repository.NewPlanRepository(components.DB)
	patches := repository.NewPatchRepository(components.DB)
	runs := repository.NewRunRepository(components.DB)
	pulls := repository.NewPullRequestRepository(components.DB)
	records := repository.NewRecords(plans, patches, pulls)

	// Orchestration core
	dispatcher := dispatch.NewQueueDispatcher(
		components.Queue,
		cfg.Pipeline.StageStream,
		cfg.Pipeline.RepairStream,
		cfg.Pipeline.DispatchDelay,
		log,
	)
	machine := workflow.NewMachine(workflows, records, dispatcher, 0, log)
	collector := failure.NewCollector(components.Artifacts, patches, log)
	resolver := capability.NewResolver(&cfg.Providers, log)

	executor := stages.NewExecutor(&stages.Deps{
		Machine:    machine,
		Tickets:    tickets,
		Plans:      plans,
		Patches:    patches,
		Runs:       runs,
		Pulls:      pulls,
		Resolver:   resolver,
		Artifacts:  components.Artifacts,
		Collector:  collector,
		Enforcer:   enforcer,
		Dispatcher: dispatcher,
		Config:     cfg,
		Log:        log,
	})
	engine := repair.NewEngine(machine, tickets, collector, enforcer, resolver, dispatcher, cfg, log)

	// Consume both pipeline streams
	errChan := make(chan error, 2)
	go func() {
		err := components.Queue.Subscribe(ctx, cfg.Pipeline.StageStream, func(ctx context.Context, key string, value []byte) error {
			var job models.StageJob
			if err := json.Unmarshal(value, &job); err != nil {
				log.Error("malformed stage job, dropping", "error", err)
				return nil
			}
			return executor.Execute(ctx, &job)
		})
		if err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("stage consumer: %w", err)
		}
	}()
	go func() {
		err := components.Queue.Subscribe(ctx, cfg.Pipeline.RepairStream, func(ctx context.Context, key string, value []byte) error {
			var job models.RepairJob
			if err := json.Unmarshal(value, &job); err != nil {
				log.Error("malformed repair job, dropping", "error", err)
				return nil
			}
			return engine.AttemptRepair(ctx, &job)
		})
		if err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("repair consumer: %w", err)
		}
	}()

	// Health endpoint for orchestration probes
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", server.HealthHandler("pipeline-worker"))
		addr := fmt.Sprintf(":%d", cfg.Service.Port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("health listener stopped", "error", err)
		}
	}()

	log.Info("pipeline-worker started",
		"stage_stream", cfg.Pipeline.StageStream,
		"repair_stream", cfg.Pipeline.RepairStream,
		"group", cfg.Pipeline.ConsumerGroup)

	// Wait for shutdown signal or consumer error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error("worker failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}

	log.Info("pipeline-worker shutting down gracefully")
}
