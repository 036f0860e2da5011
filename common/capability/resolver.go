package capability

import (
	"fmt"

	"github.com/lyzr/mend/common/config"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/models"
)

// Capabilities is the resolved provider set for one ticket's pipeline
type Capabilities struct {
	Planner     AiPlanner
	Implementer AiImplementer
	Reviewer    AiReviewer
	Tracker     TicketProvider
	Vcs         VcsProvider
	Runner      CommandRunner
	Indexer     EmbeddingIndexer
}

// Resolver maps a project's declared provider override (or the system
// default) to one of a fixed, enumerated set of variants. A strategy-table
// lookup: the contract stays stable, only the selected implementation
// varies. Variants are constructed once and shared across tickets.
type Resolver struct {
	cfg *config.ProviderConfig
	log *logger.Logger

	anthropic *AnthropicProvider
	tracker   *TrackerClient
	vcs       *VcsClient
	sandbox   *SandboxRunner
	local     *LocalRunner
	indexer   *IndexerClient
	memory    *MemoryIndexer
}

// NewResolver constructs all enumerated variants up front
func NewResolver(cfg *config.ProviderConfig, log *logger.Logger) *Resolver {
	return &Resolver{
		cfg:       cfg,
		log:       log,
		anthropic: NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel, log),
		tracker:   NewTrackerClient(cfg.TrackerBaseURL, cfg.ProviderTimeout, log),
		vcs:       NewVcsClient(cfg.VcsBaseURL, cfg.ProviderTimeout, log),
		sandbox:   NewSandboxRunner(cfg.SandboxBaseURL, cfg.ProviderTimeout, log),
		local:     NewLocalRunner(log),
		indexer:   NewIndexerClient(cfg.IndexerBaseURL, cfg.ProviderTimeout, log),
		memory:    NewMemoryIndexer(),
	}
}

// For resolves the capability set for a ticket: per-ticket overrides under
// meta.providers win, then the configured system defaults.
func (r *Resolver) For(ticket *models.Ticket) (*Capabilities, error) {
	overrides := map[string]string{}
	if ticket.Meta != nil {
		if raw, ok := ticket.Meta["providers"].(map[string]interface{}); ok {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					overrides[k] = s
				}
			}
		}
	}

	pick := func(concern, fallback string) string {
		if v, ok := overrides[concern]; ok && v != "" {
			return v
		}
		return fallback
	}

	caps := &Capabilities{}
	var err error

	if caps.Planner, err = r.planner(pick("planner", r.cfg.Planner)); err != nil {
		return nil, err
	}
	if caps.Implementer, err = r.implementer(pick("implementer", r.cfg.Implementer)); err != nil {
		return nil, err
	}
	if caps.Reviewer, err = r.reviewer(pick("reviewer", r.cfg.Reviewer)); err != nil {
		return nil, err
	}
	if caps.Tracker, err = r.trackerFor(pick("tracker", r.cfg.Tracker)); err != nil {
		return nil, err
	}
	if caps.Vcs, err = r.vcsFor(pick("vcs", r.cfg.Vcs)); err != nil {
		return nil, err
	}
	if caps.Runner, err = r.runnerFor(pick("runner", r.cfg.Runner)); err != nil {
		return nil, err
	}
	if caps.Indexer, err = r.indexerFor(pick("indexer", r.cfg.Indexer)); err != nil {
		return nil, err
	}

	return caps, nil
}

func (r *Resolver) planner(variant string) (AiPlanner, error) {
	switch variant {
	case "anthropic":
		return r.anthropic, nil
	}
	return nil, fmt.Errorf("unknown planner variant: %s", variant)
}

func (r *Resolver) implementer(variant string) (AiImplementer, error) {
	switch variant {
	case "anthropic":
		return r.anthropic, nil
	}
	return nil, fmt.Errorf("unknown implementer variant: %s", variant)
}

func (r *Resolver) reviewer(variant string) (AiReviewer, error) {
	switch variant {
	case "anthropic":
		return r.anthropic, nil
	}
	return nil, fmt.Errorf("unknown reviewer variant: %s", variant)
}

func (r *Resolver) trackerFor(variant string) (TicketProvider, error) {
	switch variant {
	case "http":
		return r.tracker, nil
	case "noop":
		return NoopTracker{}, nil
	}
	return nil, fmt.Errorf("unknown tracker variant: %s", variant)
}

func (r *Resolver) vcsFor(variant string) (VcsProvider, error) {
	switch variant {
	case "http":
		return r.vcs, nil
	}
	return nil, fmt.Errorf("unknown vcs variant: %s", variant)
}

func (r *Resolver) runnerFor(variant string) (CommandRunner, error) {
	switch variant {
	case "sandbox":
		return r.sandbox, nil
	case "local":
		return r.local, nil
	}
	return nil, fmt.Errorf("unknown runner variant: %s", variant)
}

func (r *Resolver) indexerFor(variant string) (EmbeddingIndexer, error) {
	switch variant {
	case "http":
		return r.indexer, nil
	case "memory":
		return r.memory, nil
	}
	return nil, fmt.Errorf("unknown indexer variant: %s", variant)
}
