package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/mend/common/cache"
	"github.com/lyzr/mend/common/logger"
	"github.com/lyzr/mend/common/metrics"
	"github.com/lyzr/mend/common/models"
	"github.com/lyzr/mend/common/workflow"
)

// Re-posted tickets from tracker webhooks arrive in bursts; the cached
// lookup keeps those off the database.
const ticketCacheTTL = 10 * time.Minute

// IngestService accepts tickets from trackers and the CLI and starts
// their workflows. Ingestion is idempotent on external key: re-posting a
// known ticket resumes or restarts its workflow instead of duplicating it.
type IngestService struct {
	tickets repositoryTickets
	cache   cache.Cache
	machine *workflow.Machine
	log     *logger.Logger
}

// repositoryTickets is the slice of the ticket repository ingestion needs
type repositoryTickets interface {
	Create(ctx context.Context, t *models.Ticket) error
	GetByExternalKey(ctx context.Context, key string) (*models.Ticket, error)
	UpdateMeta(ctx context.Context, id uuid.UUID, meta map[string]interface{}) error
}

// NewIngestService creates the ingest service. The cache is optional;
// without one every lookup goes to the database.
func NewIngestService(tickets repositoryTickets, c cache.Cache, machine *workflow.Machine, log *logger.Logger) *IngestService {
	return &IngestService{
		tickets: tickets,
		cache:   c,
		machine: machine,
		log:     log,
	}
}

// IngestInput is a validated ingestion request
type IngestInput struct {
	ExternalKey        string
	ProjectID          string
	Title              string
	Body               string
	AcceptanceCriteria []string
	Priority           string
	Labels             []string
	Meta               map[string]interface{}

	// Force restarts a workflow past its retry ceiling
	Force bool
}

// Validate checks required fields
func (in *IngestInput) Validate() error {
	if in.ExternalKey == "" {
		return fmt.Errorf("external_key is required")
	}
	if in.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if in.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// IngestResult reports what ingestion did
type IngestResult struct {
	Ticket   *models.Ticket
	Workflow *models.Workflow

	// Resumed is true when the ticket already existed
	Resumed bool
}

// Ingest creates (or refreshes) the ticket and starts its workflow
func (s *IngestService) Ingest(ctx context.Context, in *IngestInput) (*IngestResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ticket, err := s.lookupTicket(ctx, in.ExternalKey)
	if err != nil {
		return nil, fmt.Errorf("lookup ticket: %w", err)
	}

	resumed := ticket != nil
	if ticket == nil {
		now := time.Now().UTC()
		ticket = &models.Ticket{
			ID:                 uuid.New(),
			ExternalKey:        in.ExternalKey,
			ProjectID:          in.ProjectID,
			Title:              in.Title,
			Body:               in.Body,
			AcceptanceCriteria: in.AcceptanceCriteria,
			Status:             models.TicketOpen,
			Priority:           in.Priority,
			Labels:             in.Labels,
			Meta:               in.Meta,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return nil, fmt.Errorf("create ticket: %w", err)
		}
		s.cacheTicket(ctx, ticket)
		s.log.WithTicket(ticket.ID.String()).Info("ticket ingested",
			"external_key", ticket.ExternalKey,
			"project_id", ticket.ProjectID)
	} else if len(in.Meta) > 0 {
		// Refresh meta on re-ingestion so provider overrides and repo
		// pointers can change between attempts
		merged, err := workflow.MergeMeta(ticket.Meta, in.Meta)
		if err != nil {
			return nil, fmt.Errorf("merge ticket meta: %w", err)
		}
		ticket.Meta = merged
		if err := s.tickets.UpdateMeta(ctx, ticket.ID, merged); err != nil {
			return nil, fmt.Errorf("update ticket meta: %w", err)
		}
		s.cacheTicket(ctx, ticket)
	}

	w, err := s.machine.Start(ctx, ticket, in.Force)
	if err != nil {
		return nil, err
	}
	metrics.WorkflowsStarted.Inc()

	return &IngestResult{Ticket: ticket, Workflow: w, Resumed: resumed}, nil
}

// lookupTicket resolves an external key to a ticket, cache first. Cache
// failures fall through to the database; a stale entry only ever costs a
// redundant meta merge, never a duplicate ticket.
func (s *IngestService) lookupTicket(ctx context.Context, externalKey string) (*models.Ticket, error) {
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, ticketCacheKey(externalKey))
		if err != nil {
			s.log.Warn("ticket cache read failed", "external_key", externalKey, "error", err)
		} else if ok {
			ticket := &models.Ticket{}
			if err := json.Unmarshal(data, ticket); err == nil {
				return ticket, nil
			}
			s.log.Warn("dropping undecodable ticket cache entry", "external_key", externalKey)
			_ = s.cache.Delete(ctx, ticketCacheKey(externalKey))
		}
	}

	ticket, err := s.tickets.GetByExternalKey(ctx, externalKey)
	if err != nil {
		return nil, err
	}
	if ticket != nil {
		s.cacheTicket(ctx, ticket)
	}
	return ticket, nil
}

// cacheTicket stores the ticket under its external key, best-effort
func (s *IngestService) cacheTicket(ctx context.Context, ticket *models.Ticket) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(ticket)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, ticketCacheKey(ticket.ExternalKey), data, ticketCacheTTL); err != nil {
		s.log.Warn("ticket cache write failed", "external_key", ticket.ExternalKey, "error", err)
	}
}

func ticketCacheKey(externalKey string) string {
	return "tickets:external:" + externalKey
}
