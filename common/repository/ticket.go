package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lyzr/mend/common/db"
	"github.com/lyzr/mend/common/models"
)

// TicketRepository handles database operations for tickets
type TicketRepository struct {
	db *db.DB
}

// NewTicketRepository creates a new ticket repository
func NewTicketRepository(database *db.DB) *TicketRepository {
	return &TicketRepository{db: database}
}

// Create inserts a new ticket
func (r *TicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	criteria, err := json.Marshal(t.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("marshal acceptance criteria: %w", err)
	}
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("marshal ticket meta: %w", err)
	}

	query := `
		INSERT INTO tickets (id, external_key, project_id, title, body, acceptance_criteria, status, priority, labels, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		t.ID, t.ExternalKey, t.ProjectID, t.Title, t.Body,
		criteria, t.Status, t.Priority, labels, meta,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}

	return nil
}

// GetByID retrieves a ticket by id; nil when absent
func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	query := `
		SELECT id, external_key, project_id, title, body, acceptance_criteria, status, priority, labels, meta, created_at, updated_at
		FROM tickets
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByExternalKey retrieves a ticket by its tracker key; nil when absent
func (r *TicketRepository) GetByExternalKey(ctx context.Context, key string) (*models.Ticket, error) {
	query := `
		SELECT id, external_key, project_id, title, body, acceptance_criteria, status, priority, labels, meta, created_at, updated_at
		FROM tickets
		WHERE external_key = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, key))
}

// UpdateStatus moves a ticket's tracker-facing status
func (r *TicketRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TicketStatus) error {
	query := `UPDATE tickets SET status = $2, updated_at = now() WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("failed to update ticket status: %w", err)
	}
	return nil
}

// UpdateMeta replaces the ticket meta bag
func (r *TicketRepository) UpdateMeta(ctx context.Context, id uuid.UUID, meta map[string]interface{}) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal ticket meta: %w", err)
	}

	query := `UPDATE tickets SET meta = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, metaJSON); err != nil {
		return fmt.Errorf("failed to update ticket meta: %w", err)
	}
	return nil
}

func (r *TicketRepository) scanOne(row pgx.Row) (*models.Ticket, error) {
	t := &models.Ticket{}
	var criteria, labels, meta []byte

	err := row.Scan(&t.ID, &t.ExternalKey, &t.ProjectID, &t.Title, &t.Body,
		&criteria, &t.Status, &t.Priority, &labels, &meta, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}

	if err := json.Unmarshal(criteria, &t.AcceptanceCriteria); err != nil {
		return nil, fmt.Errorf("unmarshal acceptance criteria: %w", err)
	}
	if err := json.Unmarshal(labels, &t.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal ticket meta: %w", err)
		}
	}

	return t, nil
}
