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

// WorkflowRepository handles database operations for workflow records
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, w *models.Workflow) error {
	meta, err := json.Marshal(w.Meta)
	if err != nil {
		return fmt.Errorf("marshal workflow meta: %w", err)
	}

	query := `
		INSERT INTO workflows (id, ticket_id, state, retries, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query, w.ID, w.TicketID, w.State, w.Retries, meta).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetByTicket retrieves the workflow owned by a ticket; nil when absent
func (r *WorkflowRepository) GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, ticket_id, state, retries, meta, created_at, updated_at
		FROM workflows
		WHERE ticket_id = $1
	`

	w := &models.Workflow{}
	var meta []byte

	err := r.db.QueryRow(ctx, query, ticketID).
		Scan(&w.ID, &w.TicketID, &w.State, &w.Retries, &meta, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &w.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal workflow meta: %w", err)
		}
	}
	return w, nil
}

// Update persists state, retries and meta in a single statement so the
// counters stay transactional with the transition that gates them.
func (r *WorkflowRepository) Update(ctx context.Context, w *models.Workflow) error {
	meta, err := json.Marshal(w.Meta)
	if err != nil {
		return fmt.Errorf("marshal workflow meta: %w", err)
	}

	query := `
		UPDATE workflows
		SET state = $2, retries = $3, meta = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query, w.ID, w.State, w.Retries, meta).Scan(&w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("workflow %s not found", w.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return nil
}

// CountByState aggregates workflow counts per state
func (r *WorkflowRepository) CountByState(ctx context.Context) (map[models.State]int, error) {
	query := `SELECT state, count(*) FROM workflows GROUP BY state`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.State]int)
	for rows.Next() {
		var state models.State
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan workflow count: %w", err)
		}
		counts[state] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow counts: %w", err)
	}
	return counts, nil
}

// CountMetaFlag counts workflows whose meta carries the given boolean flag
func (r *WorkflowRepository) CountMetaFlag(ctx context.Context, key string) (int, error) {
	query := `SELECT count(*) FROM workflows WHERE (meta ->> $1)::boolean IS TRUE`

	var n int
	if err := r.db.QueryRow(ctx, query, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count meta flag %s: %w", key, err)
	}
	return n, nil
}
