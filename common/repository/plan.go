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

// PlanRepository handles database operations for implementation plans
type PlanRepository struct {
	db *db.DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(database *db.DB) *PlanRepository {
	return &PlanRepository{db: database}
}

// Upsert creates or replaces the plan for a ticket. Re-planning after a
// repair replaces the previous plan (update-or-create keyed by ticket).
func (r *PlanRepository) Upsert(ctx context.Context, p *models.Plan) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}
	files, err := json.Marshal(p.FilesAffected)
	if err != nil {
		return fmt.Errorf("marshal affected files: %w", err)
	}

	query := `
		INSERT INTO plans (id, ticket_id, steps, risk, test_strategy, files_affected, estimated_hours, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ticket_id) DO UPDATE
		SET steps = EXCLUDED.steps,
		    risk = EXCLUDED.risk,
		    test_strategy = EXCLUDED.test_strategy,
		    files_affected = EXCLUDED.files_affected,
		    estimated_hours = EXCLUDED.estimated_hours,
		    summary = EXCLUDED.summary
		RETURNING id, created_at
	`

	err = r.db.QueryRow(ctx, query,
		p.ID, p.TicketID, steps, p.Risk, p.TestStrategy, files, p.EstimatedHours, p.Summary,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

// GetByTicket retrieves the plan for a ticket; nil when absent
func (r *PlanRepository) GetByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Plan, error) {
	query := `
		SELECT id, ticket_id, steps, risk, test_strategy, files_affected, estimated_hours, summary, created_at
		FROM plans
		WHERE ticket_id = $1
	`

	p := &models.Plan{}
	var steps, files []byte

	err := r.db.QueryRow(ctx, query, ticketID).Scan(
		&p.ID, &p.TicketID, &steps, &p.Risk, &p.TestStrategy, &files, &p.EstimatedHours, &p.Summary, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal plan steps: %w", err)
	}
	if err := json.Unmarshal(files, &p.FilesAffected); err != nil {
		return nil, fmt.Errorf("unmarshal affected files: %w", err)
	}
	return p, nil
}

// Exists reports whether a ticket has a plan
func (r *PlanRepository) Exists(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM plans WHERE ticket_id = $1)`, ticketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check plan existence: %w", err)
	}
	return exists, nil
}
