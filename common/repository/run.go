package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lyzr/mend/common/db"
	"github.com/lyzr/mend/common/models"
)

// RunRepository handles database operations for check runs.
// Runs are append-only history: there is no update path.
type RunRepository struct {
	db *db.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(database *db.DB) *RunRepository {
	return &RunRepository{db: database}
}

// Create inserts a new run record
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (id, ticket_id, patch_id, type, status, exit_code, log_path, junit_path, coverage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		run.ID, run.TicketID, run.PatchID, run.Type, run.Status,
		run.ExitCode, run.LogPath, run.JUnitPath, run.CoveragePath,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// ListByTicket retrieves runs for a ticket, newest first
func (r *RunRepository) ListByTicket(ctx context.Context, ticketID uuid.UUID, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, ticket_id, patch_id, type, status, exit_code, log_path, junit_path, coverage_path, created_at
		FROM runs
		WHERE ticket_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, ticketID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run := &models.Run{}
		err := rows.Scan(&run.ID, &run.TicketID, &run.PatchID, &run.Type, &run.Status,
			&run.ExitCode, &run.LogPath, &run.JUnitPath, &run.CoveragePath, &run.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
