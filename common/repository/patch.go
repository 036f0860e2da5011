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

// PatchRepository handles database operations for patches
type PatchRepository struct {
	db *db.DB
}

// NewPatchRepository creates a new patch repository
func NewPatchRepository(database *db.DB) *PatchRepository {
	return &PatchRepository{db: database}
}

// Create inserts a new patch
func (r *PatchRepository) Create(ctx context.Context, p *models.Patch) error {
	files, err := json.Marshal(p.FilesTouched)
	if err != nil {
		return fmt.Errorf("marshal files touched: %w", err)
	}
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return fmt.Errorf("marshal diff stats: %w", err)
	}
	summary, err := json.Marshal(p.Summary)
	if err != nil {
		return fmt.Errorf("marshal patch summary: %w", err)
	}

	query := `
		INSERT INTO patches (id, ticket_id, files_touched, diff_stats, risk_score, summary)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = r.db.QueryRow(ctx, query, p.ID, p.TicketID, files, stats, p.RiskScore, summary).
		Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create patch: %w", err)
	}
	return nil
}

// UpdateSummary replaces the accumulated summary of a patch (review
// results and fix history grow across iterations)
func (r *PatchRepository) UpdateSummary(ctx context.Context, id uuid.UUID, summary map[string]interface{}) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal patch summary: %w", err)
	}

	query := `UPDATE patches SET summary = $2 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, summaryJSON); err != nil {
		return fmt.Errorf("failed to update patch summary: %w", err)
	}
	return nil
}

// GetLatestByTicket retrieves the most recent patch for a ticket; the
// latest patch is authoritative for PR creation. Nil when absent.
func (r *PatchRepository) GetLatestByTicket(ctx context.Context, ticketID uuid.UUID) (*models.Patch, error) {
	query := `
		SELECT id, ticket_id, files_touched, diff_stats, risk_score, summary, created_at
		FROM patches
		WHERE ticket_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, ticketID))
}

// ListByTicket retrieves all patches for a ticket, oldest first
func (r *PatchRepository) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]*models.Patch, error) {
	query := `
		SELECT id, ticket_id, files_touched, diff_stats, risk_score, summary, created_at
		FROM patches
		WHERE ticket_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patches: %w", err)
	}
	defer rows.Close()

	var patches []*models.Patch
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patches: %w", err)
	}
	return patches, nil
}

// Exists reports whether a ticket has at least one patch
func (r *PatchRepository) Exists(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patches WHERE ticket_id = $1)`, ticketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check patch existence: %w", err)
	}
	return exists, nil
}

func (r *PatchRepository) scanOne(row pgx.Row) (*models.Patch, error) {
	p, err := scanPatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *PatchRepository) scanRow(rows pgx.Rows) (*models.Patch, error) {
	return scanPatch(rows)
}

func scanPatch(row pgx.Row) (*models.Patch, error) {
	p := &models.Patch{}
	var files, stats, summary []byte

	err := row.Scan(&p.ID, &p.TicketID, &files, &stats, &p.RiskScore, &summary, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan patch: %w", err)
	}

	if err := json.Unmarshal(files, &p.FilesTouched); err != nil {
		return nil, fmt.Errorf("unmarshal files touched: %w", err)
	}
	if err := json.Unmarshal(stats, &p.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal diff stats: %w", err)
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &p.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal patch summary: %w", err)
		}
	}
	return p, nil
}
