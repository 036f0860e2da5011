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

// PullRequestRepository handles database operations for pull requests
type PullRequestRepository struct {
	db *db.DB
}

// NewPullRequestRepository creates a new pull request repository
func NewPullRequestRepository(database *db.DB) *PullRequestRepository {
	return &PullRequestRepository{db: database}
}

// Create inserts a new pull request record
func (r *PullRequestRepository) Create(ctx context.Context, pr *models.PullRequest) error {
	labels, err := json.Marshal(pr.Labels)
	if err != nil {
		return fmt.Errorf("marshal pr labels: %w", err)
	}

	query := `
		INSERT INTO pull_requests (id, ticket_id, provider_id, url, branch, draft, labels)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err = r.db.QueryRow(ctx, query,
		pr.ID, pr.TicketID, pr.ProviderID, pr.URL, pr.Branch, pr.Draft, labels,
	).Scan(&pr.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pull request: %w", err)
	}
	return nil
}

// GetLatestByTicket retrieves the most recent PR for a ticket; nil when absent
func (r *PullRequestRepository) GetLatestByTicket(ctx context.Context, ticketID uuid.UUID) (*models.PullRequest, error) {
	query := `
		SELECT id, ticket_id, provider_id, url, branch, draft, labels, created_at
		FROM pull_requests
		WHERE ticket_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	pr := &models.PullRequest{}
	var labels []byte

	err := r.db.QueryRow(ctx, query, ticketID).Scan(
		&pr.ID, &pr.TicketID, &pr.ProviderID, &pr.URL, &pr.Branch, &pr.Draft, &labels, &pr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}

	if err := json.Unmarshal(labels, &pr.Labels); err != nil {
		return nil, fmt.Errorf("unmarshal pr labels: %w", err)
	}
	return pr, nil
}

// Exists reports whether a ticket has at least one PR
func (r *PullRequestRepository) Exists(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pull_requests WHERE ticket_id = $1)`, ticketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pr existence: %w", err)
	}
	return exists, nil
}
