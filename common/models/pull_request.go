package models

import (
	"time"

	"github.com/google/uuid"
)

// PullRequest records the outcome of one PR-open call against the VCS
// provider. A ticket may accumulate several across iterations.
// Maps to: pull_requests table
type PullRequest struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TicketID uuid.UUID `db:"ticket_id" json:"ticket_id"`

	// Provider-assigned identity
	ProviderID string `db:"provider_id" json:"provider_id"`
	URL        string `db:"url" json:"url"`

	Branch string   `db:"branch" json:"branch"`
	Draft  bool     `db:"draft" json:"draft"`
	Labels []string `db:"labels" json:"labels"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
