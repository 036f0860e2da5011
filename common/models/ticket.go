package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus represents the tracker-facing status of a ticket
type TicketStatus string

const (
	TicketOpen       TicketStatus = "OPEN"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketResolved   TicketStatus = "RESOLVED"
	TicketClosed     TicketStatus = "CLOSED"
)

// Ticket is the unit of work: a bug report or feature request ingested from
// an external tracker (webhook) or the CLI.
// Maps to: tickets table
type Ticket struct {
	ID uuid.UUID `db:"id" json:"id"`

	// Key in the external tracker (e.g. "PROJ-142")
	ExternalKey string `db:"external_key" json:"external_key"`

	// Owning project; selects capability provider overrides and workspace
	ProjectID string `db:"project_id" json:"project_id"`

	Title string `db:"title" json:"title"`
	Body  string `db:"body" json:"body"`

	// Acceptance criteria extracted from the ticket body (JSONB)
	AcceptanceCriteria []string `db:"acceptance_criteria" json:"acceptance_criteria"`

	Status   TicketStatus `db:"status" json:"status"`
	Priority string       `db:"priority" json:"priority"`
	Labels   []string     `db:"labels" json:"labels"`

	// Open metadata bag (JSONB): repo URL, base branch, language hints, ...
	Meta map[string]interface{} `db:"meta" json:"meta,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RepoURL returns the clone URL recorded at ingest time
func (t *Ticket) RepoURL() string {
	if t.Meta == nil {
		return ""
	}
	if url, ok := t.Meta["repo_url"].(string); ok {
		return url
	}
	return ""
}

// BaseBranch returns the branch the fix should target (default "main")
func (t *Ticket) BaseBranch() string {
	if t.Meta != nil {
		if branch, ok := t.Meta["base_branch"].(string); ok && branch != "" {
			return branch
		}
	}
	return "main"
}
