package models

import (
	"time"

	"github.com/google/uuid"
)

// State is the workflow state machine position.
// The happy path is linear; FIXING is a bounded side-loop back into TESTING,
// and FAILED is reachable from any non-terminal state.
type State string

const (
	StateIngested     State = "INGESTED"
	StateContextReady State = "CONTEXT_READY"
	StatePlanned      State = "PLANNED"
	StateImplementing State = "IMPLEMENTING"
	StateTesting      State = "TESTING"
	StateReviewing    State = "REVIEWING"
	StateFixing       State = "FIXING"
	StatePRCreated    State = "PR_CREATED"
	StateDone         State = "DONE"
	StateFailed       State = "FAILED"
)

// Transitions enumerates the legal successor states for each state.
// FAILED is appended to every non-terminal entry; no handler may skip ahead.
var Transitions = map[State][]State{
	StateIngested:     {StateContextReady, StateFailed},
	StateContextReady: {StatePlanned, StateFailed},
	StatePlanned:      {StateImplementing, StateFailed},
	StateImplementing: {StateTesting, StateFailed},
	StateTesting:      {StateReviewing, StateFailed},
	StateReviewing:    {StateFixing, StatePRCreated, StateFailed},
	StateFixing:       {StateTesting, StateFailed},
	StatePRCreated:    {StateDone, StateFailed},
	StateDone:         {},
	StateFailed:       {}, // Only operator retry/reset leaves FAILED
}

// CanTransition reports whether from -> to is a legal step
func CanTransition(from, to State) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further stage dispatch.
// FAILED is terminal for the pipeline but resettable by an operator.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Well-known workflow meta keys. Stages annotate meta freely, but keys
// listed here have a documented writer and merge rule (later value wins,
// counters only ever increase).
const (
	MetaPreviousState  = "previous_state"  // checkpoint recorded by the failing handler
	MetaCancelled      = "cancelled"       // set by cancelWorkflow, checked by dispatch guards
	MetaLastError      = "last_error"      // most recent stage error message
	MetaLastBundle     = "last_bundle"     // artifact path of the most recent failure bundle
	MetaFixIterations  = "fix_iterations"  // review/fix loop counter
	MetaRepairAttempts = "repair_attempts" // repair engine counter within a failure chain
	MetaRepairSuccess  = "repair_success"  // set true by a verified repair
	MetaRepairEscalate = "repair_escalated"
	MetaActionRequired = "action_required" // human-readable escalation note
	MetaPRDraft        = "pr_draft"        // set by PR creation; drafts stay restartable
)

// Workflow is the persisted state machine instance, one-to-one with Ticket.
// Maps to: workflows table
type Workflow struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TicketID uuid.UUID `db:"ticket_id" json:"ticket_id"`

	State State `db:"state" json:"state"`

	// Orchestration-level restarts (not per-job infrastructure retries)
	Retries int `db:"retries" json:"retries"`

	// Open annotation bag (JSONB), merged via RFC 7386 merge-patch
	Meta map[string]interface{} `db:"meta" json:"meta"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsCancelled reports whether cancelWorkflow has flagged this workflow
func (w *Workflow) IsCancelled() bool {
	if w.Meta == nil {
		return false
	}
	cancelled, ok := w.Meta[MetaCancelled].(bool)
	return ok && cancelled
}

// MetaBool reads a boolean value from meta
func (w *Workflow) MetaBool(key string) bool {
	if w.Meta == nil {
		return false
	}
	b, ok := w.Meta[key].(bool)
	return ok && b
}

// MetaString reads a string value from meta
func (w *Workflow) MetaString(key string) string {
	if w.Meta == nil {
		return ""
	}
	if s, ok := w.Meta[key].(string); ok {
		return s
	}
	return ""
}

// MetaInt reads an integer value from meta. JSON round-trips land numbers
// as float64, so both forms are accepted.
func (w *Workflow) MetaInt(key string) int {
	if w.Meta == nil {
		return 0
	}
	switch v := w.Meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// WorkflowStatus is the observability read model returned by getStatus
type WorkflowStatus struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	State      State     `json:"state"`
	Retries    int       `json:"retries"`
	HasPlan    bool      `json:"has_plan"`
	HasPatch   bool      `json:"has_patch"`
	HasPR      bool      `json:"has_pr"`
	IsComplete bool      `json:"is_complete"`
	IsFailed   bool      `json:"is_failed"`
	Duration   string    `json:"duration"`
	NextStates []State   `json:"next_states"`

	Meta map[string]interface{} `json:"meta,omitempty"`
}

// WorkflowStatistics aggregates workflow counts by state
type WorkflowStatistics struct {
	Total     int           `json:"total"`
	ByState   map[State]int `json:"by_state"`
	Escalated int           `json:"escalated"`
	Cancelled int           `json:"cancelled"`
}
