package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage names the asynchronous pipeline units. Each stage consumes one
// workflow state and produces the next.
type Stage string

const (
	StageBuildContext  Stage = "build_context"
	StagePlanTicket    Stage = "plan_ticket"
	StageImplementPlan Stage = "implement_plan"
	StageRunChecks     Stage = "run_checks"
	StageReviewPatch   Stage = "review_patch"
	StageFixIteration  Stage = "fix_iteration"
	StageCreatePR      Stage = "create_pull_request"
)

// StageForState maps a checkpoint state to the stage job that executes it.
// Used when resuming a workflow from meta.previous_state after a repair.
func StageForState(s State) (Stage, bool) {
	switch s {
	case StateIngested:
		return StageBuildContext, true
	case StateContextReady:
		return StagePlanTicket, true
	case StatePlanned, StateImplementing:
		return StageImplementPlan, true
	case StateTesting:
		return StageRunChecks, true
	case StateReviewing:
		return StageReviewPatch, true
	case StateFixing:
		return StageFixIteration, true
	case StatePRCreated:
		return StageCreatePR, true
	}
	return "", false
}

// StageJob is the queue payload for one stage execution
type StageJob struct {
	TicketID uuid.UUID `json:"ticket_id"`
	Stage    Stage     `json:"stage"`

	// Delivery attempt, 1-based; the worker gives up past its ceiling
	Attempt int `json:"attempt"`

	// Extra per-dispatch parameters (e.g. checks_pass for review)
	Params map[string]interface{} `json:"params,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RepairJob is the queue payload for one repair engine attempt
type RepairJob struct {
	TicketID   uuid.UUID `json:"ticket_id"`
	BundlePath string    `json:"bundle_path"`

	// Business-logic attempt number, 1-based, capped independently of
	// infrastructure delivery retries
	AttemptNumber int `json:"attempt_number"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}
