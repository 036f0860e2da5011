package models

import (
	"time"

	"github.com/google/uuid"
)

// StepIntent classifies what a plan step does to the codebase
type StepIntent string

const (
	IntentAdd      StepIntent = "add"
	IntentModify   StepIntent = "modify"
	IntentRemove   StepIntent = "remove"
	IntentAddTest  StepIntent = "add_test"
	IntentRefactor StepIntent = "refactor"
)

// ValidIntent reports whether the intent is one of the enumerated values
func ValidIntent(i StepIntent) bool {
	switch i {
	case IntentAdd, IntentModify, IntentRemove, IntentAddTest, IntentRefactor:
		return true
	}
	return false
}

// RiskLevel buckets a numeric risk score
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PlanStep is one ordered unit of an implementation plan
type PlanStep struct {
	ID               string     `json:"id"`
	Intent           StepIntent `json:"intent"`
	TargetFiles      []string   `json:"target_files"`
	Rationale        string     `json:"rationale"`
	AcceptanceChecks []string   `json:"acceptance_checks,omitempty"`
	EstimatedEffort  string     `json:"estimated_effort,omitempty"`
	RiskFactors      []string   `json:"risk_factors,omitempty"`
	DependsOn        []string   `json:"depends_on,omitempty"`
}

// Plan is the AI-authored implementation plan for a ticket. Immutable once
// checks/implementation begin; re-planning replaces it via upsert keyed by
// ticket.
// Maps to: plans table
type Plan struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TicketID uuid.UUID `db:"ticket_id" json:"ticket_id"`

	Steps []PlanStep `db:"steps" json:"steps"`

	Risk          RiskLevel `db:"risk" json:"risk"`
	TestStrategy  string    `db:"test_strategy" json:"test_strategy"`
	FilesAffected []string  `db:"files_affected" json:"files_affected"`

	EstimatedHours float64 `db:"estimated_hours" json:"estimated_hours"`
	Summary        string  `db:"summary" json:"summary"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StepByID returns the step with the given id, or nil
func (p *Plan) StepByID(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}
