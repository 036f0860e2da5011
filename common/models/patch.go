package models

import (
	"time"

	"github.com/google/uuid"
)

// DiffStats counts changed lines across a patch
type DiffStats struct {
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// Total returns the total changed-line volume
func (d DiffStats) Total() int {
	return d.LinesAdded + d.LinesRemoved
}

// Patch is one concrete set of code changes produced by an implementation or
// fix iteration. A ticket accumulates patches; the latest is authoritative
// for PR creation.
// Maps to: patches table
type Patch struct {
	ID       uuid.UUID `db:"id" json:"id"`
	TicketID uuid.UUID `db:"ticket_id" json:"ticket_id"`

	FilesTouched []string  `db:"files_touched" json:"files_touched"`
	Stats        DiffStats `db:"diff_stats" json:"diff_stats"`

	// Heuristic risk score 0-100 (file count, line volume, sensitive paths)
	RiskScore int `db:"risk_score" json:"risk_score"`

	// Accumulates review results and fix history across iterations (JSONB)
	Summary map[string]interface{} `db:"summary" json:"summary,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RiskLevel buckets the patch risk score
func (p *Patch) RiskLevel() RiskLevel {
	return RiskLevelForScore(p.RiskScore)
}

// RiskLevelForScore buckets a 0-100 risk score
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 55:
		return RiskHigh
	case score >= 25:
		return RiskMedium
	default:
		return RiskLow
	}
}
