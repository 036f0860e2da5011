package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckType identifies the verification check a run executed
type CheckType string

const (
	CheckLint      CheckType = "lint"
	CheckTypecheck CheckType = "typecheck"
	CheckTest      CheckType = "test"
	CheckBuild     CheckType = "build"
	CheckReview    CheckType = "review"
)

// RunStatus represents the lifecycle of a single check invocation
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// Run records the result of one verification check against a patch.
// Append-only: never mutated after creation.
// Maps to: runs table
type Run struct {
	ID       uuid.UUID  `db:"id" json:"id"`
	TicketID uuid.UUID  `db:"ticket_id" json:"ticket_id"`
	PatchID  *uuid.UUID `db:"patch_id" json:"patch_id,omitempty"`

	Type   CheckType `db:"type" json:"type"`
	Status RunStatus `db:"status" json:"status"`

	ExitCode int `db:"exit_code" json:"exit_code"`

	// Artifact store paths (empty when the artifact was not produced)
	LogPath      string `db:"log_path" json:"log_path,omitempty"`
	JUnitPath    string `db:"junit_path" json:"junit_path,omitempty"`
	CoveragePath string `db:"coverage_path" json:"coverage_path,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Passed reports whether the check succeeded
func (r *Run) Passed() bool {
	return r.Status == RunSuccess
}
