package repository

import (
	"context"

	"github.com/google/uuid"
)

// Records is a thin facade over the per-aggregate repositories answering
// the presence questions the workflow status read model needs.
type Records struct {
	plans   *PlanRepository
	patches *PatchRepository
	prs     *PullRequestRepository
}

// NewRecords creates the records facade
func NewRecords(plans *PlanRepository, patches *PatchRepository, prs *PullRequestRepository) *Records {
	return &Records{plans: plans, patches: patches, prs: prs}
}

// HasPlan reports whether the ticket has an implementation plan
func (r *Records) HasPlan(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	return r.plans.Exists(ctx, ticketID)
}

// HasPatch reports whether the ticket has accumulated any patch
func (r *Records) HasPatch(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	return r.patches.Exists(ctx, ticketID)
}

// HasOpenPR reports whether the ticket has a pull request on record
func (r *Records) HasOpenPR(ctx context.Context, ticketID uuid.UUID) (bool, error) {
	return r.prs.Exists(ctx, ticketID)
}
