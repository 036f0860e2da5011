package workflow

import (
	"errors"
	"fmt"

	"github.com/lyzr/mend/common/models"
)

// ErrWorkflowNotFound is returned when a ticket has no workflow record
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrRetryNotAllowed is returned when retryWorkflow is called on a
// workflow that is not in FAILED
var ErrRetryNotAllowed = errors.New("retry only allowed from FAILED state")

// ErrRetryCeiling is returned when start/retry is rejected because the
// workflow has exhausted its orchestration-level retry budget
var ErrRetryCeiling = errors.New("workflow retry ceiling reached")

// InvalidTransitionError signals an illegal state transition; the workflow
// state is left unchanged.
type InvalidTransitionError struct {
	From models.State
	To   models.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
