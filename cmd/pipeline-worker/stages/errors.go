package stages

import (
	"errors"

	"github.com/lyzr/mend/common/models"
)

// FailureKind distinguishes business failure categories for bundle
// classification and repair routing
type FailureKind string

const (
	FailureException  FailureKind = "exception"
	FailureValidation FailureKind = "validation"
	FailureCheck      FailureKind = "check"
)

// StageError is a business failure raised by a stage handler. Unlike
// transient errors it is never redelivered: it goes straight to bundle
// capture and the FAILED transition.
type StageError struct {
	Kind      FailureKind
	CheckType string // set when Kind is FailureCheck
	Logs      []models.CommandLog
	Err       error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SelfHealable reports whether the repair engine may attempt this
// failure. Only lint and typecheck breakage qualifies; test failures and
// exceptions need human judgment or an explicit retry.
func (e *StageError) SelfHealable() bool {
	if e.Kind != FailureCheck {
		return false
	}
	return e.CheckType == string(models.CheckLint) || e.CheckType == string(models.CheckTypecheck)
}

// AsStageError unwraps a handler error into a StageError, or nil
func AsStageError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
