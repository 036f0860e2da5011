package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mend/common/workflow"
)

// parseTicketID reads and validates the :id path parameter
func parseTicketID(c echo.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

// statusForWorkflowError maps core workflow errors to HTTP statuses
func statusForWorkflowError(err error) int {
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrRetryNotAllowed),
		errors.Is(err, workflow.ErrRetryCeiling),
		workflow.IsInvalidTransition(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
