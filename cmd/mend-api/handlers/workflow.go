package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mend/cmd/mend-api/container"
)

// WorkflowHandler serves workflow status and operator controls
type WorkflowHandler struct {
	c *container.Container
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

// GetStatus returns the workflow read model for a ticket
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetStatus(c echo.Context) error {
	id, err := parseTicketID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid ticket id"})
	}

	status, err := h.c.Machine.Status(c.Request().Context(), id)
	if err != nil {
		return c.JSON(statusForWorkflowError(err), map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

// GetStatistics returns aggregate workflow counts
// GET /api/v1/workflows/stats
func (h *WorkflowHandler) GetStatistics(c echo.Context) error {
	stats, err := h.c.Machine.Statistics(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

// Retry resumes a FAILED workflow from its checkpoint
// POST /api/v1/workflows/:id/retry
func (h *WorkflowHandler) Retry(c echo.Context) error {
	id, err := parseTicketID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid ticket id"})
	}

	if _, err := h.c.Machine.Retry(c.Request().Context(), id); err != nil {
		return c.JSON(statusForWorkflowError(err), map[string]interface{}{"error": err.Error()})
	}

	status, err := h.c.Machine.Status(c.Request().Context(), id)
	if err != nil {
		return c.JSON(statusForWorkflowError(err), map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

// Cancel flags a workflow cancelled; in-flight stage jobs drain without
// executing
// POST /api/v1/workflows/:id/cancel
func (h *WorkflowHandler) Cancel(c echo.Context) error {
	id, err := parseTicketID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid ticket id"})
	}

	if _, err := h.c.Machine.Cancel(c.Request().Context(), id); err != nil {
		return c.JSON(statusForWorkflowError(err), map[string]interface{}{"error": err.Error()})
	}

	status, err := h.c.Machine.Status(c.Request().Context(), id)
	if err != nil {
		return c.JSON(statusForWorkflowError(err), map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}
