package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mend/cmd/mend-api/container"
)

// RunHandler serves check run history
type RunHandler struct {
	c *container.Container
}

// NewRunHandler creates a new run handler
func NewRunHandler(c *container.Container) *RunHandler {
	return &RunHandler{c: c}
}

// ListRuns lists recent check runs for a ticket
// GET /api/v1/tickets/:id/runs?limit=20
func (h *RunHandler) ListRuns(c echo.Context) error {
	id, err := parseTicketID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid ticket id"})
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	runs, err := h.c.RunRepo.ListByTicket(c.Request().Context(), id, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}
