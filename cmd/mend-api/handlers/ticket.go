package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mend/cmd/mend-api/container"
	"github.com/lyzr/mend/cmd/mend-api/service"
)

// TicketHandler handles ticket ingestion requests
type TicketHandler struct {
	c *container.Container
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(c *container.Container) *TicketHandler {
	return &TicketHandler{c: c}
}

// IngestRequest is the ingestion payload
type IngestRequest struct {
	ExternalKey        string                 `json:"external_key"`
	ProjectID          string                 `json:"project_id"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description"`
	AcceptanceCriteria []string               `json:"acceptance_criteria"`
	Priority           string                 `json:"priority"`
	Labels             []string               `json:"labels"`
	Meta               map[string]interface{} `json:"meta"`
	Force              bool                   `json:"force"`
}

// Ingest accepts a ticket and starts its workflow
// POST /api/v1/tickets
func (h *TicketHandler) Ingest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid request body",
		})
	}

	result, err := h.c.IngestService.Ingest(c.Request().Context(), &service.IngestInput{
		ExternalKey:        req.ExternalKey,
		ProjectID:          req.ProjectID,
		Title:              req.Title,
		Body:               req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
		Priority:           req.Priority,
		Labels:             req.Labels,
		Meta:               req.Meta,
		Force:              req.Force,
	})
	if err != nil {
		if contains(err.Error(), "is required") {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		}
		return c.JSON(statusForWorkflowError(err), map[string]interface{}{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"ticket_id": result.Ticket.ID,
		"state":     result.Workflow.State,
		"resumed":   result.Resumed,
	})
}

// GetTicket returns the ticket record
// GET /api/v1/tickets/:id
func (h *TicketHandler) GetTicket(c echo.Context) error {
	id, err := parseTicketID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid ticket id"})
	}

	ticket, err := h.c.TicketRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	if ticket == nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "ticket not found"})
	}
	return c.JSON(http.StatusOK, ticket)
}
