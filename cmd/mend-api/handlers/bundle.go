package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mend/cmd/mend-api/container"
)

// BundleHandler serves captured failure bundles
type BundleHandler struct {
	c *container.Container
}

// NewBundleHandler creates a new bundle handler
func NewBundleHandler(c *container.Container) *BundleHandler {
	return &BundleHandler{c: c}
}

// GetLatest returns the most recent failure bundle for a ticket
// GET /api/v1/tickets/:id/bundles/latest
func (h *BundleHandler) GetLatest(c echo.Context) error {
	id, err := parseTicketID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid ticket id"})
	}

	bundle, err := h.c.Collector.LatestBundle(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	if bundle == nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "no failure bundle captured"})
	}
	return c.JSON(http.StatusOK, bundle)
}

// GetByPath returns a specific bundle by its artifact path
// GET /api/v1/bundles?path=artifacts/tickets/...
func (h *BundleHandler) GetByPath(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "path query parameter is required"})
	}

	bundle, err := h.c.Collector.LoadBundle(c.Request().Context(), path)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
	}
	if bundle == nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "bundle not found"})
	}
	return c.JSON(http.StatusOK, bundle)
}
