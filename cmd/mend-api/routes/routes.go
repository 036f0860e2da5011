package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/mend/cmd/mend-api/container"
	"github.com/lyzr/mend/cmd/mend-api/handlers"
	"github.com/lyzr/mend/cmd/mend-api/middleware"
)

// Register wires all API routes onto the Echo instance
func Register(e *echo.Echo, c *container.Container) {
	auth := middleware.BearerAuth(c.Components.Config.Service.AuthToken)

	api := e.Group("/api/v1", auth)

	ticketHandler := handlers.NewTicketHandler(c)
	workflowHandler := handlers.NewWorkflowHandler(c)
	bundleHandler := handlers.NewBundleHandler(c)
	runHandler := handlers.NewRunHandler(c)

	tickets := api.Group("/tickets")
	{
		tickets.POST("", ticketHandler.Ingest)                    // POST /api/v1/tickets
		tickets.GET("/:id", ticketHandler.GetTicket)              // GET /api/v1/tickets/:id
		tickets.GET("/:id/bundles/latest", bundleHandler.GetLatest) // GET /api/v1/tickets/:id/bundles/latest
		tickets.GET("/:id/runs", runHandler.ListRuns)             // GET /api/v1/tickets/:id/runs
	}

	workflows := api.Group("/workflows")
	{
		workflows.GET("/stats", workflowHandler.GetStatistics) // GET /api/v1/workflows/stats
		workflows.GET("/:id", workflowHandler.GetStatus)       // GET /api/v1/workflows/:id
		workflows.POST("/:id/retry", workflowHandler.Retry)    // POST /api/v1/workflows/:id/retry
		workflows.POST("/:id/cancel", workflowHandler.Cancel)  // POST /api/v1/workflows/:id/cancel
	}

	api.GET("/bundles", bundleHandler.GetByPath) // GET /api/v1/bundles?path=...
}
