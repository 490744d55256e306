package server

import (
	"github.com/labstack/echo/v4"

	"github.com/walbarellos/Sentinela/internal/server/middleware"
	"github.com/walbarellos/Sentinela/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Dashboard routes
	apiRoutes.GET("/meta/summary", routes.GetSummaryHandler, middleware.RequirePermission("summary.view"))

	// Insight routes
	apiRoutes.GET("/insights", routes.GetInsightsHandler, middleware.RequirePermission("insight.view"))
	apiRoutes.GET("/insights/:id/evidence", routes.GetInsightEvidenceHandler, middleware.RequirePermission("evidence.view"))

	// Entity routes
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler, middleware.RequirePermission("entity.view"))
	apiRoutes.GET("/entities/:id/timeline", routes.GetEntityTimelineHandler, middleware.RequirePermission("entity.view"))
	apiRoutes.GET("/entities/:id/graph", routes.GetEntityGraphHandler, middleware.RequirePermission("entity.view"))

	// Ingest routes
	apiRoutes.POST("/ingest", routes.PostIngestHandler, middleware.RequirePermission("ingest.create"))
	apiRoutes.POST("/detect", routes.PostDetectHandler, middleware.RequirePermission("ingest.create"))

	// Run routes
	apiRoutes.GET("/runs", routes.GetRunsHandler, middleware.RequirePermission("run.view"))
	apiRoutes.GET("/runs/:id", routes.GetRunHandler, middleware.RequirePermission("run.view"))
}
