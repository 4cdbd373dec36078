package server

import (
	"github.com/labstack/echo/v4"

	"github.com/murre-ai/murre/internal/server/middleware"
	"github.com/murre-ai/murre/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo, app *middleware.App) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AppContextMiddleware(app))

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler)

	// Cache routes
	apiRoutes.DELETE("/tenants/:tenant/cache", routes.ClearTenantCacheHandler)
}
