package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/murre-ai/murre/internal/server/middleware"
)

// ClearTenantCacheHandler drops all cached state for a tenant. Call after
// re-ingestion so cached subgraph snapshots do not go stale.
func ClearTenantCacheHandler(c echo.Context) error {
	type clearResponse struct {
		Message string `json:"message"`
	}

	tenant := c.Param("tenant")
	if tenant == "" {
		return c.JSON(http.StatusBadRequest, clearResponse{
			Message: "Missing tenant",
		})
	}

	c.(*middleware.AppContext).App.Engine.ClearTenant(tenant)
	return c.JSON(http.StatusOK, clearResponse{
		Message: "OK",
	})
}
