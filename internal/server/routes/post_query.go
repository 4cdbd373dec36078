package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/murre-ai/murre/internal/server/middleware"
	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/query"
	"github.com/murre-ai/murre/pkg/store"
)

// QueryHandler answers one question over the tenant's corpus.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Tenant         string `json:"tenant" validate:"required"`
		Query          string `json:"query" validate:"required"`
		PreviousAnswer string `json:"previous_answer"`
		Route          string `json:"route"`
		Style          string `json:"style"`
		IncludeContext bool   `json:"include_context"`
	}

	type queryResponse struct {
		Message string             `json:"message"`
		Result  *graph.RouteResult `json:"result,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	engine := c.(*middleware.AppContext).App.Engine
	result, err := engine.Query(c.Request().Context(), query.Request{
		Tenant:         data.Tenant,
		Text:           data.Query,
		PreviousAnswer: data.PreviousAnswer,
		RouteHint:      graph.Route(data.Route),
		ResponseStyle:  query.ResponseStyle(data.Style),
		IncludeContext: data.IncludeContext,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUnavailable):
			return c.JSON(http.StatusServiceUnavailable, queryResponse{
				Message: "Graph store unavailable",
			})
		case errors.Is(err, query.ErrNoEvidence):
			return c.JSON(http.StatusUnprocessableEntity, queryResponse{
				Message: "No supporting passages found for the resolved entities",
			})
		default:
			logger.Error("Query failed", "tenant", data.Tenant, "err", err)
			return c.JSON(http.StatusInternalServerError, queryResponse{
				Message: "Internal server error",
			})
		}
	}

	return c.JSON(http.StatusOK, queryResponse{
		Message: "OK",
		Result:  result,
	})
}
