package middleware

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/murre-ai/murre/pkg/ai"
	"github.com/murre-ai/murre/pkg/query"
)

// App bundles the shared dependencies every request handler needs.
type App struct {
	DBConn   *pgxpool.Pool
	AiClient ai.Client
	Engine   *query.Engine
}

// AppContext wraps the echo context with the application dependencies.
type AppContext struct {
	echo.Context
	App *App
}

// AppContextMiddleware injects the App into every request context.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}
