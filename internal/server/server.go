package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	pgxdriver "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	mid "github.com/murre-ai/murre/internal/server/middleware"
	"github.com/murre-ai/murre/internal/util"
	"github.com/murre-ai/murre/pkg/ai"
	oll "github.com/murre-ai/murre/pkg/ai/ollama"
	oai "github.com/murre-ai/murre/pkg/ai/openai"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/query"
	pgxstore "github.com/murre-ai/murre/pkg/store/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// newPoolConfig parses the connection string and registers pgvector types
// on every new connection. AfterConnect must be set before the pool
// exists; Config() on a live pool returns a copy.
func newPoolConfig(databaseURL string) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgxdriver.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	return poolConfig, nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := pgxstore.Migrate(databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	poolConfig, err := newPoolConfig(databaseURL)
	if err != nil {
		logger.Fatal("Failed to parse database URL", "err", err)
	}

	conn, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	aiClient := newAIClient()

	engine := query.NewEngine(pgxstore.NewGraphDBStore(conn), aiClient, query.Options{
		Profile:       query.Profile(util.GetEnvString("QUERY_PROFILE", string(query.ProfilePrecision))),
		Strategy:      query.Strategy(util.GetEnvString("QUERY_STRATEGY", string(query.StrategyBoundedHop))),
		DisableVector: util.GetEnvBool("QUERY_DISABLE_VECTOR", false),

		ContextTokenBudget: util.GetEnvInt("QUERY_CONTEXT_TOKENS", 6000),
	})

	app := &mid.App{
		DBConn:   conn,
		AiClient: aiClient,
		Engine:   engine,
	}

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	RegisterRoutes(e, app)

	go func() {
		port := util.GetEnv("PORT")
		if port == "" {
			port = "8080"
		}
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// newAIClient selects the model backend from the AI_ADAPTER environment
// variable, defaulting to an OpenAI-compatible endpoint.
func newAIClient() ai.Client {
	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		client, err := oll.NewClient(oll.NewClientParams{
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:    util.GetEnvInt("AI_EMBED_DIM", 1024),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			APIKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 4)),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	default:
		return oai.NewClient(oai.NewClientParams{
			CompletionModel: util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:    util.GetEnvInt("AI_EMBED_DIM", 1536),

			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
		})
	}
}
