package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"agentcanvas/backend/internal/api"
	"agentcanvas/backend/internal/auth"
	"agentcanvas/backend/internal/config"
	"agentcanvas/backend/internal/llm"
	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/mcp"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/internal/services"
	"agentcanvas/backend/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// openAIPrefixes are the model ids served by OpenAI when it is configured.
var openAIPrefixes = []string{"gpt-", "o1", "o3", "o4"}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "agentcanvas",
		Short:         "Workflow graph and chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")

	var migrate bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), envFile, migrate)
		},
	}
	serve.Flags().BoolVar(&migrate, "migrate", true, "Apply pending Postgres migrations on start")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), envFile)
		},
	}

	root.AddCommand(serve, migrateCmd)
	root.RunE = serve.RunE
	return root
}

func loadConfig(envFile string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger := logging.NewLoggerWithOptions(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, logger, nil
}

func runMigrate(ctx context.Context, envFile string) error {
	cfg, logger, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	repo, err := repository.Open(ctx, repository.OpenOptions{
		Driver:      cfg.Store.Driver,
		PostgresDSN: cfg.PostgresDSN(),
		SQLitePath:  cfg.Store.SQLitePath,
		Migrate:     true,
	})
	if err != nil {
		return err
	}
	defer repo.Close()

	logger.Info("Migrations applied", "driver", cfg.Store.Driver)
	return nil
}

func runServe(ctx context.Context, envFile string, migrate bool) error {
	cfg, logger, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"store", cfg.Store.Driver,
		"okta_domain", cfg.Auth.OktaDomain,
		"okta_client_id", cfg.Auth.ClientID,
		"telemetry", cfg.Telemetry.Enable,
	)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Enable:         cfg.Telemetry.Enable,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err.Error())
		}
	}()

	repo, err := repository.Open(ctx, repository.OpenOptions{
		Driver:      cfg.Store.Driver,
		PostgresDSN: cfg.PostgresDSN(),
		SQLitePath:  cfg.Store.SQLitePath,
		Migrate:     migrate,
	})
	if err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}
	defer repo.Close()
	logger.Info("Store connected", "driver", cfg.Store.Driver)

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Service layer
	users := services.NewUserService(repo, logger)
	workflows := services.NewWorkflowService(repo, logger)
	recorder := services.NewExecutionRecorder(repo, services.FlatCost(cfg.Billing.CreditsPerTurn), logger)
	chat := services.NewChatService(repo, provider, recorder, logger)
	logger.Info("Service layer initialized")

	authz, err := auth.New(ctx, cfg, users, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	if authz.Bypassed() {
		logger.Warn("Authentication bypassed; every request runs as " + auth.DevIdentity.Email)
	}

	e := newEcho(cfg, logger)

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	api.RegisterHandlers(e, api.NewServer(repo, workflows, chat, logger, version, api.WithStreamWriteTimeout(cfg.Server.WriteTimeout)), api.Middleware{
		RequireAuth: echo.WrapMiddleware(authz.RequireAuth),
		Identify:    echo.WrapMiddleware(authz.Identify),
	}, cfg.Auth.OktaDomain)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(workflows, chat, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	requireAuth := echo.WrapMiddleware(authz.RequireAuth)
	e.Any("/mcp", echo.WrapHandler(mcpHandlers), requireAuth)
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), requireAuth)
	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "version", version)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-shutdown.Done():
		logger.Info("Shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err.Error())
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err.Error())
			}
		}
		logger.Info("Server stopped gracefully")
	}
	return nil
}

// newProvider routes OpenAI model ids to OpenAI when a key is configured and
// everything else to Gemini.
func newProvider(ctx context.Context, cfg *config.Config, logger *logging.Logger) (llm.Provider, error) {
	var fallback llm.Provider
	if cfg.LLM.Gemini.APIKey != "" {
		gemini, err := llm.NewGeminiProvider(ctx, llm.GeminiOptions{
			APIKey:  cfg.LLM.Gemini.APIKey,
			BaseURL: cfg.LLM.Gemini.BaseURL,
			Timeout: cfg.LLM.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		fallback = gemini
	} else {
		logger.Warn("No Gemini API key configured; only OpenAI models will run")
	}

	router := llm.NewRouter(fallback)
	if cfg.LLM.OpenAI.APIKey != "" {
		router.Handle(llm.NewOpenAIProvider(llm.OpenAIOptions{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Timeout: cfg.LLM.RequestTimeout,
		}), openAIPrefixes...)
	}
	return router, nil
}

func newEcho(cfg *config.Config, logger *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = api.ProblemErrorHandler

	e.Use(middleware.Recover())
	if cfg.Telemetry.Enable {
		e.Use(otelecho.Middleware(cfg.Telemetry.ServiceName))
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String()}
			if v.Error != nil {
				logger.Warn("request", append(args, "error", v.Error.Error())...)
				return nil
			}
			logger.Debug("request", args...)
			return nil
		},
	}))
	return e
}
