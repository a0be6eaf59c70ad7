// Package api contains the HTTP handlers for the agentcanvas service
package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/internal/services"
)

// Server holds the dependencies for the API server.
type Server struct {
	repo      repository.Repository
	workflows *services.WorkflowService
	chat      *services.ChatService
	logger    *logging.Logger
	version   string

	streamWriteTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithStreamWriteTimeout sets how long one chat stream write may take. Every
// fragment pushes the connection write deadline this far ahead. Zero leaves
// the http.Server deadline in charge.
func WithStreamWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.streamWriteTimeout = d
	}
}

// NewServer creates a new Server.
func NewServer(repo repository.Repository, workflows *services.WorkflowService, chat *services.ChatService, logger *logging.Logger, version string, opts ...Option) *Server {
	s := &Server{
		repo:      repo,
		workflows: workflows,
		chat:      chat,
		logger:    logger,
		version:   version,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Middleware attaches the caller to the request context.
type Middleware struct {
	// RequireAuth rejects anonymous requests.
	RequireAuth echo.MiddlewareFunc
	// Identify resolves the caller when credentials are present.
	Identify echo.MiddlewareFunc
}

// RegisterHandlers mounts the REST API under /api/v1 and the unauthenticated
// service endpoints at the root.
func RegisterHandlers(e *echo.Echo, s *Server, mw Middleware, oktaIssuer string) {
	e.GET("/health", s.HandleHealth)
	e.GET("/openapi.yaml", SpecHandler(oktaIssuer))

	v1 := e.Group("/api/v1")
	v1.GET("/me", s.GetMe, mw.RequireAuth)
	v1.GET("/workflows", s.ListWorkflows, mw.RequireAuth)
	v1.POST("/workflows", s.CreateWorkflow, mw.RequireAuth)
	v1.GET("/workflows/:id", s.GetWorkflow, mw.RequireAuth)
	v1.GET("/workflows/:id/graph", s.GetGraph, mw.RequireAuth)
	v1.PUT("/workflows/:id/graph", s.PutGraph, mw.RequireAuth)
	v1.GET("/workflows/:id/executions", s.ListExecutions, mw.RequireAuth)
	v1.POST("/chat", s.Chat, mw.Identify)
}
