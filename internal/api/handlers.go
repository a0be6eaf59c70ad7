package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"agentcanvas/backend/internal/auth"
	"agentcanvas/backend/internal/services"
	"agentcanvas/backend/pkg/models"
)

const problemContentType = "application/problem+json"

// HandleHealth reports liveness and whether the store answers.
func (s *Server) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatus{
		Status:    "ok",
		Service:   "agentcanvas",
		Version:   s.version,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"store": "ok"},
	}
	code := http.StatusOK
	if err := s.repo.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.Checks["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// GetMe returns the synced caller.
// (GET /api/v1/me)
func (s *Server) GetMe(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func currentUser(c echo.Context) (*models.User, error) {
	user, ok := auth.UserFromContext(c.Request().Context())
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return user, nil
}

// toHTTPError maps service errors onto HTTP status codes. Unexpected errors
// are logged and reported without detail.
func (s *Server) toHTTPError(c echo.Context, err error) *echo.HTTPError {
	var providerErr *services.ProviderError
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrWorkflowNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Workflow not found")
	case errors.Is(err, services.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	case errors.As(err, &providerErr):
		return echo.NewHTTPError(http.StatusBadGateway, "model provider failed: "+providerErr.Err.Error())
	default:
		s.logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// problemFor renders an error as RFC 7807 Problem Details.
func problemFor(c echo.Context, err error) models.ProblemDetails {
	code := http.StatusInternalServerError
	detail := ""
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
	}
	problem := models.ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(code),
		Status:   code,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
		problem.TraceID = sc.TraceID().String()
	}
	return problem
}

// ProblemErrorHandler is an echo.HTTPErrorHandler that writes Problem Details.
func ProblemErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	problem := problemFor(c, err)
	c.Response().Header().Set(echo.HeaderContentType, problemContentType)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(problem.Status)
		return
	}
	_ = c.JSON(problem.Status, problem)
}
