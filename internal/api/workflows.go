package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"agentcanvas/backend/internal/graph"
)

type createWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type graphResponse struct {
	WorkflowID string      `json:"workflow_id"`
	Graph      graph.Graph `json:"graph"`
	Defaulted  bool        `json:"defaulted"`
	LastSaved  time.Time   `json:"last_saved"`
}

type saveGraphResponse struct {
	WorkflowID string    `json:"workflow_id"`
	LastSaved  time.Time `json:"last_saved"`
}

// ListWorkflows returns the caller's workflows, most recently saved first
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	workflows, err := s.workflows.List(c.Request().Context(), user.ID)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// CreateWorkflow creates a draft workflow with an empty graph
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	workflow, err := s.workflows.Create(c.Request().Context(), user.ID, req.Name, req.Description)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, workflow)
}

// GetWorkflow returns a workflow record
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	workflow, err := s.workflows.Get(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, workflow)
}

// GetGraph returns the decoded graph. Defaulted is true when the stored
// definition was unusable and the starter graph is shown instead.
// (GET /api/v1/workflows/:id/graph)
func (s *Server) GetGraph(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	loaded, err := s.workflows.LoadGraph(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, graphResponse{
		WorkflowID: loaded.Workflow.ID,
		Graph:      loaded.Graph,
		Defaulted:  loaded.Defaulted,
		LastSaved:  loaded.Workflow.LastSaved,
	})
}

// PutGraph replaces the stored graph; the last save wins
// (PUT /api/v1/workflows/:id/graph)
func (s *Server) PutGraph(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var g graph.Graph
	if err := c.Bind(&g); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid graph: "+err.Error())
	}

	id := c.Param("id")
	lastSaved, err := s.workflows.SaveGraph(c.Request().Context(), id, user.ID, g)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, saveGraphResponse{WorkflowID: id, LastSaved: lastSaved})
}

// ListExecutions returns the run history of a workflow
// (GET /api/v1/workflows/:id/executions)
func (s *Server) ListExecutions(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	executions, err := s.workflows.ListExecutions(c.Request().Context(), c.Param("id"), user.ID)
	if err != nil {
		return s.toHTTPError(c, err)
	}
	return c.JSON(http.StatusOK, executions)
}
