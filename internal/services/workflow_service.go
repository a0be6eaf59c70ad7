package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/pkg/models"
)

// WorkflowService manages workflow records and their graphs.
//
// Methods taking an ownerID treat a workflow owned by someone else as absent.
// An empty ownerID skips the check and is reserved for trusted callers.
type WorkflowService struct {
	repo   repository.Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(repo repository.Repository, logger *logging.Logger) *WorkflowService {
	return &WorkflowService{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LoadedGraph is a decoded workflow graph. Defaulted is set when the stored
// definition was unusable and the default graph was substituted.
type LoadedGraph struct {
	Workflow  *models.Workflow `json:"workflow"`
	Graph     graph.Graph      `json:"graph"`
	Defaulted bool             `json:"defaulted"`
}

// Create stores a new draft workflow with an empty graph.
func (s *WorkflowService) Create(ctx context.Context, ownerID, name, description string) (*models.Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if _, err := s.repo.GetUser(ctx, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, &PersistenceError{Op: "load owner", Err: err}
	}

	definition, err := graph.Encode(graph.EmptyGraph())
	if err != nil {
		return nil, &PersistenceError{Op: "encode graph", Err: err}
	}
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		Definition:  definition,
		Status:      models.WorkflowStatusDraft,
		LastSaved:   s.now(),
	}
	if err := s.repo.CreateWorkflow(ctx, workflow); err != nil {
		return nil, &PersistenceError{Op: "create workflow", Err: err}
	}

	s.logger.Info("workflow created", "workflow_id", workflow.ID, "owner_id", ownerID)
	return workflow, nil
}

// Get returns a workflow record.
func (s *WorkflowService) Get(ctx context.Context, id, ownerID string) (*models.Workflow, error) {
	workflow, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, &PersistenceError{Op: "load workflow", Err: err}
	}
	if ownerID != "" && workflow.OwnerID != ownerID {
		return nil, ErrWorkflowNotFound
	}
	return workflow, nil
}

// List returns the workflows of ownerID, most recently saved first.
func (s *WorkflowService) List(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	workflows, err := s.repo.ListWorkflows(ctx, ownerID)
	if err != nil {
		return nil, &PersistenceError{Op: "list workflows", Err: err}
	}
	return workflows, nil
}

// LoadGraph decodes the stored graph. An unusable definition yields the
// default graph with Defaulted set; nothing is written back.
func (s *WorkflowService) LoadGraph(ctx context.Context, id, ownerID string) (*LoadedGraph, error) {
	workflow, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	g, err := graph.Decode(workflow.Definition)
	if err != nil {
		s.logger.Debug("serving default graph", "workflow_id", id, "reason", err.Error())
	}
	return &LoadedGraph{Workflow: workflow, Graph: g, Defaulted: err != nil}, nil
}

// SaveGraph replaces the stored definition with g. Concurrent saves are
// last-write-wins.
func (s *WorkflowService) SaveGraph(ctx context.Context, id, ownerID string, g graph.Graph) (time.Time, error) {
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return time.Time{}, err
	}

	definition, err := graph.Encode(g)
	if err != nil {
		return time.Time{}, &PersistenceError{Op: "encode graph", Err: err}
	}
	lastSaved, err := s.repo.SaveDefinition(ctx, id, definition)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, ErrWorkflowNotFound
		}
		s.logger.Error("failed to save graph", "workflow_id", id, "error", err.Error())
		return time.Time{}, &PersistenceError{Op: "save definition", Err: err}
	}

	s.logger.Debug("graph saved", "workflow_id", id, "nodes", len(g.Nodes), "edges", len(g.Edges))
	return lastSaved, nil
}

// ListExecutions returns the run history of a workflow, newest first.
func (s *WorkflowService) ListExecutions(ctx context.Context, id, ownerID string) ([]*models.Execution, error) {
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return nil, err
	}
	executions, err := s.repo.ListExecutions(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "list executions", Err: err}
	}
	return executions, nil
}
