package repository

import (
	"context"
	"errors"
	"time"

	"agentcanvas/backend/pkg/models"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("not found")
	// ErrExecutionFinished is returned when an execution already reached a
	// terminal status.
	ErrExecutionFinished = errors.New("execution already finished")
)

// WorkflowStore persists workflow records. The definition is stored as an
// opaque string and never parsed here.
type WorkflowStore interface {
	// CreateWorkflow inserts a new workflow.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	// GetWorkflow retrieves a workflow by its ID.
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	// ListWorkflows returns the workflows owned by ownerID, most recently saved first.
	ListWorkflows(ctx context.Context, ownerID string) ([]*models.Workflow, error)
	// SaveDefinition replaces the definition wholesale and stamps lastSaved.
	// Concurrent saves are last-write-wins.
	SaveDefinition(ctx context.Context, id, definition string) (time.Time, error)
}

// ExecutionStore persists chat turn audit records.
type ExecutionStore interface {
	// CreateExecution inserts a running execution.
	CreateExecution(ctx context.Context, execution *models.Execution) error
	// FinishExecution moves a running execution to a terminal status, setting
	// output, completedAt and credits. It succeeds at most once per execution.
	FinishExecution(ctx context.Context, execution *models.Execution) error
	// ListExecutions returns the executions of a workflow, newest first.
	ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error)
}

// UserStore persists synced users.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

// Repository is the full persistence gateway used by the service.
type Repository interface {
	WorkflowStore
	ExecutionStore
	UserStore
	Ping(ctx context.Context) error
	Close() error
}

func validateFinish(execution *models.Execution) error {
	if !execution.Status.Terminal() {
		return errors.New("finish requires a terminal status, got " + string(execution.Status))
	}
	if execution.CompletedAt == nil {
		return errors.New("finish requires completed_at")
	}
	return nil
}
