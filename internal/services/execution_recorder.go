package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/pkg/models"
)

// CostModel prices a completed turn in credits.
type CostModel interface {
	Credits(cfg graph.EntryConfig, output string) float64
}

// FlatCost charges the same amount for every completed turn.
type FlatCost float64

func (c FlatCost) Credits(graph.EntryConfig, string) float64 { return float64(c) }

const defaultRecordTimeout = 5 * time.Second

// ExecutionRecorder writes the audit record of chat turns. Writes run on a
// context detached from the request so a disconnected client still gets its
// turn recorded. Write failures are logged and never reach the caller.
type ExecutionRecorder struct {
	store   repository.ExecutionStore
	cost    CostModel
	logger  *logging.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewExecutionRecorder creates a new ExecutionRecorder. A nil cost charges nothing.
func NewExecutionRecorder(store repository.ExecutionStore, cost CostModel, logger *logging.Logger) *ExecutionRecorder {
	if cost == nil {
		cost = FlatCost(0)
	}
	return &ExecutionRecorder{
		store:   store,
		cost:    cost,
		logger:  logger,
		timeout: defaultRecordTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *ExecutionRecorder) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

// Start creates a running execution and returns its id, or "" if the record
// could not be written.
func (r *ExecutionRecorder) Start(ctx context.Context, workflowID string, userID *string, messages []models.Message) string {
	input, err := json.Marshal(messages)
	if err != nil {
		r.logger.Error("failed to encode execution input", "workflow_id", workflowID, "error", err.Error())
		return ""
	}

	execution := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		UserID:     userID,
		Input:      string(input),
		Status:     models.ExecutionStatusRunning,
		StartedAt:  r.now(),
	}

	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.store.CreateExecution(ctx, execution); err != nil {
		r.logger.Error("failed to create execution", "workflow_id", workflowID, "error", err.Error())
		return ""
	}
	return execution.ID
}

// Complete marks the execution completed with the full output.
func (r *ExecutionRecorder) Complete(ctx context.Context, id string, cfg graph.EntryConfig, output string) {
	r.finish(ctx, &models.Execution{
		ID:              id,
		Status:          models.ExecutionStatusCompleted,
		Output:          &output,
		CreditsConsumed: r.cost.Credits(cfg, output),
	}, nil)
}

// Fail marks the execution failed, keeping any partial output.
func (r *ExecutionRecorder) Fail(ctx context.Context, id string, partial string, cause error) {
	execution := &models.Execution{ID: id, Status: models.ExecutionStatusFailed}
	if partial != "" {
		execution.Output = &partial
	}
	r.finish(ctx, execution, cause)
}

func (r *ExecutionRecorder) finish(ctx context.Context, execution *models.Execution, cause error) {
	if execution.ID == "" {
		return
	}
	completedAt := r.now()
	execution.CompletedAt = &completedAt

	ctx, cancel := r.detach(ctx)
	defer cancel()
	if err := r.store.FinishExecution(ctx, execution); err != nil {
		r.logger.Error("failed to finish execution",
			"execution_id", execution.ID,
			"status", string(execution.Status),
			"error", err.Error())
		return
	}
	if cause != nil {
		r.logger.Warn("execution failed", "execution_id", execution.ID, "error", cause.Error())
	}
}
