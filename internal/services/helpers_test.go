package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/pkg/models"
)

const testOwner = "user-1"

func newStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateUser(context.Background(), &models.User{
		ID: testOwner, Email: "ada@example.com", Credits: models.InitialCredits, Tier: models.TierFree,
	}))
	return store
}

func agentGraph(model, prompt string) graph.Graph {
	return graph.Graph{
		Nodes: []graph.Node{
			{ID: "start-1", Kind: graph.KindStart, Position: graph.Position{X: 50, Y: 300}},
			{ID: "process-1", Kind: graph.KindProcess, Position: graph.Position{X: 300, Y: 280},
				Data: graph.NodeData{Label: "Agent", Model: model, SystemPrompt: prompt}},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "start-1", Target: "process-1"}},
	}
}

func putWorkflow(t *testing.T, store repository.WorkflowStore, id, definition string) {
	t.Helper()
	require.NoError(t, store.CreateWorkflow(context.Background(), &models.Workflow{
		ID:         id,
		OwnerID:    testOwner,
		Name:       "Support bot",
		Definition: definition,
		Status:     models.WorkflowStatusDraft,
		LastSaved:  time.Now().UTC(),
	}))
}

func mustEncode(t *testing.T, g graph.Graph) string {
	t.Helper()
	def, err := graph.Encode(g)
	require.NoError(t, err)
	return def
}

// MockExecutionStore is a mock implementation of repository.ExecutionStore.
type MockExecutionStore struct {
	mock.Mock
}

func (m *MockExecutionStore) CreateExecution(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)
	return args.Error(0)
}

func (m *MockExecutionStore) FinishExecution(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)
	return args.Error(0)
}

func (m *MockExecutionStore) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Execution), args.Error(1)
}
