package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/llm/llmtest"
	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/pkg/models"
)

func hello() []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: "hi"}}
}

type collector struct {
	fragments []string
}

func (c *collector) emit(fragment string) error {
	c.fragments = append(c.fragments, fragment)
	return nil
}

func newChat(store *repository.MemoryStore, provider *llmtest.Scripted, cost CostModel) *ChatService {
	logger := logging.Nop()
	return NewChatService(store, provider, NewExecutionRecorder(store, cost, logger), logger)
}

func TestChatService_StreamsFragmentsInOrder(t *testing.T) {
	store := newStore(t)
	putWorkflow(t, store, "wf-1", mustEncode(t, agentGraph("gpt-4o", "You are a pirate.")))
	provider := &llmtest.Scripted{Fragments: []string{"Hel", "", "lo"}}
	svc := newChat(store, provider, FlatCost(2))

	var out collector
	userID := testOwner
	result, err := svc.Run(context.Background(), ChatRequest{WorkflowID: "wf-1", Messages: hello(), UserID: &userID}, out.emit)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, out.fragments)
	assert.Equal(t, "Hello", result.Output)
	assert.Equal(t, 2, result.Fragments)
	assert.Equal(t, TurnCompleted, result.State)

	requests := provider.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "gpt-4o", requests[0].Model)
	assert.Equal(t, "You are a pirate.", requests[0].SystemPrompt)
	assert.Equal(t, hello(), requests[0].Messages)

	executions, err := store.ListExecutions(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	ex := executions[0]
	assert.Equal(t, result.ExecutionID, ex.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, ex.Status)
	require.NotNil(t, ex.Output)
	assert.Equal(t, "Hello", *ex.Output)
	assert.NotNil(t, ex.CompletedAt)
	assert.Equal(t, 2.0, ex.CreditsConsumed)
	require.NotNil(t, ex.UserID)
	assert.Equal(t, testOwner, *ex.UserID)
	assert.JSONEq(t, `[{"role":"user","content":"hi"}]`, ex.Input)
}

func TestChatService_DefaultsForUnusableDefinition(t *testing.T) {
	for name, def := range map[string]string{
		"empty":     "",
		"malformed": "{nodes:",
		"no nodes":  `{"nodes":[],"edges":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			putWorkflow(t, store, "wf-1", def)
			provider := &llmtest.Scripted{Fragments: []string{"ok"}}

			result, err := newChat(store, provider, nil).Run(context.Background(), ChatRequest{WorkflowID: "wf-1", Messages: hello()}, (&collector{}).emit)
			require.NoError(t, err)
			assert.Equal(t, graph.DefaultModel, result.Config.Model)
			assert.Equal(t, graph.DefaultSystemPrompt, provider.Requests()[0].SystemPrompt)

			wf, err := store.GetWorkflow(context.Background(), "wf-1")
			require.NoError(t, err)
			assert.Equal(t, def, wf.Definition, "definition must not be rewritten")
		})
	}
}

func TestChatService_WorkflowNotFound(t *testing.T) {
	store := newStore(t)
	provider := &llmtest.Scripted{Fragments: []string{"never"}}
	var out collector

	result, err := newChat(store, provider, nil).Run(context.Background(), ChatRequest{WorkflowID: "missing", Messages: hello()}, out.emit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, TurnFailed, result.State)
	assert.Empty(t, out.fragments)
	assert.Empty(t, provider.Requests())

	executions, err := store.ListExecutions(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestChatService_InvalidRequest(t *testing.T) {
	store := newStore(t)
	putWorkflow(t, store, "wf-1", "")
	svc := newChat(store, &llmtest.Scripted{}, nil)

	tests := []ChatRequest{
		{WorkflowID: "", Messages: hello()},
		{WorkflowID: "wf-1"},
		{WorkflowID: "wf-1", Messages: []models.Message{{Role: "system", Content: "x"}}},
	}
	for _, req := range tests {
		_, err := svc.Run(context.Background(), req, (&collector{}).emit)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	executions, _ := store.ListExecutions(context.Background(), "wf-1")
	assert.Empty(t, executions)
}

func TestChatService_ProviderFailureKeepsPartialOutput(t *testing.T) {
	store := newStore(t)
	putWorkflow(t, store, "wf-1", mustEncode(t, agentGraph("gemini-1.5-pro", "")))
	boom := errors.New("upstream reset")
	provider := &llmtest.Scripted{Fragments: []string{"Hel"}, Err: boom}
	var out collector

	result, err := newChat(store, provider, FlatCost(1)).Run(context.Background(), ChatRequest{WorkflowID: "wf-1", Messages: hello()}, out.emit)
	require.Error(t, err)

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, 1, providerErr.Emitted)
	assert.Equal(t, "gemini-1.5-pro", providerErr.Model)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"Hel"}, out.fragments)
	assert.Equal(t, "Hel", result.Output)
	assert.Equal(t, TurnFailed, result.State)

	executions, err := store.ListExecutions(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusFailed, executions[0].Status)
	require.NotNil(t, executions[0].Output)
	assert.Equal(t, "Hel", *executions[0].Output)
	assert.Zero(t, executions[0].CreditsConsumed)
}

func TestChatService_CancellationStopsStream(t *testing.T) {
	store := newStore(t)
	putWorkflow(t, store, "wf-1", "")
	provider := &llmtest.Scripted{Fragments: []string{"a", "b", "c"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out collector
	emit := func(fragment string) error {
		cancel()
		return out.emit(fragment)
	}

	result, err := newChat(store, provider, nil).Run(ctx, ChatRequest{WorkflowID: "wf-1", Messages: hello()}, emit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, out.fragments)
	assert.Equal(t, TurnFailed, result.State)

	executions, err := store.ListExecutions(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusFailed, executions[0].Status)
	assert.Equal(t, "a", *executions[0].Output)
}

func TestChatService_EmitErrorStopsPulling(t *testing.T) {
	store := newStore(t)
	putWorkflow(t, store, "wf-1", "")
	provider := &llmtest.Scripted{Fragments: []string{"a", "b", "c"}}
	gone := errors.New("client gone")

	result, err := newChat(store, provider, nil).Run(context.Background(), ChatRequest{WorkflowID: "wf-1", Messages: hello()},
		func(string) error { return gone })
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, 1, provider.Pulled())
	assert.Empty(t, result.Output)
	assert.Equal(t, TurnFailed, result.State)
}

func TestChatService_BookkeepingFailuresAreSwallowed(t *testing.T) {
	t.Run("create fails", func(t *testing.T) {
		store := newStore(t)
		putWorkflow(t, store, "wf-1", "")
		executions := new(MockExecutionStore)
		executions.On("CreateExecution", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		logger := logging.Nop()
		svc := NewChatService(store, &llmtest.Scripted{Fragments: []string{"fine"}}, NewExecutionRecorder(executions, nil, logger), logger)

		var out collector
		result, err := svc.Run(context.Background(), ChatRequest{WorkflowID: "wf-1", Messages: hello()}, out.emit)
		require.NoError(t, err)
		assert.Equal(t, []string{"fine"}, out.fragments)
		assert.Empty(t, result.ExecutionID)
		executions.AssertNotCalled(t, "FinishExecution", mock.Anything, mock.Anything)
	})

	t.Run("finish fails", func(t *testing.T) {
		store := newStore(t)
		putWorkflow(t, store, "wf-1", "")
		executions := new(MockExecutionStore)
		executions.On("CreateExecution", mock.Anything, mock.Anything).Return(nil)
		executions.On("FinishExecution", mock.Anything, mock.MatchedBy(func(ex *models.Execution) bool {
			return ex.Status == models.ExecutionStatusCompleted && ex.Output != nil && *ex.Output == "fine"
		})).Return(errors.New("connection reset"))

		logger := logging.Nop()
		svc := NewChatService(store, &llmtest.Scripted{Fragments: []string{"fine"}}, NewExecutionRecorder(executions, nil, logger), logger)

		result, err := svc.Run(context.Background(), ChatRequest{WorkflowID: "wf-1", Messages: hello()}, (&collector{}).emit)
		require.NoError(t, err)
		assert.Equal(t, TurnCompleted, result.State)
		assert.NotEmpty(t, result.ExecutionID)
		executions.AssertExpectations(t)
	})
}
