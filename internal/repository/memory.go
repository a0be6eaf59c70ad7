package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agentcanvas/backend/pkg/models"
)

// MemoryStore is an in-process Repository used for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]models.Workflow
	executions map[string]models.Execution
	users      map[string]models.User
	now        func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]models.Workflow),
		executions: make(map[string]models.Execution),
		users:      make(map[string]models.User),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[workflow.ID]; ok {
		return fmt.Errorf("workflow %s already exists", workflow.ID)
	}
	s.workflows[workflow.ID] = *workflow
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &wf, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Workflow
	for _, wf := range s.workflows {
		if wf.OwnerID == ownerID {
			out = append(out, &wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSaved.After(out[j].LastSaved) })
	return out, nil
}

func (s *MemoryStore) SaveDefinition(ctx context.Context, id, definition string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	wf.Definition = definition
	wf.LastSaved = s.now()
	s.workflows[id] = wf
	return wf.LastSaved, nil
}

func (s *MemoryStore) CreateExecution(ctx context.Context, execution *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[execution.WorkflowID]; !ok {
		return fmt.Errorf("workflow %s: %w", execution.WorkflowID, ErrNotFound)
	}
	s.executions[execution.ID] = *execution
	return nil
}

func (s *MemoryStore) FinishExecution(ctx context.Context, execution *models.Execution) error {
	if err := validateFinish(execution); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.executions[execution.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status.Terminal() {
		return ErrExecutionFinished
	}
	cur.Status = execution.Status
	cur.Output = execution.Output
	cur.CompletedAt = execution.CompletedAt
	cur.CreditsConsumed = execution.CreditsConsumed
	s.executions[execution.ID] = cur
	return nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Execution
	for _, ex := range s.executions {
		if ex.WorkflowID == workflowID {
			out = append(out, &ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
