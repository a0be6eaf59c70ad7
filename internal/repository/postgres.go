package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentcanvas/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const workflowColumns = "id, owner_id, name, description, definition, status, last_saved, publish_id"

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	err := row.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &wf.Description, &wf.Definition, &wf.Status, &wf.LastSaved, &wf.PublishID)
	if err != nil {
		return nil, err
	}
	wf.LastSaved = wf.LastSaved.UTC()
	return &wf, nil
}

// CreateWorkflow inserts a new workflow.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO workflows ("+workflowColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		workflow.ID, workflow.OwnerID, workflow.Name, workflow.Description, workflow.Definition,
		workflow.Status, workflow.LastSaved, workflow.PublishID)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by its ID.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := scanWorkflow(s.db.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns the workflows owned by ownerID.
func (s *PostgresStore) ListWorkflows(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE owner_id = $1 ORDER BY last_saved DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// SaveDefinition replaces the definition and stamps last_saved.
func (s *PostgresStore) SaveDefinition(ctx context.Context, id, definition string) (time.Time, error) {
	lastSaved := time.Now().UTC().Truncate(time.Microsecond)
	tag, err := s.db.Exec(ctx, "UPDATE workflows SET definition = $2, last_saved = $3 WHERE id = $1", id, definition, lastSaved)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to save definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return time.Time{}, ErrNotFound
	}
	return lastSaved, nil
}

const executionColumns = "id, workflow_id, user_id, input, output, status, started_at, completed_at, credits_consumed"

// CreateExecution inserts a running execution.
func (s *PostgresStore) CreateExecution(ctx context.Context, execution *models.Execution) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO executions ("+executionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		execution.ID, execution.WorkflowID, execution.UserID, execution.Input, execution.Output,
		execution.Status, execution.StartedAt, execution.CompletedAt, execution.CreditsConsumed)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// FinishExecution patches a running execution into its terminal status.
func (s *PostgresStore) FinishExecution(ctx context.Context, execution *models.Execution) error {
	if err := validateFinish(execution); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE executions SET status = $2, output = $3, completed_at = $4, credits_consumed = $5 WHERE id = $1 AND status = 'running'",
		execution.ID, execution.Status, execution.Output, execution.CompletedAt, execution.CreditsConsumed)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)", execution.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrExecutionFinished
}

// ListExecutions returns the executions of a workflow, newest first.
func (s *PostgresStore) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	rows, err := s.db.Query(ctx, "SELECT "+executionColumns+" FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		var ex models.Execution
		err := rows.Scan(&ex.ID, &ex.WorkflowID, &ex.UserID, &ex.Input, &ex.Output, &ex.Status, &ex.StartedAt, &ex.CompletedAt, &ex.CreditsConsumed)
		if err != nil {
			return nil, err
		}
		executions = append(executions, &ex)
	}
	return executions, rows.Err()
}

// GetUser retrieves a user by identity subject.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, "SELECT id, email, name, credits, tier FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Credits, &u.Tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a user.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.Exec(ctx, "INSERT INTO users (id, email, name, credits, tier) VALUES ($1, $2, $3, $4, $5)",
		user.ID, user.Email, user.Name, user.Credits, user.Tier)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
