package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"agentcanvas/backend/pkg/models"
)

// SQLiteStore is an embedded Repository for single-node deployments. Times are
// stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and applies
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	log.Debug().Str("path", dbPath).Msg("Initializing SQLite store")

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one writer at a time; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLiteStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO workflows ("+workflowColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		workflow.ID, workflow.OwnerID, workflow.Name, workflow.Description, workflow.Definition,
		string(workflow.Status), toMillis(workflow.LastSaved), workflow.PublishID)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		wf        models.Workflow
		status    string
		lastSaved int64
		publishID sql.NullString
	)
	if err := row.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &wf.Description, &wf.Definition, &status, &lastSaved, &publishID); err != nil {
		return nil, err
	}
	wf.Status = models.WorkflowStatus(status)
	wf.LastSaved = fromMillis(lastSaved)
	if publishID.Valid {
		wf.PublishID = &publishID.String
	}
	return &wf, nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := scanSQLiteWorkflow(s.db.QueryRowContext(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context, ownerID string) ([]*models.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE owner_id = ? ORDER BY last_saved DESC", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanSQLiteWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *SQLiteStore) SaveDefinition(ctx context.Context, id, definition string) (time.Time, error) {
	lastSaved := time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, "UPDATE workflows SET definition = ?, last_saved = ? WHERE id = ?", definition, toMillis(lastSaved), id)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to save definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to save definition: %w", err)
	}
	if n == 0 {
		return time.Time{}, ErrNotFound
	}
	return lastSaved, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func (s *SQLiteStore) CreateExecution(ctx context.Context, execution *models.Execution) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO executions ("+executionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		execution.ID, execution.WorkflowID, execution.UserID, execution.Input, execution.Output,
		string(execution.Status), toMillis(execution.StartedAt), nullMillis(execution.CompletedAt), execution.CreditsConsumed)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishExecution(ctx context.Context, execution *models.Execution) error {
	if err := validateFinish(execution); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE executions SET status = ?, output = ?, completed_at = ?, credits_consumed = ? WHERE id = ? AND status = 'running'",
		string(execution.Status), execution.Output, nullMillis(execution.CompletedAt), execution.CreditsConsumed, execution.ID)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM executions WHERE id = ?", execution.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}
	return ErrExecutionFinished
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE workflow_id = ? ORDER BY started_at DESC", workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		var (
			ex          models.Execution
			userID      sql.NullString
			output      sql.NullString
			status      string
			startedAt   int64
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&ex.ID, &ex.WorkflowID, &userID, &ex.Input, &output, &status, &startedAt, &completedAt, &ex.CreditsConsumed); err != nil {
			return nil, err
		}
		ex.Status = models.ExecutionStatus(status)
		ex.StartedAt = fromMillis(startedAt)
		if userID.Valid {
			ex.UserID = &userID.String
		}
		if output.Valid {
			ex.Output = &output.String
		}
		if completedAt.Valid {
			t := fromMillis(completedAt.Int64)
			ex.CompletedAt = &t
		}
		executions = append(executions, &ex)
	}
	return executions, rows.Err()
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		u    models.User
		tier string
	)
	err := s.db.QueryRowContext(ctx, "SELECT id, email, name, credits, tier FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Credits, &tier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Tier = models.Tier(tier)
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (id, email, name, credits, tier) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Email, user.Name, user.Credits, string(user.Tier))
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	log.Debug().Msg("Closing SQLite connection")
	return s.db.Close()
}
