package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of an Execution
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// Execution is the audit record of one chat turn against a workflow
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	UserID          *string         `json:"user_id,omitempty"` // nil for anonymous test runs
	Input           string          `json:"input"`             // JSON encoded message history
	Output          *string         `json:"output,omitempty"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreditsConsumed float64         `json:"credits_consumed"`
}
