package models

import (
	"time"
)

// WorkflowStatus controls the external visibility of a workflow
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusPublished WorkflowStatus = "published"
)

// Workflow is the persisted record that owns one agent graph. Definition holds
// the canonical graph encoding and is treated as an opaque string by storage.
type Workflow struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Definition  string         `json:"definition"`
	Status      WorkflowStatus `json:"status"`
	LastSaved   time.Time      `json:"last_saved"`
	PublishID   *string        `json:"publish_id,omitempty"`
}
