package services

import (
	"errors"
	"fmt"

	"agentcanvas/backend/internal/repository"
)

var (
	// ErrWorkflowNotFound is returned when a workflow id does not resolve, or
	// resolves to a workflow the caller does not own.
	ErrWorkflowNotFound = fmt.Errorf("workflow %w", repository.ErrNotFound)
	// ErrUserNotFound is returned when an owner has never been synced.
	ErrUserNotFound = fmt.Errorf("user %w", repository.ErrNotFound)
	// ErrInvalidRequest is returned for malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ProviderError is a terminal failure of the model stream. Emitted is the
// number of fragments delivered to the caller before the failure.
type ProviderError struct {
	Model   string
	Emitted int
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider stream for model %s failed after %d fragments: %v", e.Model, e.Emitted, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError is a storage failure surfaced to the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
