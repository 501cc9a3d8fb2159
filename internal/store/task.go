package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
)

// TaskStore defines persistence for task history. Records form a flat list
// keyed by task ID; the scheduler decides which tasks are worth keeping.
// Version: 1.0
type TaskStore interface {
	// Save inserts the task or replaces the stored record with the same ID.
	// Returns ErrInvalidEntity wrapped with the validation error if the task is invalid.
	Save(ctx context.Context, task *domain.Task) error

	// Delete removes the records with the given IDs.
	// IDs without a stored record are ignored.
	Delete(ctx context.Context, ids ...uuid.UUID) error

	// List returns every stored record, oldest start time first.
	List(ctx context.Context) ([]*domain.Task, error)
}
