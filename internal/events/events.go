package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
)

// Event types
const (
	// TypeTaskCreated is emitted when a task is added to the scheduler.
	TypeTaskCreated = "task.created"

	// TypeTaskUpdated is emitted on every status, progress or result change.
	TypeTaskUpdated = "task.updated"

	// TypeTaskRemoved is emitted when a task is deleted.
	TypeTaskRemoved = "task.removed"

	// TypeHistoryCleared is emitted when terminal tasks are cleared in bulk.
	TypeHistoryCleared = "history.cleared"
)

// TaskEvent describes one state change of the scheduler.
type TaskEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// Seq increases by one for every event the scheduler emits
	Seq uint64 `json:"seq"`

	// Task is a copy of the task after the change; nil for removals
	Task *domain.Task `json:"task,omitempty"`

	// TaskIDs lists the affected tasks of removals and clears
	TaskIDs []uuid.UUID `json:"task_ids,omitempty"`

	// RunningCount is the number of running tasks after the change
	RunningCount int `json:"running_count"`

	CreatedAt time.Time `json:"created_at"`
}

// NewTaskEvent creates a TaskEvent with a fresh ID.
func NewTaskEvent(eventType string, seq uint64, task *domain.Task, runningCount int, ids ...uuid.UUID) *TaskEvent {
	return &TaskEvent{
		ID:           uuid.New(),
		Type:         eventType,
		Seq:          seq,
		Task:         task,
		TaskIDs:      ids,
		RunningCount: runningCount,
		CreatedAt:    time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that react to task events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *TaskEvent) error
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskEvent) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *TaskEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskEvent) error {
	return f(ctx, event)
}
