package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter fans each event out to its registered handlers in
// registration order, on the caller's goroutine. Handlers must not block.
type InMemoryEventEmitter struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{logger: logger.With("component", "event_emitter")}
}

// RegisterHandler subscribes h to every later event.
func (e *InMemoryEventEmitter) RegisterHandler(h EventHandler) {
	e.mu.Lock()
	// Copy on write so EmitEvent can range over a snapshot without holding the lock.
	next := make([]EventHandler, len(e.handlers), len(e.handlers)+1)
	copy(next, e.handlers)
	e.handlers = append(next, h)
	n := len(e.handlers)
	e.mu.Unlock()

	e.logger.Debug("event handler registered", "handlers", n)
}

// EmitEvent delivers event to every handler. A failing handler does not stop
// delivery to the rest; all failures are joined into the returned error.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	var errs []error
	for i, h := range handlers {
		err := h.HandleEvent(ctx, event)
		if err == nil {
			continue
		}
		e.logger.Warn("event handler failed",
			"error", err,
			"handler", i,
			"seq", event.Seq,
			"type", event.Type)
		errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
	}
	return errors.Join(errs...)
}
