package task

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/store"
)

// MockTaskStore is an in-memory store.TaskStore for tests. The Fn fields
// default to map-backed implementations and can be replaced to inject
// failures.
type MockTaskStore struct {
	mutex    sync.RWMutex
	records  map[uuid.UUID]*domain.Task
	SaveFn   func(ctx context.Context, task *domain.Task) error
	DeleteFn func(ctx context.Context, ids ...uuid.UUID) error
	ListFn   func(ctx context.Context) ([]*domain.Task, error)
}

// NewMockTaskStore creates a MockTaskStore holding the given records.
func NewMockTaskStore(seed ...*domain.Task) *MockTaskStore {
	s := &MockTaskStore{records: make(map[uuid.UUID]*domain.Task)}
	for _, t := range seed {
		s.records[t.ID] = t.Clone()
	}

	s.SaveFn = func(ctx context.Context, task *domain.Task) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.records[task.ID] = task.Clone()
		return nil
	}

	s.DeleteFn = func(ctx context.Context, ids ...uuid.UUID) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		for _, id := range ids {
			delete(s.records, id)
		}
		return nil
	}

	s.ListFn = func(ctx context.Context) ([]*domain.Task, error) {
		s.mutex.RLock()
		defer s.mutex.RUnlock()
		out := make([]*domain.Task, 0, len(s.records))
		for _, t := range s.records {
			out = append(out, t.Clone())
		}
		slices.SortFunc(out, func(a, b *domain.Task) int {
			return a.StartTime.Compare(b.StartTime)
		})
		return out, nil
	}

	return s
}

// Save implements store.TaskStore.
func (s *MockTaskStore) Save(ctx context.Context, task *domain.Task) error {
	return s.SaveFn(ctx, task)
}

// Delete implements store.TaskStore.
func (s *MockTaskStore) Delete(ctx context.Context, ids ...uuid.UUID) error {
	return s.DeleteFn(ctx, ids...)
}

// List implements store.TaskStore.
func (s *MockTaskStore) List(ctx context.Context) ([]*domain.Task, error) {
	return s.ListFn(ctx)
}

// Record returns a copy of the stored record for id.
func (s *MockTaskStore) Record(id uuid.UUID) (*domain.Task, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	t, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Len returns the number of stored records.
func (s *MockTaskStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}

var _ store.TaskStore = (*MockTaskStore)(nil)
