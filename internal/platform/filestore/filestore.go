// Package filestore keeps task history in a single JSON file. It is the
// default history backend and needs no external services.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/platform/logger"
	"github.com/phrazzld/rhqueue/internal/store"
)

// fileFormat is the on-disk layout. New fields must stay optional so older
// files keep loading.
type fileFormat struct {
	Tasks []*domain.Task `json:"tasks"`
}

// TaskStore implements store.TaskStore on a JSON file. Every mutation
// rewrites the whole file through a temp file and a rename.
type TaskStore struct {
	mu    sync.Mutex
	path  string
	tasks map[uuid.UUID]*domain.Task
}

// Open reads the history file at path. A missing file yields an empty store.
func Open(path string) (*TaskStore, error) {
	if path == "" {
		return nil, errors.New("history path must not be empty")
	}

	s := &TaskStore{path: path, tasks: make(map[uuid.UUID]*domain.Task)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, store.NewStoreError("task", "open", "failed to read history file", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, store.NewStoreError("task", "open", "failed to decode history file", err)
	}
	for _, t := range f.Tasks {
		if t == nil || t.ID == uuid.Nil {
			continue
		}
		s.tasks[t.ID] = t
	}
	return s, nil
}

// Save inserts or replaces the task and writes the file.
func (s *TaskStore) Save(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.tasks[task.ID]
	s.tasks[task.ID] = task.Clone()

	if err := s.flushLocked(); err != nil {
		if existed {
			s.tasks[task.ID] = prev
		} else {
			delete(s.tasks, task.ID)
		}
		logger.FromContext(ctx).Error("failed to save task history",
			"task_id", task.ID,
			"path", s.path,
			"error", err)
		return store.NewStoreError("task", "save", "failed to write history file", err)
	}
	return nil
}

// Delete removes the given records. Missing IDs are ignored and do not
// trigger a write.
func (s *TaskStore) Delete(ctx context.Context, ids ...uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[uuid.UUID]*domain.Task)
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			removed[id] = t
			delete(s.tasks, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	if err := s.flushLocked(); err != nil {
		for id, t := range removed {
			s.tasks[id] = t
		}
		logger.FromContext(ctx).Error("failed to delete task history",
			"count", len(removed),
			"path", s.path,
			"error", err)
		return store.NewStoreError("task", "delete", "failed to write history file", err)
	}
	return nil
}

// List returns copies of every record, oldest start time first.
func (s *TaskStore) List(_ context.Context) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedLocked(true), nil
}

func (s *TaskStore) sortedLocked(clone bool) []*domain.Task {
	tasks := make([]*domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if clone {
			t = t.Clone()
		}
		tasks = append(tasks, t)
	}
	slices.SortFunc(tasks, func(a, b *domain.Task) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return tasks
}

func (s *TaskStore) flushLocked() error {
	data, err := json.MarshalIndent(fileFormat{Tasks: s.sortedLocked(false)}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

var _ store.TaskStore = (*TaskStore)(nil)
