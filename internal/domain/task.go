package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents where a background task is in its lifecycle.
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// IsTerminal reports whether no further scheduler transitions apply.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyAppID        = errors.New("app ID cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrInvalidProgress   = errors.New("progress must be between 0 and 100")
)

// Error messages recorded on tasks that the scheduler fails itself.
const (
	ErrorMessageCancelled     = "cancelled"
	ErrorMessageTimeout       = "timeout"
	ErrorMessageMissingParams = "missing workflow parameters"
)

// Output is one file produced by a successful remote job.
type Output struct {
	FileURL   string `json:"file_url"`
	FileType  string `json:"file_type,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// Task is a single submission of a remote workflow tracked by the scheduler.
// RemoteJobID stays empty until the remote service accepts the job.
type Task struct {
	ID            uuid.UUID  `json:"id"`
	RemoteJobID   string     `json:"remote_job_id,omitempty"`
	AppID         string     `json:"app_id"`
	AppName       string     `json:"app_name,omitempty"`
	Status        TaskStatus `json:"status"`
	Progress      int        `json:"progress"`
	Params        []NodeInfo `json:"params"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	RunningSince  *time.Time `json:"running_since,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Result        []Output   `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	CostUnits     *float64   `json:"cost_units,omitempty"`
	BatchIndex    int        `json:"batch_index,omitempty"`
	BatchTotal    int        `json:"batch_total,omitempty"`
}

// NewTask creates a pending task for the given app.
// Returns an error if the app ID is empty or any parameter is malformed.
func NewTask(appID, appName string, params []NodeInfo) (*Task, error) {
	task := &Task{
		ID:        uuid.New(),
		AppID:     appID,
		AppName:   appName,
		Status:    TaskStatusPending,
		Params:    params,
		StartTime: time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.AppID == "" {
		return ErrEmptyAppID
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrInvalidProgress
	}

	for i, p := range t.Params {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}

	return nil
}

// Finish moves the task into a terminal status and stamps EndTime.
// EndTime is only ever written once.
func (t *Task) Finish(status TaskStatus, at time.Time) {
	t.Status = status
	t.QueuePosition = nil
	if t.EndTime == nil {
		end := at.UTC()
		t.EndTime = &end
	}
	if status == TaskStatusSuccess {
		t.Progress = 100
	}
}

// AdvanceProgress raises progress to p but never lowers it.
func (t *Task) AdvanceProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > t.Progress {
		t.Progress = p
	}
}

// Clone returns a deep copy safe to hand to observers.
func (t *Task) Clone() *Task {
	c := *t
	if t.Params != nil {
		c.Params = append([]NodeInfo(nil), t.Params...)
	}
	if t.Result != nil {
		c.Result = append([]Output(nil), t.Result...)
	}
	if t.QueuePosition != nil {
		pos := *t.QueuePosition
		c.QueuePosition = &pos
	}
	if t.RunningSince != nil {
		rs := *t.RunningSince
		c.RunningSince = &rs
	}
	if t.EndTime != nil {
		end := *t.EndTime
		c.EndTime = &end
	}
	if t.CostUnits != nil {
		cost := *t.CostUnits
		c.CostUnits = &cost
	}
	return &c
}

func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusQueued, TaskStatusRunning,
		TaskStatusSuccess, TaskStatusFailed:
		return true
	default:
		return false
	}
}
