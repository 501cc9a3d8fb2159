package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/api/shared"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/platform/logger"
	"github.com/phrazzld/rhqueue/internal/task"
)

// TaskScheduler is the part of the scheduler the HTTP API drives.
type TaskScheduler interface {
	AddTask(ctx context.Context, appID, appName string, params []domain.NodeInfo) (*domain.Task, error)
	AddBatchTasks(ctx context.Context, appID, appName string, paramsList [][]domain.NodeInfo) ([]*domain.Task, error)
	Get(id uuid.UUID) (*domain.Task, error)
	Snapshot() task.Snapshot
	CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	RemoveTask(id uuid.UUID) error
	RemoveTaskResult(id uuid.UUID, index int) (*domain.Task, error)
	ClearHistory() int
	Admit()
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	scheduler TaskScheduler
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(scheduler TaskScheduler) *TaskHandler {
	return &TaskHandler{scheduler: scheduler}
}

// ListTasks handles GET /api/tasks. Tasks are returned newest first together
// with the running count and the last event sequence number.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.scheduler.Snapshot())
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.scheduler.Get(id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// CreateTask handles POST /api/tasks. When a slot is free the remote
// submission finishes before the response, so the task comes back running
// or failed; otherwise it comes back queued.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	t, err := h.scheduler.AddTask(r.Context(), req.AppID, req.AppName, toNodeInfos(req.Params))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	log.Info("task created",
		"task_id", t.ID,
		"app_id", t.AppID,
		"status", t.Status,
		"client", shared.GetClient(r.Context()))
	shared.RespondWithJSON(w, r, http.StatusCreated, t)
}

// CreateBatch handles POST /api/tasks/batch. Tasks are added in the
// background, so the response is 202 Accepted.
func (h *TaskHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	paramsList := make([][]domain.NodeInfo, len(req.ParamsList))
	for i, params := range req.ParamsList {
		paramsList[i] = toNodeInfos(params)
	}

	tasks, err := h.scheduler.AddBatchTasks(r.Context(), req.AppID, req.AppName, paramsList)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create batch")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, BatchResponse{Tasks: tasks, BatchTotal: len(tasks)})
}

// CancelTask handles POST /api/tasks/{id}/cancel.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.scheduler.CancelTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel task")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// DeleteTask handles DELETE /api/tasks/{id}. A running task is dropped
// locally without asking the remote service to stop it.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := h.scheduler.RemoveTask(id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTaskResult handles DELETE /api/tasks/{id}/results/{index}. When the
// last output goes the task itself is deleted and 204 is returned.
func (h *TaskHandler) DeleteTaskResult(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	idx, err := getPathIndex(r, "index")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.scheduler.RemoveTaskResult(id, idx)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to delete task result")
		return
	}
	if t == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, t)
}

// ClearHistory handles DELETE /api/tasks. Only finished tasks are removed.
func (h *TaskHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, ClearHistoryResponse{Removed: h.scheduler.ClearHistory()})
}
