package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/api/shared"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/runninghub"
	"github.com/phrazzld/rhqueue/internal/settings"
	"github.com/phrazzld/rhqueue/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler records calls and returns canned results.
type fakeScheduler struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*domain.Task
	added    [][]domain.NodeInfo
	batches  [][][]domain.NodeInfo
	admitted int
	addErr   error
	cleared  int
}

func newFakeScheduler(seed ...*domain.Task) *fakeScheduler {
	f := &fakeScheduler{tasks: make(map[uuid.UUID]*domain.Task)}
	for _, t := range seed {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeScheduler) AddTask(_ context.Context, appID, appName string, params []domain.NodeInfo) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	t, err := domain.NewTask(appID, appName, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	t.Status = domain.TaskStatusRunning
	f.tasks[t.ID] = t
	f.added = append(f.added, params)
	return t.Clone(), nil
}

func (f *fakeScheduler) AddBatchTasks(_ context.Context, appID, appName string, paramsList [][]domain.NodeInfo) ([]*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, paramsList)
	out := make([]*domain.Task, len(paramsList))
	for i, p := range paramsList {
		t, err := domain.NewTask(appID, appName, p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		t.BatchIndex, t.BatchTotal = i+1, len(paramsList)
		out[i] = t
	}
	return out, nil
}

func (f *fakeScheduler) Get(id uuid.UUID) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (f *fakeScheduler) Snapshot() task.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := task.Snapshot{Seq: 42}
	for _, t := range f.tasks {
		snap.Tasks = append(snap.Tasks, t.Clone())
		if t.Status == domain.TaskStatusRunning {
			snap.RunningCount++
		}
	}
	return snap
}

func (f *fakeScheduler) CancelTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if !t.Status.IsTerminal() {
		t.Error = domain.ErrorMessageCancelled
		t.Finish(domain.TaskStatusFailed, time.Now())
	}
	return t.Clone(), nil
}

func (f *fakeScheduler) RemoveTask(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeScheduler) RemoveTaskResult(id uuid.UUID, index int) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if index >= len(t.Result) {
		return nil, domain.ErrResultIndexOutOfRange
	}
	t.Result = append(t.Result[:index:index], t.Result[index+1:]...)
	if len(t.Result) == 0 {
		delete(f.tasks, id)
		return nil, nil
	}
	return t.Clone(), nil
}

func (f *fakeScheduler) ClearHistory() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	n := 0
	for id, t := range f.tasks {
		if t.Status.IsTerminal() {
			delete(f.tasks, id)
			n++
		}
	}
	return n
}

func (f *fakeScheduler) Admit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admitted++
}

type fakeSettings struct {
	current   settings.Settings
	updateErr error
}

func (f *fakeSettings) Get() settings.Settings { return f.current }

func (f *fakeSettings) Update(u settings.Update) (settings.Settings, error) {
	if f.updateErr != nil {
		return settings.Settings{}, f.updateErr
	}
	if u.MaxConcurrent != nil {
		f.current.MaxConcurrent = *u.MaxConcurrent
	}
	if u.AutoSave != nil {
		f.current.AutoSave = *u.AutoSave
	}
	if u.OutputDir != nil {
		f.current.OutputDir = *u.OutputDir
	}
	if u.APIKey != nil {
		f.current.APIKey = *u.APIKey
	}
	return f.current, nil
}

type accountFunc func(ctx context.Context) (*runninghub.AccountStatus, error)

func (f accountFunc) AccountStatus(ctx context.Context) (*runninghub.AccountStatus, error) {
	return f(ctx)
}

func newTestRouter(sched *fakeScheduler, st *fakeSettings, account AccountReader) http.Handler {
	tasks := NewTaskHandler(sched)
	settingsHandler := NewSettingsHandler(st, sched)
	accountHandler := NewAccountHandler(account)
	health := NewHealthHandler(sched)

	r := chi.NewRouter()
	r.Get("/health", health.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", tasks.ListTasks)
		r.Post("/tasks", tasks.CreateTask)
		r.Delete("/tasks", tasks.ClearHistory)
		r.Post("/tasks/batch", tasks.CreateBatch)
		r.Get("/tasks/{id}", tasks.GetTask)
		r.Delete("/tasks/{id}", tasks.DeleteTask)
		r.Post("/tasks/{id}/cancel", tasks.CancelTask)
		r.Delete("/tasks/{id}/results/{index}", tasks.DeleteTaskResult)
		r.Get("/settings", settingsHandler.GetSettings)
		r.Put("/settings", settingsHandler.UpdateSettings)
		r.Get("/account", accountHandler.GetAccount)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func finished(t *testing.T, outputs ...string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask("app", "App", nil)
	require.NoError(t, err)
	for _, url := range outputs {
		task.Result = append(task.Result, domain.Output{FileURL: url})
	}
	task.Finish(domain.TaskStatusSuccess, time.Now())
	return task
}

func noAccount(context.Context) (*runninghub.AccountStatus, error) {
	return nil, errors.New("not used")
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	h := newTestRouter(sched, &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodPost, "/api/tasks", `{
		"app_id": "1877265245566922753",
		"app_name": "Upscale",
		"params": [{"node_id": "10", "field_name": "image", "field_value": "api/x.png", "field_type": "IMAGE"}]
	}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got domain.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "1877265245566922753", got.AppID)
	assert.Equal(t, domain.TaskStatusRunning, got.Status)
	require.Len(t, sched.added, 1)
	assert.Equal(t, domain.FieldTypeImage, sched.added[0][0].FieldType)
}

func TestCreateTaskAcceptsEmptyParams(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	h := newTestRouter(sched, &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodPost, "/api/tasks", `{"app_id": "a", "params": []}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "malformed json", body: `{"app_id":`, wantMsg: "Invalid request format"},
		{name: "unknown field", body: `{"app_id":"a","colour":"red"}`, wantMsg: "Invalid request format"},
		{name: "missing app id", body: `{"params":[]}`, wantMsg: "Invalid AppID: required field"},
		{
			name:    "missing node id",
			body:    `{"app_id":"a","params":[{"field_name":"x"}]}`,
			wantMsg: "Invalid Params[0].NodeID: required field",
		},
		{
			name:    "bad field type",
			body:    `{"app_id":"a","params":[{"node_id":"1","field_name":"x","field_type":"BLOB"}]}`,
			wantMsg: "Invalid Params[0].FieldType: invalid value",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sched := newFakeScheduler()
			h := newTestRouter(sched, &fakeSettings{}, accountFunc(noAccount))

			w := do(t, h, http.MethodPost, "/api/tasks", tc.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.wantMsg, decodeError(t, w))
			assert.Empty(t, sched.added)
		})
	}
}

func TestCreateTaskSchedulerStopped(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	sched.addErr = task.ErrSchedulerStopped
	h := newTestRouter(sched, &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodPost, "/api/tasks", `{"app_id":"a","params":[]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Scheduler is shutting down", decodeError(t, w))
}

func TestCreateBatch(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	h := newTestRouter(sched, &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodPost, "/api/tasks/batch", `{
		"app_id": "a",
		"params_list": [
			[{"node_id": "1", "field_name": "prompt", "field_value": "cat"}],
			[{"node_id": "1", "field_name": "prompt", "field_value": "dog"}]
		]
	}`)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.BatchTotal)
	assert.Equal(t, 2, resp.Tasks[1].BatchIndex)
	require.Len(t, sched.batches, 1)
	assert.Equal(t, "dog", sched.batches[0][1][0].FieldValue)

	w = do(t, h, http.MethodPost, "/api/tasks/batch", `{"app_id":"a","params_list":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndListTasks(t *testing.T) {
	t.Parallel()

	done := finished(t, "https://cdn/a.png")
	h := newTestRouter(newFakeScheduler(done), &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodGet, "/api/tasks/"+done.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, done.ID, got.ID)

	w = do(t, h, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap task.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Len(t, snap.Tasks, 1)
	assert.Equal(t, uint64(42), snap.Seq)

	w = do(t, h, http.MethodGet, "/api/tasks/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Task not found", decodeError(t, w))

	w = do(t, h, http.MethodGet, "/api/tasks/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid ID", decodeError(t, w))
}

func TestCancelTask(t *testing.T) {
	t.Parallel()

	running, err := domain.NewTask("app", "", nil)
	require.NoError(t, err)
	running.Status = domain.TaskStatusRunning
	h := newTestRouter(newFakeScheduler(running), &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodPost, "/api/tasks/"+running.ID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, domain.ErrorMessageCancelled, got.Error)
}

func TestDeleteTaskAndResults(t *testing.T) {
	t.Parallel()

	two := finished(t, "https://cdn/a.png", "https://cdn/b.png")
	other := finished(t, "https://cdn/c.png")
	sched := newFakeScheduler(two, other)
	h := newTestRouter(sched, &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodDelete, "/api/tasks/"+two.ID.String()+"/results/0", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Result, 1)
	assert.Equal(t, "https://cdn/b.png", got.Result[0].FileURL)

	w = do(t, h, http.MethodDelete, "/api/tasks/"+two.ID.String()+"/results/5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Result index out of range", decodeError(t, w))

	w = do(t, h, http.MethodDelete, "/api/tasks/"+two.ID.String()+"/results/-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodDelete, "/api/tasks/"+two.ID.String()+"/results/0", "")
	assert.Equal(t, http.StatusNoContent, w.Code, "removing the last output removes the task")

	w = do(t, h, http.MethodDelete, "/api/tasks/"+other.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodDelete, "/api/tasks/"+other.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClearHistory(t *testing.T) {
	t.Parallel()

	active, err := domain.NewTask("app", "", nil)
	require.NoError(t, err)
	sched := newFakeScheduler(finished(t, "https://cdn/a.png"), active)
	h := newTestRouter(sched, &fakeSettings{}, accountFunc(noAccount))

	w := do(t, h, http.MethodDelete, "/api/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":1}`, w.Body.String())
	assert.Len(t, sched.tasks, 1)
}

func TestSettings(t *testing.T) {
	t.Parallel()

	sched := newFakeScheduler()
	st := &fakeSettings{current: settings.Settings{
		MaxConcurrent: 3,
		AutoSave:      true,
		OutputDir:     "/out",
		APIKey:        "0123456789abcdef",
	}}
	h := newTestRouter(sched, st, accountFunc(noAccount))

	w := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "0123456789abcdef")
	var got SettingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.True(t, got.APIKeySet)
	assert.Equal(t, "…cdef", got.APIKeyHint)

	w = do(t, h, http.MethodPut, "/api/settings", `{"max_concurrent": 5, "auto_save": false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 5, got.MaxConcurrent)
	assert.False(t, got.AutoSave)
	assert.Equal(t, "/out", got.OutputDir)
	assert.Equal(t, 1, sched.admitted)

	w = do(t, h, http.MethodPut, "/api/settings", `{"max_concurrent": 50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid MaxConcurrent: out of range", decodeError(t, w))
}

func TestSettingsSaveFailure(t *testing.T) {
	t.Parallel()

	st := &fakeSettings{updateErr: errors.New("read-only file system")}
	h := newTestRouter(newFakeScheduler(), st, accountFunc(noAccount))

	w := do(t, h, http.MethodPut, "/api/settings", `{"auto_save": true}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to save settings", decodeError(t, w))
}

func TestGetAccount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fn         accountFunc
		wantStatus int
	}{
		{
			name: "ok",
			fn: func(context.Context) (*runninghub.AccountStatus, error) {
				return &runninghub.AccountStatus{RemainCoins: "120", CurrentTaskCounts: "1"}, nil
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "no key",
			fn: func(context.Context) (*runninghub.AccountStatus, error) {
				return nil, runninghub.ErrMissingAPIKey
			},
			wantStatus: http.StatusPreconditionFailed,
		},
		{
			name: "unexpected",
			fn: func(context.Context) (*runninghub.AccountStatus, error) {
				return nil, errors.New("boom")
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newTestRouter(newFakeScheduler(), &fakeSettings{}, tc.fn)
			w := do(t, h, http.MethodGet, "/api/account", "")
			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newTestRouter(newFakeScheduler(finished(t, "x")), &fakeSettings{}, accountFunc(noAccount))
	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","running_count":0,"tasks":1}`, w.Body.String())
}
