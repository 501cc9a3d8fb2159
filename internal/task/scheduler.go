package task

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/events"
	"github.com/phrazzld/rhqueue/internal/platform/telemetry"
	"github.com/phrazzld/rhqueue/internal/redact"
	"github.com/phrazzld/rhqueue/internal/store"
)

// storeTimeout bounds a single history write or event delivery.
const storeTimeout = 10 * time.Second

// Deps holds the collaborators of a Scheduler. Sink, Emitter and Metrics are
// optional.
type Deps struct {
	Remote   RemoteClient
	Store    store.TaskStore
	Settings Settings
	Sink     FileSink
	Emitter  events.EventEmitter
	Metrics  *telemetry.Metrics
}

// Snapshot is a consistent view of every tracked task.
type Snapshot struct {
	// Tasks are ordered newest first.
	Tasks        []*domain.Task `json:"tasks"`
	RunningCount int            `json:"running_count"`
	// Seq is the sequence number of the last event emitted before the
	// snapshot was taken.
	Seq uint64 `json:"seq"`
}

// poller identifies the polling goroutine that owns a running task.
type poller struct {
	cancel context.CancelFunc
}

// Scheduler owns the lifecycle of background tasks: admission, submission,
// polling, cancellation and history.
type Scheduler struct {
	remote   RemoteClient
	store    store.TaskStore
	settings Settings
	sink     FileSink
	emitter  events.EventEmitter
	metrics  *telemetry.Metrics
	config   Config
	logger   *slog.Logger

	mu         sync.Mutex
	tasks      map[uuid.UUID]*domain.Task
	order      []uuid.UUID
	queue      taskQueue
	running    int
	submitting int
	pollers    map[uuid.UUID]*poller
	seq        uint64
	stopped    bool

	history  *serialWorker
	notifier *serialWorker

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler. Call Start before adding tasks.
func NewScheduler(deps Deps, config Config, logger *slog.Logger) (*Scheduler, error) {
	if deps.Remote == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}

	logger = logger.With("component", "task_scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		remote:   deps.Remote,
		store:    deps.Store,
		settings: deps.Settings,
		sink:     deps.Sink,
		emitter:  deps.Emitter,
		metrics:  deps.Metrics,
		config:   config.withDefaults(),
		logger:   logger,
		tasks:    make(map[uuid.UUID]*domain.Task),
		pollers:  make(map[uuid.UUID]*poller),
		history:  newSerialWorker("history", storeTimeout, logger),
		notifier: newSerialWorker("events", storeTimeout, logger),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start rehydrates history from the store. Persisted terminal tasks are
// restored as they were and the running count starts at zero. Records of
// tasks that never finished are dropped, unless reconciliation is enabled
// and they carry a remote job ID, in which case they are queued again and
// resume polling that job.
func (s *Scheduler) Start(ctx context.Context) error {
	records, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load task history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	var stale []uuid.UUID
	restored, resumed := 0, 0
	for _, t := range records {
		if _, exists := s.tasks[t.ID]; exists {
			continue
		}

		switch {
		case t.Status.IsTerminal():
			restored++
		case s.config.ReconcileOnStart && t.RemoteJobID != "":
			t.Status = domain.TaskStatusQueued
			s.queue.push(t.ID)
			resumed++
		default:
			stale = append(stale, t.ID)
			continue
		}

		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	s.running = 0

	if len(stale) > 0 {
		s.deleteLocked(stale...)
	}

	s.logger.Info("task history loaded",
		"restored_count", restored,
		"resumed_count", resumed,
		"dropped_count", len(stale))

	s.renumberLocked()
	s.launchLocked(s.admitLocked(), uuid.Nil)
	return nil
}

// Stop cancels every poller and background goroutine, then flushes pending
// history writes and events. Tasks keep their last state.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()

		s.history.stop()
		s.notifier.stop()
		s.logger.Info("scheduler stopped")
	})
}

// AddTask creates a task and either starts it immediately or queues it.
// When the task is admitted the remote submission completes before AddTask
// returns, so the returned task is running or failed. Only input validation
// errors are returned; scheduling failures are recorded on the task.
func (s *Scheduler) AddTask(ctx context.Context, appID, appName string, params []domain.NodeInfo) (*domain.Task, error) {
	t, err := domain.NewTask(appID, appName, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return s.add(ctx, t)
}

// AddBatchTasks validates one task per parameter set and adds them one by
// one from a background goroutine, pausing between additions. The returned
// tasks are the pending originals; their progress is visible through
// events and Get.
func (s *Scheduler) AddBatchTasks(ctx context.Context, appID, appName string, paramsList [][]domain.NodeInfo) ([]*domain.Task, error) {
	if len(paramsList) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrValidation)
	}

	batch := make([]*domain.Task, 0, len(paramsList))
	for i, params := range paramsList {
		t, err := domain.NewTask(appID, appName, params)
		if err != nil {
			return nil, fmt.Errorf("%w: batch item %d: %w", domain.ErrValidation, i, err)
		}
		t.BatchIndex = i + 1
		t.BatchTotal = len(paramsList)
		batch = append(batch, t)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()

	pending := make([]*domain.Task, len(batch))
	for i, t := range batch {
		pending[i] = t.Clone()
	}

	reqCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		for i, t := range batch {
			if i > 0 && s.config.BatchStagger > 0 {
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(s.config.BatchStagger):
				}
			}
			if _, err := s.add(reqCtx, t); err != nil {
				s.logger.Warn("batch task not added",
					"task_id", t.ID,
					"batch_index", t.BatchIndex,
					"error", err)
				return
			}
		}
	}()

	s.logger.Info("batch accepted", "app_id", appID, "batch_total", len(batch))
	return pending, nil
}

func (s *Scheduler) add(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}

	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)

	logger := s.logger.With("task_id", t.ID, "app_id", t.AppID)

	if len(t.Params) == 0 {
		t.Error = domain.ErrorMessageMissingParams
		t.Finish(domain.TaskStatusFailed, time.Now())
		s.persistLocked(t)
		s.emitLocked(events.TypeTaskCreated, t)
		s.mu.Unlock()

		logger.Warn("task has no workflow parameters")
		return t.Clone(), nil
	}

	s.queue.push(t.ID)
	admitted := s.admitLocked()
	s.renumberLocked()
	s.emitLocked(events.TypeTaskCreated, t)

	s.launchLocked(admitted, t.ID)
	inline := slices.Contains(admitted, t.ID)
	s.mu.Unlock()

	if inline {
		s.submit(ctx, t.ID)
	} else {
		logger.Info("task queued", "queue_position", s.queuePosition(t.ID))
	}

	return s.Get(t.ID)
}

// Get returns a copy of one task.
func (s *Scheduler) Get(id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Snapshot returns copies of all tracked tasks, newest first.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*domain.Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if t, ok := s.tasks[s.order[i]]; ok {
			tasks = append(tasks, t.Clone())
		}
	}
	return Snapshot{Tasks: tasks, RunningCount: s.running, Seq: s.seq}
}

// RunningCount returns the number of tasks currently running remotely.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Admit starts queued tasks while free slots remain. Callers use it after
// raising the concurrency limit; lowering the limit only takes effect as
// running tasks finish.
func (s *Scheduler) Admit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launchLocked(s.admitLocked(), uuid.Nil)
}

// CancelTask asks the remote service to stop the task's job, ignoring any
// failure, and then fails the task with "cancelled". Cancelling a task that
// already finished changes nothing and returns it as is.
func (s *Scheduler) CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrTaskNotFound
	}
	if t.Status.IsTerminal() {
		c := t.Clone()
		s.mu.Unlock()
		return c, nil
	}
	remoteJobID := t.RemoteJobID
	s.mu.Unlock()

	if remoteJobID != "" {
		s.cancelRemote(ctx, id, remoteJobID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok = s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if !t.Status.IsTerminal() {
		s.finishLocked(t, domain.TaskStatusFailed, domain.ErrorMessageCancelled)
		s.logger.Info("task cancelled", "task_id", id)
		s.launchLocked(s.admitLocked(), uuid.Nil)
	}
	return t.Clone(), nil
}

// RemoveTask forgets a task entirely. A running task gives up its slot and
// stops being polled; its remote job is left alone.
func (s *Scheduler) RemoveTask(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}

	s.detachLocked(t)
	s.dropLocked(id)
	s.deleteLocked(id)
	s.emitRemovalLocked(events.TypeTaskRemoved, id)
	s.logger.Info("task removed", "task_id", id, "status", t.Status)

	s.launchLocked(s.admitLocked(), uuid.Nil)
	return nil
}

// RemoveTaskResult deletes one output of a finished task. When the last
// output goes the task itself is removed and nil is returned.
func (s *Scheduler) RemoveTaskResult(id uuid.UUID, index int) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	if index < 0 || index >= len(t.Result) {
		return nil, domain.ErrResultIndexOutOfRange
	}

	t.Result = slices.Delete(slices.Clone(t.Result), index, index+1)
	if len(t.Result) == 0 {
		s.dropLocked(id)
		s.deleteLocked(id)
		s.emitRemovalLocked(events.TypeTaskRemoved, id)
		return nil, nil
	}

	s.persistLocked(t)
	s.emitLocked(events.TypeTaskUpdated, t)
	return t.Clone(), nil
}

// ClearHistory removes every finished task and returns how many went.
// Pending, queued and running tasks are kept.
func (s *Scheduler) ClearHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for _, id := range s.order {
		if t, ok := s.tasks[id]; ok && t.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0
	}

	for _, id := range ids {
		s.dropLocked(id)
	}
	s.deleteLocked(ids...)
	s.emitRemovalLocked(events.TypeHistoryCleared, ids...)

	s.logger.Info("history cleared", "removed_count", len(ids))
	return len(ids)
}

// submit sends an admitted task to the remote service. The slot reserved
// at admission is released here whatever the outcome.
func (s *Scheduler) submit(parent context.Context, id uuid.UUID) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusPending {
		s.submitting--
		s.launchLocked(s.admitLocked(), uuid.Nil)
		s.mu.Unlock()
		return
	}
	appID := t.AppID
	params := t.Params
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.config.SubmitTimeout)
	stop := context.AfterFunc(s.ctx, cancel)
	remoteJobID, err := s.remote.Submit(ctx, appID, params)
	stop()
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting--

	logger := s.logger.With("task_id", id, "app_id", appID)
	t, ok = s.tasks[id]

	switch {
	case !ok || t.Status != domain.TaskStatusPending:
		// Removed or cancelled while the submission was in flight.
		if err == nil && ok {
			s.cancelRemoteAsync(id, remoteJobID)
		}
		logger.Info("task left pending during submission", "submitted", err == nil)

	case err != nil:
		msg := redact.Error(err)
		s.finishLocked(t, domain.TaskStatusFailed, msg)
		logger.Warn("task submission failed", "error", msg)

	default:
		now := time.Now().UTC()
		t.RemoteJobID = remoteJobID
		t.Status = domain.TaskStatusRunning
		t.RunningSince = &now
		t.AdvanceProgress(progressSubmitted)
		s.running++
		s.startPollerLocked(t)
		s.persistLocked(t)
		s.emitLocked(events.TypeTaskUpdated, t)
		s.metrics.TaskSubmitted(s.ctx, appID)
		logger.Info("task submitted",
			"remote_job_id", remoteJobID,
			"running_count", s.running)
	}

	s.launchLocked(s.admitLocked(), uuid.Nil)
}

// admitLocked moves queued tasks into free slots in FIFO order and returns
// the IDs that still need a remote submission.
func (s *Scheduler) admitLocked() []uuid.UUID {
	if s.stopped {
		return nil
	}

	limit := s.settings.MaxConcurrent()
	var admitted []uuid.UUID
	changed := false

	for s.running+s.submitting < limit {
		id, ok := s.queue.pop()
		if !ok {
			break
		}
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		changed = true
		t.QueuePosition = nil

		if t.RemoteJobID != "" {
			s.resumeLocked(t)
			continue
		}

		s.submitting++
		t.Status = domain.TaskStatusPending
		t.AdvanceProgress(progressAdmitted)
		admitted = append(admitted, id)
	}

	if changed {
		s.renumberLocked()
	}
	return admitted
}

// resumeLocked puts a task that already has a remote job back into the
// running set without submitting it again.
func (s *Scheduler) resumeLocked(t *domain.Task) {
	t.Status = domain.TaskStatusRunning
	if t.RunningSince == nil {
		now := time.Now().UTC()
		t.RunningSince = &now
	}
	t.AdvanceProgress(progressSubmitted)
	s.running++
	s.startPollerLocked(t)
	s.persistLocked(t)
	s.emitLocked(events.TypeTaskUpdated, t)
	s.logger.Info("task resumed",
		"task_id", t.ID,
		"remote_job_id", t.RemoteJobID,
		"running_count", s.running)
}

// launchLocked starts submissions for admitted tasks, skipping inline,
// which the caller submits itself.
func (s *Scheduler) launchLocked(admitted []uuid.UUID, inline uuid.UUID) {
	for _, id := range admitted {
		if id == inline {
			continue
		}
		s.wg.Add(1)
		go func(id uuid.UUID) {
			defer s.wg.Done()
			s.submit(s.ctx, id)
		}(id)
	}
}

// renumberLocked refreshes queue positions and status of every queued task.
func (s *Scheduler) renumberLocked() {
	s.queue.each(func(id uuid.UUID, pos int) {
		t, ok := s.tasks[id]
		if !ok {
			return
		}
		if t.Status == domain.TaskStatusQueued && t.QueuePosition != nil && *t.QueuePosition == pos {
			return
		}
		wasQueued := t.Status == domain.TaskStatusQueued
		p := pos
		t.QueuePosition = &p
		t.Status = domain.TaskStatusQueued
		if wasQueued {
			s.emitLocked(events.TypeTaskUpdated, t)
		}
	})
}

func (s *Scheduler) queuePosition(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.position(id)
}

// finishLocked moves t into a terminal status, releasing whatever it held.
func (s *Scheduler) finishLocked(t *domain.Task, status domain.TaskStatus, errMsg string) {
	s.detachLocked(t)
	if status == domain.TaskStatusFailed {
		t.Error = errMsg
	}
	now := time.Now()
	t.Finish(status, now)
	s.persistLocked(t)
	s.emitLocked(events.TypeTaskUpdated, t)

	elapsed := now.Sub(t.StartTime)
	if t.RunningSince != nil {
		elapsed = now.Sub(*t.RunningSince)
	}
	s.metrics.TaskFinished(s.ctx, string(status), elapsed)
}

// detachLocked releases the slot or queue entry a task holds. The running
// count drops exactly once per stay in the running state.
func (s *Scheduler) detachLocked(t *domain.Task) {
	switch t.Status {
	case domain.TaskStatusRunning:
		if p, ok := s.pollers[t.ID]; ok {
			p.cancel()
			delete(s.pollers, t.ID)
		}
		s.running--
	case domain.TaskStatusQueued:
		if s.queue.remove(t.ID) {
			s.renumberLocked()
		}
	}
}

// dropLocked removes a task from memory.
func (s *Scheduler) dropLocked(id uuid.UUID) {
	delete(s.tasks, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// persistLocked schedules a history write for t. Only finished tasks are
// kept, plus submitted ones when reconciliation is enabled.
func (s *Scheduler) persistLocked(t *domain.Task) {
	keep := t.Status.IsTerminal() ||
		(s.config.ReconcileOnStart && t.RemoteJobID != "")
	if !keep {
		return
	}

	record := t.Clone()
	s.history.push(func(ctx context.Context) {
		if err := s.store.Save(ctx, record); err != nil {
			s.logger.Error("failed to persist task",
				"task_id", record.ID,
				"status", record.Status,
				"error", err)
		}
	})
}

func (s *Scheduler) deleteLocked(ids ...uuid.UUID) {
	s.history.push(func(ctx context.Context) {
		if err := s.store.Delete(ctx, ids...); err != nil {
			s.logger.Error("failed to delete task history",
				"task_count", len(ids),
				"error", err)
		}
	})
}

func (s *Scheduler) emitLocked(eventType string, t *domain.Task) {
	s.seq++
	s.dispatch(events.NewTaskEvent(eventType, s.seq, t.Clone(), s.running))
}

func (s *Scheduler) emitRemovalLocked(eventType string, ids ...uuid.UUID) {
	s.seq++
	s.dispatch(events.NewTaskEvent(eventType, s.seq, nil, s.running, ids...))
}

func (s *Scheduler) dispatch(event *events.TaskEvent) {
	if s.emitter == nil {
		return
	}
	s.notifier.push(func(ctx context.Context) {
		if err := s.emitter.EmitEvent(ctx, event); err != nil {
			s.logger.Warn("event delivery failed",
				"event_type", event.Type,
				"event_seq", event.Seq,
				"error", err)
		}
	})
}

func (s *Scheduler) cancelRemote(ctx context.Context, id uuid.UUID, remoteJobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CancelTimeout)
	defer cancel()

	if err := s.remote.Cancel(ctx, remoteJobID); err != nil {
		s.logger.Warn("remote cancel failed",
			"task_id", id,
			"remote_job_id", remoteJobID,
			"error", redact.Error(err))
	}
}

func (s *Scheduler) cancelRemoteAsync(id uuid.UUID, remoteJobID string) {
	if s.stopped {
		s.logger.Warn("remote job left running after stop",
			"task_id", id,
			"remote_job_id", remoteJobID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cancelRemote(s.ctx, id, remoteJobID)
	}()
}
