package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/events"
	"github.com/phrazzld/rhqueue/internal/filesink"
	"github.com/phrazzld/rhqueue/internal/runninghub"
)

// startPollerLocked launches the goroutine that drives a running task to a
// terminal status. The watchdog deadline counts from the first time the
// task started running, so resumed tasks do not get a fresh hour.
func (s *Scheduler) startPollerLocked(t *domain.Task) {
	if s.stopped {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	p := &poller{cancel: cancel}
	s.pollers[t.ID] = p

	deadline := time.Now().Add(s.config.Watchdog)
	if t.RunningSince != nil {
		deadline = t.RunningSince.Add(s.config.Watchdog)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.poll(ctx, p, t.ID, t.RemoteJobID, deadline)
	}()
}

// poll checks the remote job every PollInterval until the task leaves the
// running state. Polls of one task never overlap.
func (s *Scheduler) poll(ctx context.Context, p *poller, id uuid.UUID, remoteJobID string, deadline time.Time) {
	logger := s.logger.With("task_id", id, "remote_job_id", remoteJobID)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	watchdog := time.NewTimer(time.Until(deadline))
	defer watchdog.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-watchdog.C:
			s.expire(p, id)
			return

		case <-ticker.C:
			polls++
			result, err := s.remote.Poll(ctx, remoteJobID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("status poll failed", "poll", polls, "error", err)
				s.metrics.PollError(ctx)
				continue
			}
			if done := s.handlePoll(ctx, p, id, result, polls); done {
				return
			}
		}
	}
}

// handlePoll applies one poll result and reports whether polling is over.
func (s *Scheduler) handlePoll(ctx context.Context, p *poller, id uuid.UUID, result *runninghub.PollResult, polls int) bool {
	switch result.Status {
	case runninghub.StatusSuccess:
		s.complete(ctx, p, id, result)
		return true

	case runninghub.StatusFailed:
		msg := result.FailureMessage()
		s.withOwned(p, id, func(t *domain.Task) {
			s.finishLocked(t, domain.TaskStatusFailed, msg)
			s.logger.Info("task failed remotely", "task_id", id, "error", msg)
		})
		return true

	case runninghub.StatusRunning:
		progress := runningProgress(polls)
		s.withOwned(p, id, func(t *domain.Task) {
			if progress > t.Progress {
				t.AdvanceProgress(progress)
				s.emitLocked(events.TypeTaskUpdated, t)
			}
		})
		return false

	case runninghub.StatusQueueSaturated:
		s.requeue(p, id)
		return true

	default:
		// Remote queue or an unknown code: wait for the next tick.
		return false
	}
}

// complete records the outputs of a successful job, saving them locally
// first when auto-save is on. Save failures are logged and leave the
// outputs without a local path.
func (s *Scheduler) complete(ctx context.Context, p *poller, id uuid.UUID, result *runninghub.PollResult) {
	outputs, err := runninghub.NormalizeOutputs(result.Data)
	if err != nil {
		s.withOwned(p, id, func(t *domain.Task) {
			s.finishLocked(t, domain.TaskStatusFailed, err.Error())
			s.logger.Error("task outputs not understood", "task_id", id, "error", err)
		})
		return
	}

	appName, ok := s.appName(p, id)
	if !ok {
		return
	}

	files := outputs.Files
	if s.sink != nil && s.settings.AutoSaveEnabled() {
		for i, f := range files {
			name := filesink.FileName(appName, id, i, f.FileURL)
			path, err := s.sink.Save(ctx, f.FileURL, name)
			if err != nil {
				s.logger.Warn("auto-save failed",
					"task_id", id,
					"output_index", i,
					"error", err)
				continue
			}
			files[i].LocalPath = path
		}
	}

	s.withOwned(p, id, func(t *domain.Task) {
		t.Result = files
		t.CostUnits = outputs.Cost
		s.finishLocked(t, domain.TaskStatusSuccess, "")
		s.logger.Info("task succeeded",
			"task_id", id,
			"output_count", len(files),
			"running_count", s.running)
	})
}

// requeue sends a running task back to the tail of the queue after the
// remote service reported that its queue is full. The remote job ID is
// kept so re-admission resumes polling instead of submitting again.
func (s *Scheduler) requeue(p *poller, id uuid.UUID) {
	s.withOwned(p, id, func(t *domain.Task) {
		s.detachLocked(t)
		t.Status = domain.TaskStatusQueued
		t.Progress = progressAdmitted
		s.queue.push(id)
		s.renumberLocked()
		s.persistLocked(t)
		s.metrics.TaskRequeued(s.ctx)
		s.logger.Info("task requeued by remote backpressure",
			"task_id", id,
			"queue_position", s.queue.position(id))
	})
}

// expire fails a task that outlived the watchdog.
func (s *Scheduler) expire(p *poller, id uuid.UUID) {
	s.withOwned(p, id, func(t *domain.Task) {
		s.finishLocked(t, domain.TaskStatusFailed, domain.ErrorMessageTimeout)
		s.logger.Warn("task timed out", "task_id", id, "watchdog", s.config.Watchdog)
	})
}

// withOwned runs fn under the lock if the task is still running under
// poller p, then admits queued work. Results that arrive after the task was
// cancelled, removed or handed to another poller are discarded.
func (s *Scheduler) withOwned(p *poller, id uuid.UUID, fn func(t *domain.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning || s.pollers[id] != p {
		return
	}
	fn(t)
	s.launchLocked(s.admitLocked(), uuid.Nil)
}

func (s *Scheduler) appName(p *poller, id uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != domain.TaskStatusRunning || s.pollers[id] != p {
		return "", false
	}
	return t.AppName, true
}
