package task

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/rhqueue/internal/domain"
	"github.com/phrazzld/rhqueue/internal/runninghub"
)

// ErrSchedulerStopped is returned when work is offered after Stop.
var ErrSchedulerStopped = errors.New("scheduler is stopped")

// RemoteClient is the subset of the RunningHub client the scheduler drives.
// Version: 1.0
type RemoteClient interface {
	// Submit starts a remote job and returns its ID.
	Submit(ctx context.Context, appID string, params []domain.NodeInfo) (string, error)

	// Poll fetches the current state of a remote job. Errors are transient.
	Poll(ctx context.Context, remoteJobID string) (*runninghub.PollResult, error)

	// Cancel asks the remote service to stop a job.
	Cancel(ctx context.Context, remoteJobID string) error
}

// FileSink stores task outputs locally.
type FileSink interface {
	Save(ctx context.Context, sourceURL, name string) (string, error)
}

// Settings exposes the runtime knobs consulted at every scheduling decision.
type Settings interface {
	MaxConcurrent() int
	AutoSaveEnabled() bool
}

// Config holds the timing configuration of the scheduler.
type Config struct {
	// PollInterval is the delay between status polls of one running task.
	PollInterval time.Duration

	// Watchdog bounds how long a task may stay running, measured from the
	// moment it first started running.
	Watchdog time.Duration

	// SubmitTimeout bounds one remote submission.
	SubmitTimeout time.Duration

	// CancelTimeout bounds the best-effort remote cancel.
	CancelTimeout time.Duration

	// BatchStagger is the pause between tasks added by AddBatchTasks.
	BatchStagger time.Duration

	// ReconcileOnStart persists submitted tasks and resumes polling them
	// after a restart instead of abandoning them.
	ReconcileOnStart bool
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:  3 * time.Second,
		Watchdog:      60 * time.Minute,
		SubmitTimeout: 30 * time.Second,
		CancelTimeout: 10 * time.Second,
		BatchStagger:  100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Watchdog <= 0 {
		c.Watchdog = d.Watchdog
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = d.CancelTimeout
	}
	if c.BatchStagger < 0 {
		c.BatchStagger = 0
	}
	return c
}

// Progress milestones reported while a task moves through the scheduler.
const (
	progressAdmitted  = 10
	progressSubmitted = 30
	progressPollStep  = 5
	progressPollCap   = 90
)

// runningProgress is the progress shown after the n-th poll that reported
// the job as still running.
func runningProgress(polls int) int {
	return min(progressPollCap, progressSubmitted+polls*progressPollStep)
}
