package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// serialWorker runs submitted jobs one at a time in submission order on a
// single goroutine. The scheduler pushes storage writes and event delivery
// through it while holding its lock, so they happen in lock order without
// doing I/O under the lock.
type serialWorker struct {
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	jobs   []func(ctx context.Context)
	closed bool

	wake chan struct{}
	done chan struct{}
}

// newSerialWorker starts a worker. Each job gets its own context bounded by
// timeout.
func newSerialWorker(name string, timeout time.Duration, logger *slog.Logger) *serialWorker {
	w := &serialWorker{
		name:    name,
		timeout: timeout,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// push schedules fn. Jobs pushed after stop are dropped.
func (w *serialWorker) push(fn func(ctx context.Context)) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Warn("dropping job pushed after stop", "worker", w.name)
		return
	}
	w.jobs = append(w.jobs, fn)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop runs every pending job and waits for the worker to exit.
func (w *serialWorker) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	<-w.done
}

func (w *serialWorker) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		batch := w.jobs
		w.jobs = nil
		closed := w.closed
		w.mu.Unlock()

		for _, fn := range batch {
			w.exec(fn)
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-w.wake
		}
	}
}

func (w *serialWorker) exec(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "worker", w.name, "panic", r)
		}
	}()

	fn(ctx)
}
