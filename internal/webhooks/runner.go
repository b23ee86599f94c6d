package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// Runner executes webhook processing after the delivery has been acked.
// Work runs detached from the request context so the ack does not cancel
// it, bounded to a fixed number of concurrent tasks, and drains on
// shutdown.
type Runner struct {
	sem         chan struct{}
	wg          sync.WaitGroup
	taskTimeout time.Duration
	logger      *logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewRunner creates a runner allowing size concurrent tasks. Each task
// gets its own deadline so a stuck provider call cannot pin a slot.
func NewRunner(size int, taskTimeout time.Duration, logger *logging.Logger) *Runner {
	if size <= 0 {
		size = 8
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		sem:         make(chan struct{}, size),
		taskTimeout: taskTimeout,
		logger:      logger,
	}
}

// Go schedules fn. The bound is applied inside the spawned goroutine so
// the caller can ack immediately even when all slots are busy. Returns
// false if the runner is already shut down.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context)) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn("task dropped, runner shut down", "task", name)
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	base := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		taskCtx, cancel := context.WithTimeout(base, r.taskTimeout)
		defer cancel()
		fn(taskCtx)
	}()
	return true
}

// Shutdown stops accepting tasks and waits for in-flight work, giving up
// when ctx expires.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all scheduled tasks have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
