package webhooks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunnerBoundsConcurrency(t *testing.T) {
	r := NewRunner(2, time.Second, nil)

	var running, peak atomic.Int32
	release := make(chan struct{})
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		r.Go(context.Background(), "task", func(ctx context.Context) {
			n := running.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			<-release
			running.Add(-1)
		})
	}
	close(release)
	r.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestRunnerSurvivesRequestCancellation(t *testing.T) {
	r := NewRunner(1, time.Second, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r.Go(reqCtx, "task", func(ctx context.Context) {
		// The ack cancels the request context before processing runs.
		done <- ctx.Err()
	})
	cancel()
	r.Wait()

	if err := <-done; err != nil {
		t.Errorf("task context canceled with request: %v", err)
	}
}

func TestRunnerShutdownDrains(t *testing.T) {
	r := NewRunner(4, time.Second, nil)

	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		r.Go(context.Background(), "task", func(ctx context.Context) {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := finished.Load(); got != 3 {
		t.Errorf("finished = %d, want 3", got)
	}
	if r.Go(context.Background(), "late", func(context.Context) {}) {
		t.Error("Go accepted work after shutdown")
	}
}
