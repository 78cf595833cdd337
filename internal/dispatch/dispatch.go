// Package dispatch runs background work on a bounded pool with per-key
// fencing.
//
// A key names a unit of work that must not run twice at once in this
// process (a version sync, an archive job). Submitting a key that is still
// running fails fast with ErrBusy instead of queueing.
//
// Tasks are detached from the submitting request: they keep the request's
// values but not its cancellation or deadline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy is returned when work for the same key is already running.
	ErrBusy = errors.New("already running")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// DefaultWorkers bounds concurrent tasks when New is given n <= 0.
const DefaultWorkers = 4

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Dispatcher runs tasks in the background, at most Workers at a time.
type Dispatcher struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]time.Time
	closed  bool
	wg      sync.WaitGroup
}

// New creates a dispatcher running at most workers tasks concurrently.
func New(workers int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  logger,
		running: make(map[string]time.Time),
	}
}

// SyncKey fences a version sync of one entity kind.
func SyncKey(kind, projectID, version string) string {
	return fmt.Sprintf("sync/%s/%s/%s", kind, projectID, version)
}

// JobKey fences an archive job.
func JobKey(jobID string) string {
	return "job/" + jobID
}

// Go reserves key and starts task in the background. The key stays
// reserved while the task waits for a worker and while it runs.
func (d *Dispatcher) Go(ctx context.Context, key string, task Task) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if _, busy := d.running[key]; busy {
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", key, ErrBusy)
	}
	d.running[key] = time.Now()
	d.wg.Add(1)
	d.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	go d.run(taskCtx, key, task)
	return nil
}

func (d *Dispatcher) run(ctx context.Context, key string, task Task) {
	defer d.wg.Done()
	defer d.release(key)

	// ctx is never cancelled, so Acquire only returns once a worker frees.
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.logger.Error("dispatch: acquire worker", "key", key, "error", err)
		return
	}
	defer d.sem.Release(1)

	start := time.Now()
	err := d.safeRun(ctx, key, task)
	if err != nil {
		d.logger.Warn("dispatch: task failed", "key", key, "duration", time.Since(start), "error", err)
		return
	}
	d.logger.Info("dispatch: task done", "key", key, "duration", time.Since(start))
}

func (d *Dispatcher) safeRun(ctx context.Context, key string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch: task panicked", "key", key, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

func (d *Dispatcher) release(key string) {
	d.mu.Lock()
	delete(d.running, key)
	d.mu.Unlock()
}

// Running reports whether key is reserved.
func (d *Dispatcher) Running(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[key]
	return ok
}

// Wait blocks until every submitted task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting work and waits for running tasks until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: %d tasks still running: %w", d.inFlight(), ctx.Err())
	}
}

func (d *Dispatcher) inFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}
