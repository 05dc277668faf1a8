package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrExecutorClosed is returned by Submit after Shutdown.
var ErrExecutorClosed = errors.New("executor is shut down")

// Task is the body of one background export run.
type Task func(ctx context.Context)

// Executor runs one goroutine per submitted task, with at most `workers`
// tasks executing at once. Each task gets its own cancellable context.
type Executor struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	root     context.Context
	stopRoot context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[string]context.CancelFunc
	closed  bool
}

// NewExecutor creates an executor with the given concurrency limit.
func NewExecutor(workers int, logger *slog.Logger) *Executor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	root, stop := context.WithCancel(context.Background())
	return &Executor{
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   logger,
		root:     root,
		stopRoot: stop,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit starts task in the background under id and returns immediately.
// The task waits for a free slot before running. A task cancelled while
// queued is still invoked, with its context already done.
func (e *Executor) Submit(id string, task Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrExecutorClosed
	}
	if _, running := e.cancels[id]; running {
		return fmt.Errorf("task %s is already running", id)
	}

	ctx, cancel := context.WithCancel(e.root)
	e.cancels[id] = cancel
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer e.forget(id)
		defer cancel()

		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Run without a slot so the task can record that it never started.
			e.logger.Debug("task cancelled before start", "id", id, "error", err)
			task(ctx)
			return
		}
		defer e.sem.Release(1)

		task(ctx)
	}()
	return nil
}

// Cancel cancels the context of a running or queued task.
// It reports whether a task with that id was known.
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether a task with that id is queued or executing.
func (e *Executor) Running(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.cancels[id]
	return ok
}

// Shutdown stops accepting tasks, cancels all in flight and waits for them
// to return or for ctx to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stopRoot()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) forget(id string) {
	e.mu.Lock()
	delete(e.cancels, id)
	e.mu.Unlock()
}
