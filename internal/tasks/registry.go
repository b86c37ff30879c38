// Package tasks tracks background work that outlives the request that
// started it, replacing untracked fire-and-forget goroutines with a
// supervised registry keyed by caller-chosen ids.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Task is one tracked unit of background work.
type Task struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	value any
	err   error
}

// Key returns the registry key of the task.
func (t *Task) Key() string { return t.key }

// Done is closed when the task has finished, successfully or not.
func (t *Task) Done() <-chan struct{} { return t.done }

// Value returns the task's result. Valid only after Done is closed.
func (t *Task) Value() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Err returns the task's terminal error, if any. Valid only after Done.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Registry runs and tracks background tasks. Task contexts derive from the
// registry's base context, never from a request context, so tasks survive
// the caller returning.
type Registry struct {
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry builds a registry whose tasks live until Shutdown.
func NewRegistry() *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		baseCtx: ctx,
		stop:    cancel,
		tasks:   make(map[string]*Task),
	}
}

// Go starts fn under key. When a task with the same key is already running,
// that task is returned with started=false and fn is not invoked.
func (r *Registry) Go(key string, fn func(ctx context.Context) (any, error)) (task *Task, started bool) {
	r.mu.Lock()
	if existing, ok := r.tasks[key]; ok {
		r.mu.Unlock()
		return existing, false
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	task = &Task{key: key, cancel: cancel, done: make(chan struct{})}
	r.tasks[key] = task
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				task.mu.Lock()
				task.err = fmt.Errorf("task panic: %v", rec)
				task.mu.Unlock()
			}
			r.mu.Lock()
			delete(r.tasks, key)
			r.mu.Unlock()
			cancel()
			close(task.done)
		}()
		value, err := fn(ctx)
		task.mu.Lock()
		task.value = value
		task.err = err
		task.mu.Unlock()
	}()
	return task, true
}

// Lookup returns the running task under key, if any.
func (r *Registry) Lookup(key string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[key]
	return task, ok
}

// CancelPrefix cancels every running task whose key starts with prefix and
// returns how many were signaled. Used when a conversation is deleted.
func (r *Registry) CancelPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, task := range r.tasks {
		if strings.HasPrefix(key, prefix) {
			task.cancel()
			n++
		}
	}
	return n
}

// Len reports the number of running tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown stops accepting completions gracefully: it waits for running
// tasks until ctx expires, then cancels whatever is left.
func (r *Registry) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		r.stop()
		return nil
	case <-ctx.Done():
		r.stop()
		return ctx.Err()
	}
}
