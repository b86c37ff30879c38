package tasks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryRunsAndReportsResult(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown(context.Background())

	task, started := r.Go("k1", func(ctx context.Context) (any, error) {
		return "done", nil
	})
	if !started {
		t.Fatalf("task should have started")
	}
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not finish")
	}
	if task.Err() != nil {
		t.Fatalf("unexpected error: %v", task.Err())
	}
	if v, _ := task.Value().(string); v != "done" {
		t.Fatalf("unexpected value: %v", task.Value())
	}
	if _, ok := r.Lookup("k1"); ok {
		t.Fatalf("finished task should be removed from the registry")
	}
}

func TestRegistryDeduplicatesKeys(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown(context.Background())

	release := make(chan struct{})
	first, started := r.Go("k", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	if !started {
		t.Fatalf("first task should start")
	}
	second, started := r.Go("k", func(ctx context.Context) (any, error) {
		t.Errorf("duplicate task must not run")
		return nil, nil
	})
	if started {
		t.Fatalf("duplicate key should not start a second task")
	}
	if second != first {
		t.Fatalf("duplicate key should return the running task")
	}
	close(release)
	<-first.Done()
}

func TestRegistryTaskContextOutlivesRequest(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown(context.Background())

	task, _ := r.Go("k", func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return "finished", nil
		}
	})

	<-task.Done()
	if task.Err() != nil {
		t.Fatalf("task context should stay live until shutdown or cancel: %v", task.Err())
	}
}

func TestRegistryCancelPrefix(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown(context.Background())

	blocked := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a, _ := r.Go("reply:conv-1:m1", blocked)
	b, _ := r.Go("reply:conv-1:m2", blocked)
	c, _ := r.Go("reply:conv-2:m3", func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	if n := r.CancelPrefix("reply:conv-1:"); n != 2 {
		t.Fatalf("expected 2 canceled tasks, got %d", n)
	}
	for _, task := range []*Task{a, b} {
		select {
		case <-task.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("canceled task did not finish")
		}
		if !errors.Is(task.Err(), context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", task.Err())
		}
	}
	<-c.Done()
	if c.Err() != nil {
		t.Fatalf("unrelated task should be untouched: %v", c.Err())
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	r := NewRegistry()
	defer r.Shutdown(context.Background())

	task, _ := r.Go("boom", func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("panicking task did not finish")
	}
	if task.Err() == nil {
		t.Fatalf("panic should surface as a task error")
	}
}

func TestRegistryShutdownWaitsThenCancels(t *testing.T) {
	r := NewRegistry()
	task, _ := r.Go("slow", func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); err == nil {
		t.Fatalf("expected deadline error from shutdown")
	}
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task should be canceled after shutdown")
	}
}
