package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func collectResults(t *testing.T, p *Pool, n int) []*Result {
	t.Helper()
	results := make([]*Result, 0, n)
	timeout := time.After(5 * time.Second)
	for len(results) < n {
		select {
		case result := <-p.Results():
			results = append(results, result)
		case <-timeout:
			t.Fatalf("timed out waiting for results, got %d of %d", len(results), n)
		}
	}
	return results
}

func TestPoolProcessesTasks(t *testing.T) {
	var processed int64
	cfg := Config{Workers: 4, QueueSize: 16, RetryDelay: time.Millisecond, ShutdownTimeout: time.Second}

	p, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt64(&processed, 1)
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start()

	for i := 0; i < 10; i++ {
		if err := p.Submit(&Task{ID: fmt.Sprintf("task-%d", i)}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	results := collectResults(t, p, 10)
	for _, result := range results {
		if !result.Success {
			t.Errorf("task %s failed: %v", result.TaskID, result.Error)
		}
	}
	if got := atomic.LoadInt64(&processed); got != 10 {
		t.Errorf("expected 10 processed, got %d", got)
	}

	stats := p.Stats()
	if stats.Submitted != 10 || stats.Completed != 10 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	p.Stop()
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	var attempts int64
	cfg := Config{Workers: 1, QueueSize: 4, MaxRetries: 3, RetryDelay: time.Millisecond, ShutdownTimeout: time.Second}

	p, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return &Result{TaskID: task.ID, Error: errors.New("transient")}
		}
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start()

	if err := p.Submit(&Task{ID: "flaky"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	results := collectResults(t, p, 1)
	if !results[0].Success {
		t.Fatalf("expected eventual success, got %v", results[0].Error)
	}
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if p.Stats().Retried != 2 {
		t.Errorf("expected 2 retries, got %d", p.Stats().Retried)
	}

	p.Stop()
}

func TestPoolExhaustsRetries(t *testing.T) {
	cfg := Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond, ShutdownTimeout: time.Second}

	p, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Error: errors.New("permanent")}
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start()

	if err := p.Submit(&Task{ID: "doomed"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	results := collectResults(t, p, 1)
	if results[0].Success {
		t.Fatal("expected failure after retry budget")
	}
	if results[0].Error == nil {
		t.Fatal("expected a wrapped error")
	}
	if p.Stats().Failed != 1 {
		t.Errorf("expected 1 failed, got %d", p.Stats().Failed)
	}

	p.Stop()
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	cfg := Config{Workers: 1, QueueSize: 1, RetryDelay: time.Millisecond, ShutdownTimeout: time.Second}

	p, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		<-block
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start()

	// First task occupies the worker, second fills the queue; eventually
	// a submit bounces.
	var sawFull bool
	for i := 0; i < 4; i++ {
		if err := p.Submit(&Task{ID: fmt.Sprintf("task-%d", i)}); err != nil {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Error("expected a queue-full rejection")
	}

	close(block)
	p.Stop()
}

func TestPoolRejectsAfterStop(t *testing.T) {
	cfg := Config{Workers: 1, QueueSize: 4, ShutdownTimeout: time.Second}

	p, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start()
	p.Stop()

	if err := p.Submit(&Task{ID: "late"}); err == nil {
		t.Error("expected submit to fail after Stop")
	}
}

func TestPoolRequiresWorkerFunc(t *testing.T) {
	if _, err := New(DefaultConfig(), nil, nil); err == nil {
		t.Fatal("expected an error without a worker function")
	}
}
