package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
)

func TestDispatchCompletesEveryVariant(t *testing.T) {
	runners, spies := newSpyRunners()
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	for _, v := range Variants() {
		task, err := dispatcher.Dispatch(context.Background(), string(v), TaskInput{Title: "t", Description: "d"})
		if err != nil {
			t.Fatalf("dispatch %s: %v", v, err)
		}
		if task.AgentID != v {
			t.Fatalf("unexpected agent id %s", task.AgentID)
		}
		if task.Status != StatusCompleted || task.CompletedAt == nil {
			t.Fatalf("%s: expected completed task, got %+v", v, task)
		}
		if task.Result == nil {
			t.Fatalf("%s: expected a result payload", v)
		}
		if spies[v].calls.Load() != 1 {
			t.Fatalf("%s: expected exactly one runner call", v)
		}
	}
}

func TestDispatchDefaultsTitle(t *testing.T) {
	runners, _ := newSpyRunners()
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	task, err := dispatcher.Dispatch(context.Background(), "llm", TaskInput{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if task.Title != DefaultTitle || task.Description != "" {
		t.Fatalf("unexpected defaults: %q %q", task.Title, task.Description)
	}
}

func TestDispatchGeneratesUniqueIDs(t *testing.T) {
	runners, _ := newSpyRunners()
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		task, err := dispatcher.Dispatch(context.Background(), "scraper", TaskInput{Title: fmt.Sprintf("t-%d", i)})
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if _, dup := seen[task.ID]; dup {
			t.Fatalf("duplicate task id %s", task.ID)
		}
		seen[task.ID] = struct{}{}
	}
}

func TestDispatchUnknownVariantInvokesNothing(t *testing.T) {
	runners, spies := newSpyRunners()
	var events int
	dispatcher := NewDispatcher(mustRegistry(t, runners), WithObserver(ObserverFunc(func(context.Context, Event) { events++ })))

	task, err := dispatcher.Dispatch(context.Background(), "does-not-exist", TaskInput{Title: "t"})
	if task != nil {
		t.Fatalf("expected no task, got %+v", task)
	}
	if !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected unknown variant error, got %v", err)
	}
	for v, spy := range spies {
		if spy.calls.Load() != 0 {
			t.Fatalf("runner %s should not have been invoked", v)
		}
	}
	if events != 0 {
		t.Fatalf("observers should not see rejected dispatches")
	}
}

func TestDispatchRunnerErrorBecomesExecutionError(t *testing.T) {
	runners, _ := newSpyRunners()
	cause := errors.New("rpc unavailable")
	runners.Analyzer = &spyRunner{err: cause}
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	task, err := dispatcher.Dispatch(context.Background(), "analyzer", TaskInput{Title: "t"})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.Variant != VariantAnalyzer || execErr.TaskID != task.ID {
		t.Fatalf("unexpected error fields %+v", execErr)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be preserved")
	}
	if task.Status != StatusFailed || task.CompletedAt == nil || task.Error == "" {
		t.Fatalf("expected failed task, got %+v", task)
	}
	if xerrors.CodeOf(err) != CodeExecution {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestDispatchRecoversRunnerPanic(t *testing.T) {
	runners, _ := newSpyRunners()
	runners.Coder = RunnerFunc(func(context.Context, Task) (Task, error) {
		panic("boom")
	})
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	task, err := dispatcher.Dispatch(context.Background(), "coder", TaskInput{})
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected PanicError in chain, got %v", err)
	}
	if panicErr.Value != "boom" || len(panicErr.Stack) == 0 {
		t.Fatalf("unexpected panic details %+v", panicErr)
	}
	if task.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", task.Status)
	}
}

func TestDispatchTimeout(t *testing.T) {
	runners, _ := newSpyRunners()
	release := make(chan struct{})
	defer close(release)
	runners.Researcher = RunnerFunc(func(ctx context.Context, task Task) (Task, error) {
		select {
		case <-release:
			return task, nil
		case <-ctx.Done():
			return task, ctx.Err()
		}
	})
	dispatcher := NewDispatcher(mustRegistry(t, runners), WithTimeout(20*time.Millisecond))

	start := time.Now()
	task, err := dispatcher.Dispatch(context.Background(), "researcher", TaskInput{})
	if time.Since(start) > 2*time.Second {
		t.Fatalf("dispatch did not honour the timeout")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if xerrors.CodeOf(execErr.Cause) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout cause, got %v", execErr.Cause)
	}
	if !execErr.Retryable() {
		t.Fatalf("timeouts should be retryable by callers")
	}
	if task.Status != StatusFailed {
		t.Fatalf("expected failed task")
	}
}

func TestDispatchAbandonsRunnerOnCancel(t *testing.T) {
	runners, _ := newSpyRunners()
	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	runners.Toolsmith = RunnerFunc(func(ctx context.Context, task Task) (Task, error) {
		close(started)
		<-block
		return task, nil
	})
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	task, err := dispatcher.Dispatch(ctx, "toolsmith", TaskInput{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if xerrors.CodeOf(errors.Unwrap(err)) != xerrors.CodeCanceled {
		t.Fatalf("expected CANCELED cause, got %v", errors.Unwrap(err))
	}
	if task.Status != StatusFailed {
		t.Fatalf("expected failed task")
	}
}

func TestDispatchRunnerReportedFailure(t *testing.T) {
	runners, _ := newSpyRunners()
	runners.GitHub = RunnerFunc(func(_ context.Context, task Task) (Task, error) {
		task.Status = StatusFailed
		task.Error = "repository archived"
		return task, nil
	})
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	task, err := dispatcher.Dispatch(context.Background(), "github", TaskInput{})
	if err == nil || task.Error != "repository archived" {
		t.Fatalf("expected runner failure to surface, got %v %+v", err, task)
	}
}

func TestDispatchKeepsTaskIdentity(t *testing.T) {
	runners, _ := newSpyRunners()
	runners.LLM = RunnerFunc(func(_ context.Context, task Task) (Task, error) {
		task.ID = "forged"
		task.AgentID = VariantCoder
		task.Result = "ok"
		return task, nil
	})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	dispatcher := NewDispatcher(mustRegistry(t, runners),
		WithIDGenerator(func() string { return "task-1" }),
		WithClock(func() time.Time { return fixed }),
	)

	task, err := dispatcher.Dispatch(context.Background(), "llm", TaskInput{Title: "t"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if task.ID != "task-1" || task.AgentID != VariantLLM {
		t.Fatalf("task identity was not preserved: %+v", task)
	}
	if !task.CreatedAt.Equal(fixed) || !task.CompletedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamps %v %v", task.CreatedAt, task.CompletedAt)
	}
}

func TestDispatchNotifiesObservers(t *testing.T) {
	runners, _ := newSpyRunners()
	runners.Scraper = &spyRunner{err: errors.New("source offline")}

	var mu sync.Mutex
	var got []Event
	record := ObserverFunc(func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	panicky := ObserverFunc(func(context.Context, Event) { panic("observer bug") })
	dispatcher := NewDispatcher(mustRegistry(t, runners), WithObserver(panicky), WithObserver(record))

	if _, err := dispatcher.Dispatch(context.Background(), "llm", TaskInput{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := dispatcher.Dispatch(context.Background(), "scraper", TaskInput{}); err == nil {
		t.Fatalf("expected scraper failure")
	}

	want := []EventType{EventStarted, EventCompleted, EventStarted, EventFailed}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.Type != want[i] {
			t.Fatalf("event %d: got %s want %s", i, e.Type, want[i])
		}
	}
	if got[0].Task.Status != StatusInProgress {
		t.Fatalf("started event should carry an in-progress task, got %s", got[0].Task.Status)
	}
	if got[3].Err == nil {
		t.Fatalf("failed event should carry the error")
	}
}

func TestDispatchSlowObserverDoesNotOutliveCaller(t *testing.T) {
	runners, _ := newSpyRunners()
	runners.Analyzer = RunnerFunc(func(ctx context.Context, task Task) (Task, error) {
		<-ctx.Done()
		return task, ctx.Err()
	})
	release := make(chan struct{})
	defer close(release)
	slow := ObserverFunc(func(_ context.Context, e Event) {
		if e.Type != EventFailed {
			return
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	})
	dispatcher := NewDispatcher(mustRegistry(t, runners),
		WithTimeout(50*time.Millisecond),
		WithObserver(slow),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	task, err := dispatcher.Dispatch(ctx, "analyzer", TaskInput{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch blocked on observer for %v", elapsed)
	}
	if err == nil || task == nil || task.Status != StatusFailed {
		t.Fatalf("expected failed task, got %+v %v", task, err)
	}
}

func TestDispatchObserverContextIsBounded(t *testing.T) {
	runners, _ := newSpyRunners()
	deadlines := make(chan bool, 3)
	observer := ObserverFunc(func(ctx context.Context, _ Event) {
		_, ok := ctx.Deadline()
		deadlines <- ok
		<-ctx.Done()
	})
	dispatcher := NewDispatcher(mustRegistry(t, runners),
		WithObserverTimeout(30*time.Millisecond),
		WithObserver(observer),
	)

	start := time.Now()
	if _, err := dispatcher.Dispatch(context.Background(), "coder", TaskInput{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("observer timeout not applied, took %v", elapsed)
	}
	for i := 0; i < 2; i++ {
		if !<-deadlines {
			t.Fatalf("observer ctx should carry a deadline")
		}
	}
}

func TestDispatchConcurrentCallers(t *testing.T) {
	runners, spies := newSpyRunners()
	dispatcher := NewDispatcher(mustRegistry(t, runners))

	var wg sync.WaitGroup
	ids := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := declared[i%len(declared)]
			task, err := dispatcher.Dispatch(context.Background(), string(v), TaskInput{Title: "t"})
			if err != nil {
				t.Errorf("dispatch: %v", err)
				return
			}
			ids <- task.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != 64 {
		t.Fatalf("expected 64 unique ids, got %d", len(seen))
	}
	var total int32
	for _, spy := range spies {
		total += spy.calls.Load()
	}
	if total != 64 {
		t.Fatalf("expected 64 runner calls, got %d", total)
	}
}
