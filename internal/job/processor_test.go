package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/observability/alerting"
)

type variantResolver struct{}

func (variantResolver) Descriptor(variant string) (agent.Descriptor, error) {
	v, err := agent.ParseVariant(variant)
	if err != nil {
		return agent.Descriptor{}, err
	}
	return agent.Descriptor{ID: v, Type: v}, nil
}

// fakeExecutor 依次返回 failures 中的错误，用尽后成功。
type fakeExecutor struct {
	mu        sync.Mutex
	failures  []error
	calls     atomic.Int32
	processed atomic.Int32
	latency   time.Duration
}

func (f *fakeExecutor) Dispatch(ctx context.Context, variant string, input agent.TaskInput) (*agent.Task, error) {
	call := f.calls.Add(1)
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	task := agent.NewTask(fmt.Sprintf("task-%d", call), agent.Variant(variant), input, time.Now())

	f.mu.Lock()
	var cause error
	if len(f.failures) > 0 {
		cause = f.failures[0]
		f.failures = f.failures[1:]
	}
	f.mu.Unlock()

	now := time.Now()
	task.CompletedAt = &now
	if cause != nil {
		task.Status = agent.StatusFailed
		task.Error = cause.Error()
		return &task, &agent.ExecutionError{Variant: task.AgentID, TaskID: task.ID, Cause: cause}
	}
	task.Status = agent.StatusCompleted
	task.Result = map[string]string{"echo": input.Title}
	f.processed.Add(1)
	return &task, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

type harness struct {
	service *Service
	alerter *recordingAlerter
	cancel  context.CancelFunc
}

func startHarness(t *testing.T, executor Executor, maxRetries, workers int) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	alerter := &recordingAlerter{}
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(workers),
		WithAlertDispatcher(alerter),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		queue.Close()
	})
	return &harness{
		service: NewService(variantResolver{}, store, queue, maxRetries),
		alerter: alerter,
		cancel:  cancel,
	}
}

func (h *harness) submitAndWait(t *testing.T, req Request) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := h.service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	finished, err := h.service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("等待任务失败: %v", err)
	}
	return finished
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	executor := &fakeExecutor{latency: 10 * time.Millisecond}
	h := startHarness(t, executor, 3, 8)
	ctx := context.Background()

	total := 200
	for i := 0; i < total; i++ {
		req := Request{AgentType: "scraper", Task: agent.TaskInput{Title: fmt.Sprintf("sweep-%d", i)}}
		if _, err := h.service.Submit(ctx, req); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(executor.processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}

	stats, err := h.service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Succeeded != total {
		t.Fatalf("expected %d succeeded jobs, got %+v", total, stats)
	}
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	rpcDown := xerrors.New(xerrors.CodeUpstreamFailure, "rpc unavailable")
	executor := &fakeExecutor{failures: []error{rpcDown, rpcDown}}
	h := startHarness(t, executor, 3, 1)

	job := h.submitAndWait(t, Request{AgentType: "analyzer", Task: agent.TaskInput{Title: "vault"}})
	if job.Status != StatusSucceeded || job.Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %+v", job)
	}
	if job.Task == nil || job.Task.Status != agent.StatusCompleted || job.Task.ID != "task-3" {
		t.Fatalf("job should carry the final task: %+v", job.Task)
	}
	if job.LastError != "" || job.ErrorCode != "" {
		t.Fatalf("success should clear previous errors: %+v", job)
	}
	if len(h.alerter.snapshot()) != 0 {
		t.Fatalf("recovered job should not alert")
	}
}

func TestProcessorStopsOnNonRetryableFailure(t *testing.T) {
	executor := &fakeExecutor{failures: []error{&agent.PanicError{Value: "boom"}}}
	h := startHarness(t, executor, 3, 1)

	job := h.submitAndWait(t, Request{AgentType: "coder", Task: agent.TaskInput{Title: "patch"}})
	if job.Status != StatusFailed || job.Attempts != 1 {
		t.Fatalf("panic should fail immediately, got %+v", job)
	}
	if job.ErrorCode != string(agent.CodeRunnerPanic) || job.LastError != "runner panic: boom" {
		t.Fatalf("unexpected error fields: %+v", job)
	}
	if job.Task == nil || job.Task.Status != agent.StatusFailed {
		t.Fatalf("failed task should be stored: %+v", job.Task)
	}
	if executor.calls.Load() != 1 {
		t.Fatalf("expected a single dispatch, got %d", executor.calls.Load())
	}
}

func TestProcessorAlertsWhenRetriesExhausted(t *testing.T) {
	timeout := xerrors.New(xerrors.CodeTimeout, "runner timed out")
	executor := &fakeExecutor{failures: []error{timeout, timeout, timeout}}
	h := startHarness(t, executor, 2, 1)

	job := h.submitAndWait(t, Request{AgentType: "researcher", Task: agent.TaskInput{Title: "oracles"}})
	if job.Status != StatusFailed || job.Attempts != 2 || job.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("unexpected job %+v", job)
	}

	events := h.alerter.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected one alert, got %+v", events)
	}
	event := events[0]
	if event.Code != CodeJobExhausted || event.TaskID != job.ID || event.Agent != "researcher" {
		t.Fatalf("unexpected alert %+v", event)
	}
	if event.Attempts != 2 || event.MaxRetries != 2 || event.Metadata["stage"] != "exhausted" {
		t.Fatalf("unexpected alert details %+v", event)
	}
}

// stalledProducer 模拟一直处于满载状态的队列。
type stalledProducer struct{}

func (stalledProducer) Publish(ctx context.Context, _ string) error {
	<-ctx.Done()
	return xerrors.FromContext(ctx.Err(), "queue full")
}

func (stalledProducer) Close() error { return nil }

func TestProcessorRepublishDoesNotStallWorkers(t *testing.T) {
	rpcDown := xerrors.New(xerrors.CodeUpstreamFailure, "rpc unavailable")
	executor := &fakeExecutor{failures: []error{rpcDown}}
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	alerter := &recordingAlerter{}
	processor := NewProcessor(executor, store, queue, stalledProducer{},
		WithWorkerCount(1),
		WithAlertDispatcher(alerter),
		WithRepublishTimeout(30*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = processor.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		queue.Close()
	})

	service := NewService(variantResolver{}, store, queue, 3)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()

	if _, err := service.Submit(waitCtx, Request{AgentType: "analyzer", Task: agent.TaskInput{Title: "first"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for len(alerter.snapshot()) == 0 {
		select {
		case <-waitCtx.Done():
			t.Fatalf("republish failure was never reported")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if event := alerter.snapshot()[0]; event.Code != CodeJobPublish || event.Metadata["stage"] != "publish" {
		t.Fatalf("unexpected alert %+v", event)
	}

	second, err := service.Submit(waitCtx, Request{AgentType: "coder", Task: agent.TaskInput{Title: "second"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	finished, err := service.WaitUntilCompleted(waitCtx, second.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("worker stayed blocked: %v", err)
	}
	if finished.Status != StatusSucceeded {
		t.Fatalf("expected second job to succeed, got %+v", finished)
	}
}

func TestProcessorWithDispatcher(t *testing.T) {
	runner := agent.RunnerFunc(func(_ context.Context, task agent.Task) (agent.Task, error) {
		task.Result = map[string]string{"title": task.Title}
		return task, nil
	})
	registry, err := agent.NewRegistry(agent.Runners{
		LLM: runner, Scraper: runner, Analyzer: runner, Researcher: runner,
		Architect: runner, Toolsmith: runner, Coder: runner, GitHub: runner,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := startHarness(t, agent.NewDispatcher(registry), 3, 2)

	job := h.submitAndWait(t, Request{AgentType: "github", Task: agent.TaskInput{}})
	if job.Status != StatusSucceeded || job.Task == nil {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Task.AgentID != agent.VariantGitHub || job.Task.Title != agent.DefaultTitle || job.Task.CompletedAt == nil {
		t.Fatalf("unexpected task %+v", job.Task)
	}
}
