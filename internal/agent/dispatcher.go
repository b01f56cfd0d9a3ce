package agent

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/pkg/logger"
)

const tracerName = "Web3-Sentinel/internal/agent"

// DefaultObserverTimeout 是单次事件通知的默认上限。
const DefaultObserverTimeout = 5 * time.Second

// Dispatcher 校验变体并调用执行器，自身不持有可变状态，可被并发调用。
type Dispatcher struct {
	registry        *Registry
	timeout         time.Duration
	observerTimeout time.Duration
	now             func() time.Time
	newID           func() string
	observers       Observers
	tracer          trace.Tracer
	logger          *slog.Logger
}

// Option 定义派发器的可选配置。
type Option func(*Dispatcher)

// WithTimeout 设置单次派发的超时时间，0 表示不限制。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout < 0 {
			timeout = 0
		}
		d.timeout = timeout
	}
}

// WithObserverTimeout 设置单次事件通知的上限，非正值使用 DefaultObserverTimeout。
func WithObserverTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.observerTimeout = timeout
		}
	}
}

// WithObserver 注册生命周期观察者。
func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observers = append(d.observers, observer)
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator 替换任务 ID 生成方式。
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) {
		if newID != nil {
			d.newID = newID
		}
	}
}

// WithTracer 指定链路追踪器，默认使用全局 TracerProvider。
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher 构造派发器。
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:        registry,
		observerTimeout: DefaultObserverTimeout,
		now:             time.Now,
		newID:           uuid.NewString,
		tracer:          otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.logger == nil {
		d.logger = logger.Named("dispatcher")
	}
	return d
}

// Dispatch 为变体构造新任务并执行。
//
// 未知变体在调用任何执行器之前返回 *UnknownVariantError，此时任务为 nil。
// 执行器失败、panic、超时或 ctx 取消时，返回状态为 failed 的任务以及
// *ExecutionError。取消是尽力而为的：派发器停止等待，执行器通过 ctx 感知。
func (d *Dispatcher) Dispatch(ctx context.Context, variant string, input TaskInput) (*Task, error) {
	v, runner, err := d.registry.Resolve(variant)
	if err != nil {
		return nil, err
	}

	task := NewTask(d.newID(), v, input, d.now())

	ctx, span := d.tracer.Start(ctx, "agent.dispatch", trace.WithAttributes(
		attribute.String("agent.variant", string(v)),
		attribute.String("agent.task_id", task.ID),
	))
	defer span.End()

	task.Status = StatusInProgress
	d.notify(ctx, Event{Type: EventStarted, Task: task})

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	out, runErr := invoke(runCtx, runner, task)
	if runErr == nil && out.Status == StatusFailed {
		runErr = errors.New(failureMessage(out))
	}
	if runErr != nil {
		return d.fail(ctx, span, task, runErr)
	}

	completed := d.complete(task, out)
	span.SetStatus(codes.Ok, "")
	d.notify(ctx, Event{Type: EventCompleted, Task: completed, Duration: completed.Duration()})
	logger.Audit().Info("智能体任务完成",
		slog.String("task_id", completed.ID),
		slog.String("agent", string(v)),
		slog.String("title", completed.Title),
		slog.Duration("duration", completed.Duration()),
	)
	return &completed, nil
}

// complete 以执行器的结果为准，但保持任务标识与创建信息不变。
func (d *Dispatcher) complete(task, out Task) Task {
	result := task
	result.Result = out.Result
	result.Status = StatusCompleted
	result.Error = ""
	if out.CompletedAt != nil && !out.CompletedAt.Before(task.CreatedAt) {
		at := *out.CompletedAt
		result.CompletedAt = &at
	} else {
		at := d.now()
		result.CompletedAt = &at
	}
	return result
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, task Task, cause error) (*Task, error) {
	cause = xerrors.FromContext(cause, "智能体执行被中断")
	at := d.now()
	task.Status = StatusFailed
	task.CompletedAt = &at
	task.Result = nil
	task.Error = cause.Error()

	execErr := &ExecutionError{Variant: task.AgentID, TaskID: task.ID, Cause: cause}
	span.RecordError(execErr)
	span.SetStatus(codes.Error, execErr.Error())

	d.notify(ctx, Event{Type: EventFailed, Task: task, Err: execErr, Duration: task.Duration()})

	attrs := []any{
		slog.String("task_id", task.ID),
		slog.String("agent", string(task.AgentID)),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(xerrors.CodeOf(cause))),
	}
	var panicErr *PanicError
	if errors.As(cause, &panicErr) {
		attrs = append(attrs, slog.String("stack", string(panicErr.Stack)))
	}
	d.logger.Warn("智能体任务执行失败", attrs...)
	logger.Audit().Warn("智能体任务失败",
		slog.String("task_id", task.ID),
		slog.String("agent", string(task.AgentID)),
		slog.String("error_code", string(xerrors.CodeOf(cause))),
	)
	return &task, execErr
}

type outcome struct {
	task Task
	err  error
}

// invoke 在独立协程中运行执行器并把 panic 转换为 *PanicError。
func invoke(ctx context.Context, runner Runner, task Task) (Task, error) {
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		out, err := runner.Run(ctx, task)
		done <- outcome{task: out, err: err}
	}()

	select {
	case o := <-done:
		return o.task, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			return o.task, o.err
		default:
		}
		return Task{}, ctx.Err()
	}
}

func failureMessage(task Task) string {
	if task.Error != "" {
		return task.Error
	}
	return "runner reported failure"
}

// notify 把事件交给观察者。观察者拿到脱离调用方取消信号、但受
// observerTimeout 约束的 ctx；派发器最多等到该上限或调用方截止时间，
// 之后观察者在后台继续完成，不再拖住 Dispatch。
func (d *Dispatcher) notify(ctx context.Context, event Event) {
	if len(d.observers) == 0 {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.observerTimeout)
	done := make(chan struct{})
	go func() {
		defer cancel()
		defer close(done)
		d.observers.OnTaskEvent(nctx, event)
	}()

	wait := d.observerTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = max(remaining, 0)
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		select {
		case <-done:
		default:
			d.logger.Warn("observers still running, dispatch continues",
				"event", string(event.Type), "task_id", event.Task.ID, "waited", wait)
		}
	}
}
