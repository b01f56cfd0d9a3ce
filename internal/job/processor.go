package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/observability/alerting"
	"Web3-Sentinel/pkg/logger"
)

// Executor 定义了处理器所需的派发能力，*agent.Dispatcher 满足该接口。
type Executor interface {
	Dispatch(ctx context.Context, variant string, input agent.TaskInput) (*agent.Task, error)
}

// Processor 负责从队列消费任务并交给派发器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher

	republishTimeout time.Duration
}

// DefaultRepublishTimeout 是工作协程重新排队时等待队列腾出空间的上限。
const DefaultRepublishTimeout = 5 * time.Second

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRepublishTimeout 设置重新排队的等待上限，非正值保持默认。
func WithRepublishTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout > 0 {
			p.republishTimeout = timeout
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,

		republishTimeout: DefaultRepublishTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if IsSkippable(err) || stdErrors.Is(err, ErrJobConflict) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			if stdErrors.Is(err, ErrJobExhausted) && job != nil {
				p.emitAlert(ctx, job, CodeJobExhausted, err, "exhausted")
			}
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	task, dispatchErr := p.executor.Dispatch(ctx, string(job.AgentType), job.Input())
	if dispatchErr != nil {
		return p.handleDispatchFailure(ctx, job, task, dispatchErr)
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, *task); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		if storeErr := p.store.MarkFailed(ctx, job.ID, CodeJobProcessing, err.Error(), task, false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
			return storeErr
		}
		return p.republish(ctx, job, "在标记成功失败后")
	}
	logger.Audit().Info("异步任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("task_id", task.ID),
		slog.String("agent", string(job.AgentType)),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

// handleDispatchFailure 记录失败原因；只有根因可重试且仍有剩余次数时才重新排队。
func (p *Processor) handleDispatchFailure(ctx context.Context, job *Job, task *agent.Task, dispatchErr error) error {
	cause := dispatchErr
	var execErr *agent.ExecutionError
	if stdErrors.As(dispatchErr, &execErr) && execErr.Cause != nil {
		cause = execErr.Cause
	}
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = agent.CodeExecution
	}
	retryable := xerrors.RetryableError(dispatchErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, cause.Error(), task, terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("异步任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("agent", string(job.AgentType)),
		slog.Bool("terminal", terminal),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	// 派发失败本身由派发观察者告警，这里只关注重试耗尽。
	if retryable && terminal {
		p.emitAlert(ctx, job, CodeJobExhausted, cause, "exhausted")
	}

	if retryable && !terminal {
		if err := p.republish(ctx, job, ""); err != nil {
			return err
		}
		p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

// republish 在工作协程内重新排队。队列已满时最多等待 republishTimeout，
// 避免所有工作协程都阻塞在投递上而无人消费。
func (p *Processor) republish(ctx context.Context, job *Job, when string) error {
	if p.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务生产者")
	}
	pctx, cancel := context.WithTimeout(ctx, p.republishTimeout)
	defer cancel()
	if err := p.producer.Publish(pctx, job.ID); err != nil {
		wrapped := xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("任务 %s %s重投失败", job.ID, when))
		p.emitAlert(ctx, job, CodeJobPublish, wrapped, "publish")
		return wrapped
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	p.logger.Debug(msg, args...)
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     job.ID,
		Agent:      string(job.AgentType),
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
