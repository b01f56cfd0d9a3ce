package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/pkg/logger"
)

// Resolver 在入队前校验智能体类型，*agent.Registry 满足该接口。
type Resolver interface {
	Descriptor(variant string) (agent.Descriptor, error)
}

// Service 负责异步任务的创建与查询。
type Service struct {
	resolver   Resolver
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务，maxRetries 小于等于 0 时默认为 3。
func NewService(resolver Resolver, store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{resolver: resolver, store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的任务并推送到队列。指定 ID 的相同内容重复提交返回已有任务，
// 内容不同则返回 ErrJobConflict。
// 未知的智能体类型返回 *agent.UnknownVariantError，且不会写入存储。
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if s.store == nil || s.producer == nil || s.resolver == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	descriptor, err := s.resolver.Descriptor(strings.TrimSpace(req.AgentType))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Task.Title)
	if title == "" {
		title = agent.DefaultTitle
	}
	job := &Job{
		AgentType:   descriptor.ID,
		Title:       title,
		Description: req.Task.Description,
		Status:      StatusQueued,
		MaxRetries:  s.maxRetries,
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return resubmitted(existing, job)
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}
	job.ID = jobID

	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return resubmitted(existing, job)
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), nil, true)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("agent", string(job.AgentType)),
		slog.String("title", job.Title),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// resubmitted 处理指定 ID 的重复提交：内容一致时返回已有任务，
// 智能体类型、标题或描述不同则返回 ErrJobConflict。
func resubmitted(existing, requested *Job) (*Job, error) {
	if existing.AgentType == requested.AgentType &&
		existing.Title == requested.Title &&
		existing.Description == requested.Description {
		return existing, nil
	}
	return nil, xerrors.New(CodeJobConflict, "任务 ID 已被不同内容的任务占用",
		xerrors.WithMetadata("job_id", existing.ID),
		xerrors.WithMetadata("agent", string(existing.AgentType)),
	)
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务状态直到任务结束或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.FromContext(ctx.Err(), "等待任务完成被中断")
		case <-ticker.C:
		}
	}
}
