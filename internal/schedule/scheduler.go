package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Web3-Sentinel/internal/job"
	"Web3-Sentinel/pkg/logger"
)

// Submitter 接收到期的任务，*job.Service 满足该接口。
type Submitter interface {
	Submit(ctx context.Context, req job.Request) (*job.Job, error)
}

// Scheduler 轮询定时任务，到期后提交到异步任务队列。
type Scheduler struct {
	entries      []Entry
	submitter    Submitter
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu   sync.Mutex
	next map[string]time.Time
}

// Option 定义调度器的可选配置。
type Option func(*Scheduler)

// WithPollInterval 设置轮询间隔，默认 30 秒。
func WithPollInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New 构造调度器，未启用的条目会被忽略。
func New(entries []Entry, submitter Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		submitter:    submitter,
		pollInterval: 30 * time.Second,
		now:          time.Now,
		logger:       logger.Named("scheduler"),
		next:         make(map[string]time.Time),
	}
	for _, entry := range entries {
		if entry.Active() {
			s.entries = append(s.entries, entry)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Entries 返回启用的条目。
func (s *Scheduler) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Start 运行调度循环直到 ctx 结束。
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.entries) == 0 {
		s.logger.Info("未配置定时任务，调度器不启动")
		return nil
	}
	s.prime(s.now())

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	s.logger.Info("调度器已启动", slog.Int("entries", len(s.entries)), slog.Duration("poll_interval", s.pollInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("调度器已停止")
			return ctx.Err()
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// prime 以 from 为基准计算每个条目的首次触发时间。
func (s *Scheduler) prime(from time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if _, ok := s.next[entry.Name]; ok {
			continue
		}
		next, err := entry.Next(from)
		if err != nil {
			s.logger.Error("计算下次执行时间失败", slog.String("schedule", entry.Name), slog.Any("error", err))
			continue
		}
		s.next[entry.Name] = next
	}
}

// Poll 提交所有到期的条目，返回本次提交的数量。
//
// 任务 ID 由条目名称与计划时间组成，多实例同时触发时由任务服务去重。
func (s *Scheduler) Poll(ctx context.Context) int {
	now := s.now()
	s.prime(now)

	submitted := 0
	for _, entry := range s.entries {
		s.mu.Lock()
		due, ok := s.next[entry.Name]
		s.mu.Unlock()
		if !ok || now.Before(due) {
			continue
		}

		req := job.Request{
			ID:        fmt.Sprintf("schedule-%s-%d", entry.Name, due.Unix()),
			AgentType: string(entry.Agent),
			Task:      entry.Task,
		}
		if _, err := s.submitter.Submit(ctx, req); err != nil {
			s.logger.Error("提交定时任务失败",
				slog.String("schedule", entry.Name),
				slog.String("job_id", req.ID),
				slog.Any("error", err),
			)
		} else {
			submitted++
			logger.Audit().Info("定时任务已提交",
				slog.String("schedule", entry.Name),
				slog.String("job_id", req.ID),
				slog.String("agent", req.AgentType),
			)
		}

		// 错过的周期不补跑，从当前时间重新计算。
		next, err := entry.Next(now)
		s.mu.Lock()
		if err != nil {
			delete(s.next, entry.Name)
		} else {
			s.next[entry.Name] = next
		}
		s.mu.Unlock()
	}
	return submitted
}

// NextRun 返回条目的下一次计划时间。
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.next[name]
	return next, ok
}
