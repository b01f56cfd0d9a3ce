// Package history 保存已结束的智能体任务，供审计查询与 LLM 上下文记忆使用。
package history

import (
	"context"
	"log/slog"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/pkg/logger"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// Filter 控制历史查询范围。
type Filter struct {
	Limit int
	Agent agent.Variant
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f
}

// Repository 抽象任务历史的持久化接口，结果按创建时间倒序返回。
type Repository interface {
	Save(ctx context.Context, task agent.Task) error
	ListLatest(ctx context.Context, filter Filter) ([]agent.Task, error)
	Close() error
}

// Recorder 把派发器的终态事件写入历史仓库。
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder 创建历史记录观察者。
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: logger.Named("history")}
}

// OnTaskEvent 实现 agent.Observer，写入失败只记录日志。
func (r *Recorder) OnTaskEvent(ctx context.Context, event agent.Event) {
	if r == nil || r.repo == nil {
		return
	}
	if event.Type != agent.EventCompleted && event.Type != agent.EventFailed {
		return
	}
	if err := r.repo.Save(ctx, event.Task); err != nil {
		r.logger.Error("写入任务历史失败",
			slog.Any("error", err),
			slog.String("task_id", event.Task.ID),
		)
	}
}

var _ agent.Observer = (*Recorder)(nil)
