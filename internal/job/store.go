package job

import (
	"context"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
)

// Store 抽象了异步任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 把排队中的任务标记为运行中并累加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, task agent.Task) error
	// MarkFailed 记录失败；terminal 为 false 时任务回到排队状态等待重试。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, task *agent.Task, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
