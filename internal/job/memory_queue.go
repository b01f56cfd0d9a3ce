package job

import (
	"context"
	"sync"

	xerrors "Web3-Sentinel/internal/errors"
)

// MemoryQueue 使用 channel 实现进程内队列。ch 从不关闭，关闭信号由 done 广播，
// 因此阻塞中的 Publish 不会持锁，也不会向已关闭的 channel 发送。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将任务投递到队列，队列已满时阻塞直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return errQueueClosed()
	default:
	}
	select {
	case <-ctx.Done():
		return xerrors.FromContext(ctx.Err(), "投递任务被中断")
	case <-q.done:
		return errQueueClosed()
	case q.ch <- jobID:
		return nil
	}
}

func errQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭", xerrors.WithRetryable(false))
}

// Consume 启动指定数量的工作协程消费队列中的任务。队列关闭后，
// 工作协程处理完缓冲区中剩余的任务再退出。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	run := func(jobID string) {
		if err := handler(ctx, jobID); err != nil && ctx.Err() == nil {
			q.requeue(jobID)
		}
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-q.ch:
					run(jobID)
				case <-q.done:
					for {
						select {
						case jobID := <-q.ch:
							if ctx.Err() != nil {
								return
							}
							run(jobID)
						default:
							return
						}
					}
				}
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		<-done
		return ctx.Err()
	case <-done:
		// 队列被关闭。
		return nil
	}
}

// requeue 在处理失败时重新投递，队列已满或已关闭则放弃。
func (q *MemoryQueue) requeue(jobID string) {
	select {
	case <-q.done:
		return
	default:
	}
	select {
	case q.ch <- jobID:
	default:
	}
}

// Close 关闭内存队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
