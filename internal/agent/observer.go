package agent

import (
	"context"
	"log/slog"
	"time"

	"Web3-Sentinel/pkg/logger"
)

// EventType 表示任务生命周期中的事件。
type EventType string

const (
	EventStarted   EventType = "task.started"
	EventCompleted EventType = "task.completed"
	EventFailed    EventType = "task.failed"
)

// Event 是派发器对外广播的生命周期事件。
type Event struct {
	Type     EventType     `json:"type"`
	Task     Task          `json:"task"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Observer 接收派发事件。实现应快速返回，失败不会影响派发结果；
// 派发器只等待有限时间，超时后观察者在后台继续运行，ctx 到期时应放弃。
type Observer interface {
	OnTaskEvent(ctx context.Context, event Event)
}

// ObserverFunc 允许使用函数作为 Observer。
type ObserverFunc func(ctx context.Context, event Event)

// OnTaskEvent 实现 Observer 接口。
func (f ObserverFunc) OnTaskEvent(ctx context.Context, event Event) { f(ctx, event) }

// Observers 把多个观察者组合为一个。
type Observers []Observer

// OnTaskEvent 依次通知，单个观察者 panic 只记录日志。
func (o Observers) OnTaskEvent(ctx context.Context, event Event) {
	for _, observer := range o {
		if observer == nil {
			continue
		}
		notifyOne(ctx, observer, event)
	}
}

func notifyOne(ctx context.Context, observer Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Named("dispatcher").Error("观察者处理事件时 panic",
				slog.Any("panic", r),
				slog.String("event", string(event.Type)),
				slog.String("task_id", event.Task.ID),
			)
		}
	}()
	observer.OnTaskEvent(ctx, event)
}
