package alerting

import (
	"context"
	"errors"
	"log/slog"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/pkg/logger"
)

// DispatchObserver 把需要告警的派发失败转发给告警派发器。
type DispatchObserver struct {
	dispatcher Dispatcher
}

// NewDispatchObserver 创建派发告警观察者。
func NewDispatchObserver(dispatcher Dispatcher) *DispatchObserver {
	return &DispatchObserver{dispatcher: dispatcher}
}

// OnTaskEvent 实现 agent.Observer。取消等不需要告警的根因会被忽略。
func (o *DispatchObserver) OnTaskEvent(ctx context.Context, event agent.Event) {
	if o == nil || o.dispatcher == nil || event.Type != agent.EventFailed || event.Err == nil {
		return
	}
	cause := event.Err
	var execErr *agent.ExecutionError
	if errors.As(event.Err, &execErr) && execErr.Cause != nil {
		cause = execErr.Cause
	}
	if !xerrors.ShouldAlert(cause) {
		return
	}

	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = agent.CodeExecution
	}
	alert := Event{
		Code:     code,
		Message:  cause.Error(),
		Severity: xerrors.SeverityOf(cause),
		TaskID:   event.Task.ID,
		Agent:    string(event.Task.AgentID),
		Metadata: map[string]string{
			"stage": "dispatch",
			"title": event.Task.Title,
		},
	}
	if event.Task.CompletedAt != nil {
		alert.OccurredAt = *event.Task.CompletedAt
	}
	if err := o.dispatcher.Notify(ctx, alert); err != nil {
		logger.L().Error("告警通知失败", slog.Any("error", err), slog.String("task_id", event.Task.ID))
	}
}

var _ agent.Observer = (*DispatchObserver)(nil)
