package agent

import (
	"strings"
	"time"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultTitle 是调用方未提供标题时使用的占位标题。
const DefaultTitle = "Unnamed Task"

// Valid 检查状态是否为支持的枚举值。
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// TaskInput 是调用方提交的任务内容。
type TaskInput struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Task 描述一次路由到某个智能体的工作单元。
type Task struct {
	ID          string     `json:"id"`
	AgentID     Variant    `json:"agentId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewTask 以 pending 状态构造任务，并为缺省字段填充占位值。
func NewTask(id string, variant Variant, input TaskInput, now time.Time) Task {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = DefaultTitle
	}
	return Task{
		ID:          id,
		AgentID:     variant,
		Title:       title,
		Description: input.Description,
		Status:      StatusPending,
		CreatedAt:   now,
	}
}

// Text 返回标题与描述拼接后的文本，供执行器做关键字匹配。
func (t Task) Text() string {
	if t.Description == "" {
		return t.Title
	}
	return t.Title + "\n" + t.Description
}

// Duration 返回任务从创建到结束的耗时，未结束时返回 0。
func (t Task) Duration() time.Duration {
	if t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(t.CreatedAt)
}
