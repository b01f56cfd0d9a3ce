package job

import (
	stdErrors "errors"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
)

// Status 表示异步任务在队列中的状态。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request 是一次异步提交的内容；ID 非空时按 ID 幂等。
type Request struct {
	ID        string          `json:"id,omitempty"`
	AgentType string          `json:"agentType"`
	Task      agent.TaskInput `json:"task"`
}

// Job 描述排队执行的智能体任务。Task 保存最近一次派发得到的任务记录。
type Job struct {
	ID          string        `json:"id"`
	AgentType   agent.Variant `json:"agentType"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxRetries  int           `json:"maxRetries"`
	LastError   string        `json:"lastError,omitempty"`
	ErrorCode   string        `json:"errorCode,omitempty"`
	Task        *agent.Task   `json:"task,omitempty"`
	CreatedAt   int64         `json:"createdAt"`
	UpdatedAt   int64         `json:"updatedAt"`
}

// Input 还原提交时的任务内容。
func (j *Job) Input() agent.TaskInput {
	return agent.TaskInput{Title: j.Title, Description: j.Description}
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobFinished 表示任务已经结束，不再执行。
	ErrJobFinished = xerrors.New(CodeJobFinished, "job already finished", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound   xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "JOB_CONFLICT"
	CodeJobFinished   xerrors.Code = "JOB_FINISHED"
	CodeJobExhausted  xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobPublish    xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "JOB_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobFinished, xerrors.Attributes{
		Message:  "job already finished",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsSkippable 判断领取失败是否属于重复投递等可忽略的情况。
func IsSkippable(err error) bool {
	return stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobFinished) || stdErrors.Is(err, ErrJobExhausted)
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneJob(j *Job) *Job {
	clone := *j
	if j.Task != nil {
		task := *j.Task
		clone.Task = &task
	}
	return &clone
}
