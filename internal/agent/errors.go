package agent

import (
	"fmt"

	xerrors "Web3-Sentinel/internal/errors"
)

const (
	CodeUnknownVariant xerrors.Code = "UNKNOWN_AGENT_VARIANT"
	CodeExecution      xerrors.Code = "AGENT_EXECUTION_FAILED"
	CodeRunnerPanic    xerrors.Code = "AGENT_RUNNER_PANIC"
)

// ErrUnknownVariant 可用于 errors.Is 判断是否为未知变体。
var ErrUnknownVariant = xerrors.New(CodeUnknownVariant, "unknown agent variant")

func init() {
	xerrors.Register(CodeUnknownVariant, xerrors.Attributes{
		Message:  "unknown agent variant",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeExecution, xerrors.Attributes{
		Message:  "agent execution failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeRunnerPanic, xerrors.Attributes{
		Message:  "agent runner panicked",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// ValidationError 表示请求字段缺失或格式不正确。
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Code 实现 xerrors.Coder。
func (e *ValidationError) Code() xerrors.Code { return xerrors.CodeValidation }

// UnknownVariantError 表示请求的变体不在注册集合内。
type UnknownVariantError struct {
	Variant string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown agent variant %q", e.Variant)
}

// Code 实现 xerrors.Coder。
func (e *UnknownVariantError) Code() xerrors.Code { return CodeUnknownVariant }

// Is 使 errors.Is(err, ErrUnknownVariant) 成立。
func (e *UnknownVariantError) Is(target error) bool {
	if target == ErrUnknownVariant {
		return true
	}
	_, ok := target.(*UnknownVariantError)
	return ok
}

// ExecutionError 表示执行器本身失败，包括报错、panic、超时与取消。
type ExecutionError struct {
	Variant Variant
	TaskID  string
	Cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s failed on task %s: %v", e.Variant, e.TaskID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Code 实现 xerrors.Coder。
func (e *ExecutionError) Code() xerrors.Code { return CodeExecution }

// Retryable 取决于根因，派发器本身从不重试。
func (e *ExecutionError) Retryable() bool {
	return xerrors.RetryableError(e.Cause)
}

// PanicError 承载执行器 panic 时的现场。
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("runner panic: %v", e.Value)
}

// Code 实现 xerrors.Coder。
func (e *PanicError) Code() xerrors.Code { return CodeRunnerPanic }
