package api

import (
	"encoding/json"
	"net/http"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/auth"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/job"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeCodedError 输出带错误码的失败响应，状态码由错误码决定。
func writeCodedError(w http.ResponseWriter, err error, message string) {
	code := xerrors.CodeOf(err)
	if message == "" {
		message = err.Error()
	}
	writeJSON(w, statusFor(code), map[string]any{
		"error": message,
		"code":  string(code),
	})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeValidation, agent.CodeUnknownVariant:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case auth.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeNotFound, job.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, job.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure, xerrors.CodeQueueFailure, xerrors.CodeStorageFailure, job.CodeJobPublish:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
