package api

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/storage/history"
)

// MissingDispatchFieldsMessage 是派发请求缺少 agentType 或 task 时的提示。
const MissingDispatchFieldsMessage = "Missing required fields: agentType and task"

// dispatchRequest 是 POST /api/agents 的请求体。同步派发的任务 ID 总由派发器生成。
type dispatchRequest struct {
	AgentType string          `json:"agentType"`
	Task      agent.TaskInput `json:"task"`
}

// submitRequest 是 POST /api/tasks 的请求体，id 用于幂等提交。
type submitRequest struct {
	ID string `json:"id,omitempty"`
	dispatchRequest
}

func invalidAgentMessage(agentType string) string {
	return fmt.Sprintf("Invalid agent type: %s", agentType)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.deps.Agents.Descriptors()})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	descriptor, err := s.deps.Agents.Descriptor(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Agent not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": descriptor})
}

// decodeDispatch 按 schema 校验请求体并解码到 dst。字段缺失优先于类型校验，
// 未知智能体类型在任何执行器运行之前被拒绝。
func (s *Server) decodeDispatch(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	raw, doc, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	fields, ok := doc.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, MissingDispatchFieldsMessage)
		return false
	}
	if missing(fields, "agentType") || missing(fields, "task") {
		writeError(w, http.StatusBadRequest, MissingDispatchFieldsMessage)
		return false
	}
	agentType, isString := fields["agentType"].(string)
	if err := validateDocument(schema, doc); err != nil {
		if !isString || !s.knownAgent(agentType) {
			writeError(w, http.StatusBadRequest, invalidAgentMessage(fmt.Sprint(fields["agentType"])))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if !s.knownAgent(agentType) {
		writeError(w, http.StatusBadRequest, invalidAgentMessage(agentType))
		return false
	}
	return true
}

func (s *Server) knownAgent(agentType string) bool {
	_, err := s.deps.Agents.Descriptor(agentType)
	return err == nil
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if !s.decodeDispatch(w, r, s.schemas.dispatch, &req) {
		return
	}

	task, err := s.deps.Dispatcher.Dispatch(r.Context(), req.AgentType, req.Task)
	if err != nil {
		var unknown *agent.UnknownVariantError
		if stdErrors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, invalidAgentMessage(req.AgentType))
			return
		}
		s.logger.Warn("智能体执行失败",
			slog.String("agent", req.AgentType),
			slog.Any("error", err),
		)
		payload := map[string]any{
			"error": "Failed to run agent",
			"code":  string(agent.CodeExecution),
		}
		if task != nil {
			payload["task"] = task
		}
		writeJSON(w, http.StatusInternalServerError, payload)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "History is not configured")
		return
	}
	query := r.URL.Query()
	filter := history.Filter{}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("agent")); raw != "" {
		variant, err := agent.ParseVariant(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, invalidAgentMessage(raw))
			return
		}
		filter.Agent = variant
	}

	tasks, err := s.deps.History.ListLatest(r.Context(), filter)
	if err != nil {
		s.logger.Error("读取任务历史失败", slog.Any("error", err))
		writeCodedError(w, err, "Failed to fetch history")
		return
	}
	if tasks == nil {
		tasks = []agent.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}
