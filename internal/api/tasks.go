package api

import (
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/job"
)

func (s *Server) jobsEnabled(w http.ResponseWriter) bool {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Async tasks are not configured")
		return false
	}
	return true
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled(w) {
		return
	}
	var req submitRequest
	if !s.decodeDispatch(w, r, s.schemas.submit, &req) {
		return
	}

	submitted, err := s.deps.Jobs.Submit(r.Context(), job.Request{
		ID:        req.ID,
		AgentType: req.AgentType,
		Task:      req.Task,
	})
	if err != nil {
		if stdErrors.Is(err, agent.ErrUnknownVariant) {
			writeError(w, http.StatusBadRequest, invalidAgentMessage(req.AgentType))
			return
		}
		s.logger.Error("提交异步任务失败", slog.String("agent", req.AgentType), slog.Any("error", err))
		writeCodedError(w, err, "Failed to submit task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": submitted})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled(w) {
		return
	}
	id := strings.TrimSpace(mux.Vars(r)["id"])
	found, err := s.deps.Jobs.Get(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "Task not found: "+id)
			return
		}
		writeCodedError(w, err, "Failed to fetch task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": found})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled(w) {
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := s.deps.Jobs.List(r.Context(), opts...)
	if err != nil {
		writeCodedError(w, err, "Failed to list tasks")
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled(w) {
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.deps.Jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeCodedError(w, err, "Failed to compute task stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// parseListOptions 把查询参数转换为 job.ListOption。
// 支持 limit、offset、status、agent、since、until、order 与 q。
func parseListOptions(r *http.Request) ([]job.ListOption, error) {
	query := r.URL.Query()
	var opts []job.ListOption

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, &bodyError{message: "limit must be a positive integer"}
		}
		opts = append(opts, job.WithLimit(limit))
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, &bodyError{message: "offset must be a non-negative integer"}
		}
		opts = append(opts, job.WithOffset(offset))
	}

	var statuses []job.Status
	for _, raw := range splitValues(query["status"]) {
		status := job.Status(strings.ToLower(raw))
		if !job.IsValidStatus(status) {
			return nil, &bodyError{message: "Invalid status: " + raw}
		}
		statuses = append(statuses, status)
	}
	if len(statuses) > 0 {
		opts = append(opts, job.WithStatuses(statuses...))
	}

	var agents []agent.Variant
	for _, raw := range splitValues(query["agent"]) {
		variant, err := agent.ParseVariant(raw)
		if err != nil {
			return nil, &bodyError{message: invalidAgentMessage(raw)}
		}
		agents = append(agents, variant)
	}
	if len(agents) > 0 {
		opts = append(opts, job.WithAgents(agents...))
	}

	for _, bound := range []struct {
		name  string
		apply func(time.Time) job.ListOption
	}{
		{"since", job.WithUpdatedSince},
		{"until", job.WithUpdatedUntil},
	} {
		raw := strings.TrimSpace(query.Get(bound.name))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &bodyError{message: bound.name + " must be an RFC3339 timestamp"}
		}
		opts = append(opts, bound.apply(ts))
	}

	switch strings.ToLower(strings.TrimSpace(query.Get("order"))) {
	case "", "desc":
	case "asc":
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	default:
		return nil, &bodyError{message: "order must be asc or desc"}
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		opts = append(opts, job.WithQuery(q))
	}
	return opts, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
