package api

import (
	"net/http"
	"testing"

	"Web3-Sentinel/internal/job"
)

func newJobHarness(t *testing.T) *harness {
	t.Helper()
	queue := job.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	return newHarness(t, Config{}, func(d *Dependencies) {
		d.Jobs = job.NewService(d.Agents, job.NewMemoryStore(), queue, 3)
	})
}

func TestSubmitAndFetchJob(t *testing.T) {
	h := newJobHarness(t)

	rec := h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"id":        "job-1",
		"agentType": "researcher",
		"task":      map[string]any{"title": "flash loans"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	submitted := decode(t, rec)["job"].(map[string]any)
	if submitted["id"] != "job-1" || submitted["status"] != string(job.StatusQueued) || submitted["agentType"] != "researcher" {
		t.Fatalf("unexpected job %v", submitted)
	}

	rec = h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"id":        "job-1",
		"agentType": "researcher",
		"task":      map[string]any{"title": "flash loans"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("identical resubmission should be accepted, got %d", rec.Code)
	}
	if again := decode(t, rec)["job"].(map[string]any); again["id"] != "job-1" || again["title"] != "flash loans" {
		t.Fatalf("resubmission with the same id should return the stored job, got %v", again)
	}

	rec = h.do(t, http.MethodGet, "/api/tasks/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode(t, rec)["job"].(map[string]any)["id"]; got != "job-1" {
		t.Fatalf("unexpected job id %v", got)
	}

	if rec := h.do(t, http.MethodGet, "/api/tasks/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if calls := h.totalCalls(); calls != 0 {
		t.Fatalf("submission must not run agents inline, got %d calls", calls)
	}
}

func TestSubmitJobConflictingResubmission(t *testing.T) {
	h := newJobHarness(t)
	rec := h.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"id":        "job-7",
		"agentType": "researcher",
		"task":      map[string]any{"title": "bridge exploits"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	cases := []map[string]any{
		{"id": "job-7", "agentType": "analyzer", "task": map[string]any{"title": "bridge exploits"}},
		{"id": "job-7", "agentType": "researcher", "task": map[string]any{"title": "oracle manipulation"}},
		{"id": "job-7", "agentType": "researcher", "task": map[string]any{"title": "bridge exploits", "description": "extra"}},
	}
	for i, body := range cases {
		rec := h.do(t, http.MethodPost, "/api/tasks", body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("case %d: expected 409, got %d: %s", i, rec.Code, rec.Body.String())
		}
		if code := decode(t, rec)["code"]; code != string(job.CodeJobConflict) {
			t.Fatalf("case %d: expected JOB_CONFLICT, got %v", i, code)
		}
	}

	stored := decode(t, h.do(t, http.MethodGet, "/api/tasks/job-7", nil))["job"].(map[string]any)
	if stored["agentType"] != "researcher" || stored["title"] != "bridge exploits" {
		t.Fatalf("stored job must be unchanged, got %v", stored)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	h := newJobHarness(t)

	rec := h.do(t, http.MethodPost, "/api/tasks", map[string]any{})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != MissingDispatchFieldsMessage {
		t.Fatalf("expected missing fields error, got %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodPost, "/api/tasks", map[string]any{"agentType": "nope", "task": map[string]any{}})
	if rec.Code != http.StatusBadRequest || decode(t, rec)["error"] != "Invalid agent type: nope" {
		t.Fatalf("expected invalid agent error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestListJobsAndStats(t *testing.T) {
	h := newJobHarness(t)
	for _, variant := range []string{"analyzer", "analyzer", "coder"} {
		rec := h.do(t, http.MethodPost, "/api/tasks", map[string]any{"agentType": variant, "task": map[string]any{"title": variant}})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("submit %s: %d", variant, rec.Code)
		}
	}

	rec := h.do(t, http.MethodGet, "/api/tasks?agent=analyzer&status=queued&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if jobs := decode(t, rec)["jobs"].([]any); len(jobs) != 2 {
		t.Fatalf("expected 2 analyzer jobs, got %d", len(jobs))
	}

	rec = h.do(t, http.MethodGet, "/api/tasks/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	stats := decode(t, rec)["stats"].(map[string]any)
	if stats["total"] != float64(3) || stats["queued"] != float64(3) {
		t.Fatalf("unexpected stats %v", stats)
	}

	for _, query := range []string{"status=done", "agent=nope", "limit=x", "offset=-1", "since=yesterday", "order=sideways"} {
		if rec := h.do(t, http.MethodGet, "/api/tasks?"+query, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rec.Code)
		}
	}
}

func TestJobsNotConfigured(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	rec := h.do(t, http.MethodPost, "/api/tasks", map[string]any{"agentType": "coder", "task": map[string]any{}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
