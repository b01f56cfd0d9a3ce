package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Web3-Sentinel/internal/auth"
	"Web3-Sentinel/internal/observability/metrics"
)

func TestRateLimiter(t *testing.T) {
	h := newHarness(t, Config{RateLimit: 1, RateBurst: 2}, nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	h.server.limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if rec := h.do(t, http.MethodGet, "/api/agents", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := h.do(t, http.MethodGet, "/api/agents", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/api/agents", nil, "X-Forwarded-For", "10.0.0.9"); rec.Code != http.StatusOK {
		t.Fatalf("other clients should have their own bucket, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("health checks are not rate limited, got %d", rec.Code)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	manager, err := auth.NewTokenManager(auth.Config{Secret: "s3cret"})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	h := newHarness(t, Config{}, func(d *Dependencies) { d.Auth = manager })

	if rec := h.do(t, http.MethodGet, "/api/agents", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	reader, _ := manager.Issue(&auth.Subject{Username: "ops", Permissions: []string{auth.PermissionRead}})
	if rec := h.do(t, http.MethodGet, "/api/agents", nil, "Authorization", "Bearer "+reader); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/api/agents", map[string]any{"agentType": "coder", "task": map[string]any{}}, "Authorization", "Bearer "+reader)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without dispatch permission, got %d", rec.Code)
	}
	if h.totalCalls() != 0 {
		t.Fatal("runner must not run for rejected requests")
	}
	if rec := h.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should be public, got %d", rec.Code)
	}
}

func TestCompression(t *testing.T) {
	h := newHarness(t, Config{Compress: true}, nil)
	rec := h.do(t, http.MethodGet, "/api/reports", nil, "Accept-Encoding", "gzip")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers %v", rec.Header())
	}
}

func TestMetricsAndHealth(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, Config{}, func(d *Dependencies) {
		d.Metrics = m
		d.Checks = map[string]HealthCheck{
			"queue": func(context.Context) error { return nil },
		}
	})
	h.do(t, http.MethodGet, "/api/agents", nil)

	rec := h.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "sentinel_http_requests_total") {
		t.Fatalf("expected metrics output, got %d", rec.Code)
	}

	health := decode(t, h.do(t, http.MethodGet, "/healthz", nil))
	if health["status"] != "ok" || health["agents"] != float64(8) {
		t.Fatalf("unexpected health %v", health)
	}
}

func TestHealthDegraded(t *testing.T) {
	h := newHarness(t, Config{}, func(d *Dependencies) {
		d.Checks = map[string]HealthCheck{
			"mysql": func(context.Context) error { return errors.New("connection refused") },
		}
	})
	rec := h.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	checks := decode(t, rec)["checks"].(map[string]any)
	if checks["mysql"] != "connection refused" {
		t.Fatalf("unexpected checks %v", checks)
	}
}

func TestUnknownRouteIsJSON(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	rec := h.do(t, http.MethodGet, "/api/nothing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	decode(t, rec)
	rec = h.do(t, http.MethodDelete, "/api/agents", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	decode(t, rec)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	handler := h.server.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if decode(t, rec)["error"] == "" {
		t.Fatal("expected JSON error body")
	}
}
