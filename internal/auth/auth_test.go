package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/pkg/logger"
)

func newManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager(Config{Secret: "test-secret", Issuer: "sentinel-test", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager(Config{}); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager(t)
	token, err := m.Issue(&Subject{Username: "alice", Roles: []string{"analyst"}, Permissions: []string{PermissionRead}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := m.Authenticate("Bearer " + token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Username != "alice" || !subject.HasPermission(PermissionRead) || subject.HasPermission(PermissionDispatch) {
		t.Fatalf("unexpected subject %+v", subject)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	m := newManager(t)
	issuedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issuedAt }
	token, err := m.Issue(&Subject{Username: "bob"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	m.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := m.Verify(token); xerrors.CodeOf(err) != xerrors.CodeUnauthorized {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	other, _ := NewTokenManager(Config{Secret: "other-secret", Issuer: "sentinel-test"})
	foreign, _ := other.Issue(&Subject{Username: "mallory"})
	if _, err := newManager(t).Verify(foreign); err == nil {
		t.Fatal("expected signature mismatch")
	}
	if _, err := m.Authenticate("Basic abc"); err != ErrMissingToken {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	m := newManager(t)
	reader, _ := m.Issue(&Subject{Username: "reader", Permissions: []string{PermissionRead}})
	dispatcher, _ := m.Issue(&Subject{Username: "dispatcher", Permissions: []string{PermissionDispatch}})
	admin, _ := m.Issue(&Subject{Username: "admin", Permissions: []string{"*"}})

	var seen string
	handler := m.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {PermissionRead},
			http.MethodPost: {PermissionDispatch},
		},
		Routes: []RouteRule{
			{Method: http.MethodPost, Prefix: "/api/threats", Permissions: []string{PermissionCatalog}},
		},
		PublicPaths: []string{"/healthz"},
		Audit:       logger.Discard(),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject := SubjectFromContext(r.Context()); subject != nil {
			seen = subject.Username
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		method, path, token string
		status              int
	}{
		{http.MethodGet, "/healthz", "", http.StatusNoContent},
		{http.MethodGet, "/api/agents", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/agents", reader, http.StatusNoContent},
		{http.MethodPost, "/api/agents", reader, http.StatusForbidden},
		{http.MethodPost, "/api/agents", dispatcher, http.StatusNoContent},
		{http.MethodPost, "/api/threats", dispatcher, http.StatusForbidden},
		{http.MethodGet, "/api/threats", admin, http.StatusNoContent},
		{http.MethodPost, "/api/threats", admin, http.StatusNoContent},
		{http.MethodPost, "/api/agents", admin, http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
	}
	if seen != "admin" {
		t.Fatalf("subject not propagated, last seen %q", seen)
	}
}

func TestNilManagerPassesThrough(t *testing.T) {
	var m *TokenManager
	handler := m.Middleware(MiddlewareConfig{Audit: logger.Discard()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
