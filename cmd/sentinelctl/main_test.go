package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"Web3-Sentinel/internal/auth"
	"Web3-Sentinel/sdk/go/sentinel"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAgentsListTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"agents": []sentinel.Agent{
			{ID: "analyzer", Name: "Contract Analyzer", Status: "idle", Capabilities: []string{"static-analysis"}},
		}})
	}))
	defer srv.Close()

	out, err := execute(t, "--addr", srv.URL, "agents", "list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "analyzer") || !strings.Contains(out, "static-analysis") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestDispatchSendsTitleAndToken(t *testing.T) {
	var got sentinel.DispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"task": sentinel.Task{ID: "t-1", AgentID: got.AgentType, Status: "completed"}})
	}))
	defer srv.Close()

	out, err := execute(t, "--addr", srv.URL, "--token", "abc", "-o", "json", "dispatch", "scraper", "--title", "Nightly sweep")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got.AgentType != "scraper" || got.Task.Title != "Nightly sweep" {
		t.Fatalf("unexpected request %+v", got)
	}
	var task sentinel.Task
	if err := json.Unmarshal([]byte(out), &task); err != nil || task.ID != "t-1" {
		t.Fatalf("unexpected json output %q: %v", out, err)
	}
}

func TestTasksListRejectsBadSince(t *testing.T) {
	if _, err := execute(t, "--addr", "http://127.0.0.1:1", "tasks", "list", "--since", "yesterday"); err == nil {
		t.Fatal("expected invalid --since error")
	}
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("SENTINEL_JWT_SECRET", "cli-secret")
	configPath := filepath.Join(t.TempDir(), "missing.json")

	out, err := execute(t, "token", "--config", configPath, "--user", "ops", "--permission", auth.PermissionDispatch)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	manager, err := auth.NewTokenManager(auth.Config{Secret: "cli-secret", Issuer: "web3-sentinel"})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	subject, err := manager.Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject.Username != "ops" || !subject.HasPermission(auth.PermissionDispatch) {
		t.Fatalf("unexpected subject %+v", subject)
	}
}

func TestTokenIssueWithoutSecret(t *testing.T) {
	t.Setenv("SENTINEL_JWT_SECRET", "")
	configPath := filepath.Join(t.TempDir(), "missing.json")
	if _, err := execute(t, "token", "--config", configPath); err == nil {
		t.Fatal("expected error when no secret is configured")
	}
}
