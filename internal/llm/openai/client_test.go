package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content": `{"thought":"reentrancy suspected","reply":"add a guard","next_steps":["write tests"]}`,
				}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{
		Title:       "Vault review",
		Description: "withdraw sends ETH before updating balances",
		History:     []llm.HistoryEntry{{Agent: "analyzer", Title: "Vault scan", Summary: "critical reentrancy"}},
		Knowledge:   []llm.KnowledgeCard{{Title: "Reentrancy", Content: "apply checks-effects-interactions"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Reply != "add a guard" || resp.Thought != "reentrancy suspected" || len(resp.NextSteps) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body.Model != defaultModelName || len(captured.Body.Messages) != 2 {
		t.Fatalf("unexpected request body: %+v", captured.Body)
	}
	prompt := captured.Body.Messages[1].Content
	for _, want := range []string{"Vault review", "critical reentrancy", "checks-effects-interactions"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt is missing %q:\n%s", want, prompt)
		}
	}
}

func TestGeneratePlainTextReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "use a multisig"}}},
		})
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{Title: "keys"})
	if err != nil || resp.Reply != "use a multisig" {
		t.Fatalf("unexpected result %+v %v", resp, err)
	}
}

func TestGenerateHTTPError(t *testing.T) {
	cases := []struct {
		status    int
		code      xerrors.Code
		retryable bool
	}{
		{http.StatusBadRequest, xerrors.CodeUpstreamFailure, false},
		{http.StatusTooManyRequests, xerrors.CodeRateLimited, true},
		{http.StatusBadGateway, xerrors.CodeUpstreamFailure, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", tc.status)
		}))

		client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		client.httpClient = srv.Client()

		_, err = client.Generate(context.Background(), llm.Request{Title: "test"})
		srv.Close()
		if xerrors.CodeOf(err) != tc.code {
			t.Fatalf("status %d: expected %s, got %v", tc.status, tc.code, err)
		}
		if xerrors.RetryableError(err) != tc.retryable {
			t.Fatalf("status %d: unexpected retryable flag", tc.status)
		}
	}
}
