package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"Web3-Sentinel/sdk/go/sentinel"
)

// 未指定 -addr 时启动一个内存假服务器演示调用流程。
func main() {
	addr := flag.String("addr", "", "Web3 Sentinel 服务地址，例如 http://localhost:8080")
	token := flag.String("token", "", "Bearer Token")
	flag.Parse()

	baseURL := *addr
	if baseURL == "" {
		srv := httptest.NewServer(demoMux())
		defer srv.Close()
		baseURL = srv.URL
	}

	client, err := sentinel.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAccessToken(*token)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agents, err := client.ListAgents(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, a := range agents {
		fmt.Printf("agent %-10s %s\n", a.ID, a.Name)
	}

	task, err := client.Dispatch(ctx, sentinel.DispatchRequest{
		AgentType: "analyzer",
		Task:      sentinel.TaskInput{Title: "Vault review", Description: "withdraw() calls out before updating balances"},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("task %s finished with status %s: %s\n", task.ID, task.Status, task.Result)

	job, err := client.SubmitJob(ctx, sentinel.DispatchRequest{AgentType: "scraper", Task: sentinel.TaskInput{Title: "Nightly sweep"}})
	if err != nil {
		log.Fatal(err)
	}
	job, err = client.WaitForJob(ctx, job.ID, 200*time.Millisecond)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("job %s is %s after %d attempt(s)\n", job.ID, job.Status, job.Attempts)
}

func demoMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"agents": []sentinel.Agent{
			{ID: "analyzer", Name: "Contract Analyzer", Status: "idle"},
			{ID: "scraper", Name: "Web Scraper", Status: "idle"},
		}})
	})
	mux.HandleFunc("POST /api/agents", func(w http.ResponseWriter, r *http.Request) {
		var req sentinel.DispatchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		now := time.Now().UTC()
		_ = json.NewEncoder(w).Encode(map[string]any{"task": sentinel.Task{
			ID:          "task-demo",
			AgentID:     req.AgentType,
			Title:       req.Task.Title,
			Status:      "completed",
			CreatedAt:   now,
			CompletedAt: &now,
			Result:      json.RawMessage(`{"riskLevel":"high"}`),
		}})
	})
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"job": sentinel.Job{ID: "job-demo", Status: "queued"}})
	})
	mux.HandleFunc("GET /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"job": sentinel.Job{ID: r.PathValue("id"), Status: "succeeded", Attempts: 1}})
	})
	return mux
}
