package runners

import (
	"context"
	"log/slog"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/knowledge"
	"Web3-Sentinel/internal/llm"
	"Web3-Sentinel/internal/storage/history"
	"Web3-Sentinel/pkg/logger"
)

const historyContextSize = 5

// LLMResult 是 llm 任务的 result 字段。
type LLMResult struct {
	Response  string   `json:"response"`
	Thought   string   `json:"thought,omitempty"`
	NextSteps []string `json:"nextSteps"`
}

var fallbackReply = LLMResult{
	Response: "Analysis complete. I've identified potential security concerns and coordinated with other agents for further investigation.",
	NextSteps: []string{
		"Deploy Scraper Agent to gather more information",
		"Initiate Analyzer Agent for technical assessment",
		"Prepare preliminary report",
	},
}

type llmRunner struct {
	base
	client    llm.Client
	knowledge knowledge.Provider
	history   history.Repository
}

// Run 组合最近的任务历史与知识库片段后调用大模型；未配置大模型时返回预置答复。
func (r *llmRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}
	if r.client == nil {
		reply := fallbackReply
		reply.NextSteps = append([]string{}, fallbackReply.NextSteps...)
		return r.complete(task, reply), nil
	}

	req := llm.Request{
		Title:       task.Title,
		Description: task.Description,
		History:     r.recentHistory(ctx),
	}
	if r.knowledge != nil {
		for _, snippet := range r.knowledge.Query(task.Title, task.Description) {
			req.Knowledge = append(req.Knowledge, llm.KnowledgeCard{Title: snippet.Title, Content: snippet.Content})
		}
	}

	resp, err := r.client.Generate(ctx, req)
	if err != nil {
		return task, err
	}
	result := LLMResult{Response: resp.Reply, Thought: resp.Thought, NextSteps: resp.NextSteps}
	if result.NextSteps == nil {
		result.NextSteps = []string{}
	}
	return r.complete(task, result), nil
}

// recentHistory 读取历史失败时只记录日志，不影响本次推理。
func (r *llmRunner) recentHistory(ctx context.Context) []llm.HistoryEntry {
	if r.history == nil {
		return nil
	}
	tasks, err := r.history.ListLatest(ctx, history.Filter{Limit: historyContextSize})
	if err != nil {
		logger.Named("runner.llm").Warn("读取任务历史失败", slog.Any("error", err))
		return nil
	}
	entries := make([]llm.HistoryEntry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, llm.HistoryEntry{
			Agent:     string(t.AgentID),
			Title:     t.Title,
			Summary:   summarize(t),
			CreatedAt: t.CreatedAt.Unix(),
		})
	}
	return entries
}
