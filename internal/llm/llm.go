package llm

import "context"

// Request 描述发送给大模型的安全咨询上下文。
type Request struct {
	Title       string
	Description string
	History     []HistoryEntry
	Knowledge   []KnowledgeCard
}

// Response 是大模型推理得到的结构化输出。
type Response struct {
	Thought   string
	Reply     string
	NextSteps []string
}

// KnowledgeCard 表示提供给大模型的知识切片，帮助生成更加准确的回复。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HistoryEntry 描述了一次已完成的智能体任务，用于为大模型提供上下文记忆。
type HistoryEntry struct {
	Agent     string
	Title     string
	Summary   string
	CreatedAt int64
}
