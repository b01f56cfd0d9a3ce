package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	maxContextItems  = 5
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Generate 调用 OpenAI 生成结构化的安全建议。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 OpenAI 请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, xerrors.FromContext(ctxErr, "请求 OpenAI 被中断")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 响应内容为空")
	}

	var structured struct {
		Thought   string   `json:"thought"`
		Reply     string   `json:"reply"`
		NextSteps []string `json:"next_steps"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		structured.Reply = content
		structured.Thought = ""
		structured.NextSteps = nil
	}
	if strings.TrimSpace(structured.Reply) == "" {
		structured.Reply = content
	}

	return &llm.Response{
		Thought:   structured.Thought,
		Reply:     structured.Reply,
		NextSteps: structured.NextSteps,
	}, nil
}

// statusError 区分限流、服务端故障与请求本身的问题，只有前两者可重试。
func statusError(status int, body string) error {
	message := fmt.Sprintf("OpenAI 返回错误状态 %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, message)
	case status >= http.StatusInternalServerError:
		return xerrors.New(xerrors.CodeUpstreamFailure, message)
	default:
		return xerrors.New(xerrors.CodeUpstreamFailure, message, xerrors.WithRetryable(false))
	}
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	body := map[string]any{
		"model": c.model,
		"messages": []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		"temperature": 0.2,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 OpenAI 请求失败")
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are Web3 Sentinel, a blockchain security consultant. " +
	"Always respond with a compact JSON object: " +
	"{\"thought\": string, \"reply\": string, \"next_steps\": string[]}. " +
	"Keep the reply actionable and list concrete follow-up steps."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## Task\n")
	builder.WriteString(fmt.Sprintf("Title: %s\n", strings.TrimSpace(req.Title)))
	if description := strings.TrimSpace(req.Description); description != "" {
		builder.WriteString(fmt.Sprintf("Description: %s\n", description))
	}

	if len(req.History) > 0 {
		builder.WriteString("\n## Recent agent activity\n")
		for idx, entry := range req.History {
			if idx >= maxContextItems {
				break
			}
			builder.WriteString(fmt.Sprintf("[%d] %s | %s | %s\n",
				idx+1,
				strings.TrimSpace(entry.Agent),
				strings.TrimSpace(entry.Title),
				truncate(entry.Summary),
			))
		}
	}

	if len(req.Knowledge) > 0 {
		builder.WriteString("\n## Knowledge base\n")
		for idx, card := range req.Knowledge {
			if idx >= maxContextItems {
				break
			}
			builder.WriteString(fmt.Sprintf("[%d] %s: %s\n",
				idx+1,
				strings.TrimSpace(card.Title),
				truncate(card.Content),
			))
		}
	}

	builder.WriteString("\nAnswer the task using the context above.")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if runes := []rune(text); len(runes) > 80 {
		return string(runes[:80]) + "..."
	}
	return text
}

var _ llm.Client = (*Client)(nil)
