package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/llm"
)

// Client 通过调用 Python 脚本实现大模型推理，请求经 stdin 以 JSON 传入。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if strings.TrimSpace(scriptPath) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type historyPayload struct {
	Agent   string `json:"agent"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type knowledgePayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	history := make([]historyPayload, 0, len(req.History))
	for _, h := range req.History {
		history = append(history, historyPayload{Agent: h.Agent, Title: h.Title, Summary: h.Summary})
	}
	knowledge := make([]knowledgePayload, 0, len(req.Knowledge))
	for _, k := range req.Knowledge {
		knowledge = append(knowledge, knowledgePayload{Title: k.Title, Content: k.Content})
	}

	encoded, err := json.Marshal(map[string]any{
		"title":       req.Title,
		"description": req.Description,
		"history":     history,
		"knowledge":   knowledge,
		"timestamp":   time.Now().Unix(),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求失败")
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, xerrors.FromContext(ctxErr, "Python 脚本执行被中断")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err,
			fmt.Sprintf("执行 Python 脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	var resp struct {
		Thought   string   `json:"thought"`
		Reply     string   `json:"reply"`
		NextSteps []string `json:"next_steps"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 Python 输出失败", xerrors.WithRetryable(false))
	}

	return &llm.Response{
		Thought:   resp.Thought,
		Reply:     resp.Reply,
		NextSteps: resp.NextSteps,
	}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)
