package runners

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/catalog"
)

const maxRecommendedTools = 3

// ToolRecommendation 是 toolsmith 推荐的现有工具。
type ToolRecommendation struct {
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	Category       catalog.ToolCategory `json:"category"`
	URL            string               `json:"url"`
	InstallCommand string               `json:"installCommand,omitempty"`
	Recommendation string               `json:"recommendation"`
}

// CustomTool 描述建议自研的工具。
type CustomTool struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Features            []string `json:"features"`
	DevelopmentPriority string   `json:"developmentPriority"`
}

// ToolsmithResult 是 toolsmith 任务的 result 字段。
type ToolsmithResult struct {
	Tools                    []ToolRecommendation `json:"tools"`
	CustomToolRecommendation CustomTool           `json:"customToolRecommendation"`
}

type toolsmithRunner struct {
	base
	tools catalog.ToolProvider
}

// Run 按与任务的相关度为工具目录打分，取前几名。
func (r *toolsmithRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}

	p := detectProfile(task.Text())
	result := ToolsmithResult{
		Tools:                    []ToolRecommendation{},
		CustomToolRecommendation: customTool(p),
	}
	if r.tools == nil {
		return r.complete(task, result), nil
	}

	tools, err := r.tools.ListTools(ctx)
	if err != nil {
		return task, err
	}

	type scored struct {
		tool  catalog.Tool
		score int
	}
	ranked := make([]scored, 0, len(tools))
	text := task.Text()
	for _, tool := range tools {
		ranked = append(ranked, scored{tool: tool, score: toolScore(tool, text)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	for _, item := range ranked {
		if len(result.Tools) >= maxRecommendedTools {
			break
		}
		result.Tools = append(result.Tools, ToolRecommendation{
			Name:           item.tool.Name,
			Description:    item.tool.Description,
			Category:       item.tool.Category,
			URL:            item.tool.GitHubURL,
			InstallCommand: item.tool.InstallCommand,
			Recommendation: recommendation(item.tool, item.score),
		})
	}
	return r.complete(task, result), nil
}

func toolScore(tool catalog.Tool, text string) int {
	score := 0
	lower := strings.ToLower(text)
	if strings.Contains(lower, strings.ToLower(tool.Name)) {
		score += 5
	}
	if strings.Contains(lower, string(tool.Category)) {
		score += 2
	}
	for _, tag := range tool.Tags {
		if strings.Contains(lower, strings.ReplaceAll(strings.ToLower(tag), "-", " ")) || strings.Contains(lower, strings.ToLower(tag)) {
			score += 2
		}
	}
	if mentions(text, tool.Description) {
		score++
	}
	// 通用扫描器在没有明确线索时优先。
	if tool.Category == catalog.ToolScanner || tool.Category == catalog.ToolFuzzer {
		score++
	}
	return score
}

func recommendation(tool catalog.Tool, score int) string {
	switch {
	case tool.IsCustom:
		return "Maintained in-house; extend it for this finding"
	case score >= 4:
		return "Highly recommended for this task"
	case score >= 2:
		return "Useful as a complementary check"
	default:
		return "General purpose baseline check"
	}
}

func customTool(p profile) CustomTool {
	priority := "Medium"
	if p.severity == "Critical" || p.severity == "High" {
		priority = "High"
	}
	return CustomTool{
		Name:                p.monitor.name,
		Description:         p.monitor.description,
		Features:            append([]string{}, p.monitor.features...),
		DevelopmentPriority: priority,
	}
}

// Implementation 是 coder 产出的实现方案。
type Implementation struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	Repository             string   `json:"repository"`
	Technologies           []string `json:"technologies"`
	Features               []string `json:"features"`
	CodeSnippet            string   `json:"codeSnippet"`
	DeploymentInstructions []string `json:"deploymentInstructions"`
}

// CoderResult 是 coder 任务的 result 字段。
type CoderResult struct {
	Implementation Implementation `json:"implementation"`
}

type coderRunner struct {
	base
	repository string
}

const monitorSnippet = `// %[1]s watches pending transactions sent to a contract.
func %[1]s(ctx context.Context, client *ethclient.Client, contract common.Address, alerts chan<- string) error {
	heads := make(chan *types.Header)
	sub, err := client.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case head := <-heads:
			block, err := client.BlockByHash(ctx, head.Hash())
			if err != nil {
				continue
			}
			for _, tx := range block.Transactions() {
				if tx.To() != nil && *tx.To() == contract {
					alerts <- fmt.Sprintf("%%s: %%s", %[2]q, tx.Hash())
				}
			}
		}
	}
}`

func (r *coderRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}

	p := detectProfile(task.Text())
	impl := Implementation{
		Name:         p.monitor.name,
		Description:  p.monitor.description,
		Repository:   strings.TrimSuffix(r.repository, "/") + "-" + slug(p.monitor.name),
		Technologies: []string{"Go", "go-ethereum", "Prometheus", "Telegram"},
		Features:     append([]string{}, p.monitor.features...),
		CodeSnippet:  fmt.Sprintf(monitorSnippet, "watch"+p.monitor.name, p.vulnerability),
		DeploymentInstructions: []string{
			"Clone the repository",
			"Set the RPC endpoint and alert channel in the config file",
			"Build with go build ./cmd/monitor",
			"Run the monitor as a systemd service or container",
		},
	}
	return r.complete(task, CoderResult{Implementation: impl}), nil
}

// GitHubAction 是一次仓库操作。
type GitHubAction struct {
	Type      string   `json:"type"`
	Message   string   `json:"message,omitempty"`
	Files     []string `json:"files,omitempty"`
	URL       string   `json:"url,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// GitHubSummary 汇总仓库发布动作。
type GitHubSummary struct {
	Repository string         `json:"repository"`
	Actions    []GitHubAction `json:"actions"`
	NextSteps  []string       `json:"nextSteps"`
}

// GitHubResult 是 github 任务的 result 字段。
type GitHubResult struct {
	GitHub GitHubSummary `json:"github"`
}

type githubRunner struct {
	base
	reports    catalog.ReportProvider
	repository string
}

// Run 为最新报告生成提交与发布动作；没有报告时以任务标题代替。
func (r *githubRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}

	title := task.Title
	published := ""
	reportDate := r.now()
	if r.reports != nil {
		reports, err := r.reports.ListReports(ctx)
		if err != nil {
			return task, err
		}
		if latest, ok := latestReport(reports); ok {
			title = latest.Title
			published = latest.PublishedURL
			reportDate = latest.CreatedAt
		}
	}

	name := slug(title)
	if published == "" {
		published = pagesURL(r.repository) + "/" + name
	}
	now := r.now()
	summary := GitHubSummary{
		Repository: r.repository,
		Actions: []GitHubAction{
			{
				Type:    "commit",
				Message: "Add report: " + title,
				Files:   []string{fmt.Sprintf("reports/%s-%s.md", reportDate.Format("2006-01-02"), name)},
			},
			{
				Type:      "publish",
				URL:       published,
				Timestamp: now.UTC().Format(time.RFC3339),
			},
		},
		NextSteps: []string{
			"Update repository README with latest findings",
			"Create GitHub issue for tracking mitigation progress",
			"Set up automated publishing workflow for future reports",
		},
	}
	return r.complete(task, GitHubResult{GitHub: summary}), nil
}

func latestReport(reports []catalog.Report) (catalog.Report, bool) {
	if len(reports) == 0 {
		return catalog.Report{}, false
	}
	latest := reports[0]
	for _, report := range reports[1:] {
		if report.CreatedAt.After(latest.CreatedAt) {
			latest = report
		}
	}
	return latest, true
}

// pagesURL 把 https://github.com/<org>/<repo> 转换为 GitHub Pages 地址。
func pagesURL(repository string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(repository, "https://github.com/"), "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return strings.TrimSuffix(repository, "/")
	}
	return fmt.Sprintf("https://%s.github.io/%s", parts[0], parts[1])
}
