package runners

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/catalog"
	"Web3-Sentinel/internal/knowledge"
	"Web3-Sentinel/internal/llm"
	"Web3-Sentinel/internal/storage/history"
	"Web3-Sentinel/internal/web3"
)

const defaultRepository = "https://github.com/web3-sentinel/security-reports"

// latencies 模拟各角色的处理耗时，仅在开启 SimulateLatency 时生效。
var latencies = map[agent.Variant]time.Duration{
	agent.VariantLLM:        2000 * time.Millisecond,
	agent.VariantScraper:    3000 * time.Millisecond,
	agent.VariantAnalyzer:   4000 * time.Millisecond,
	agent.VariantResearcher: 3500 * time.Millisecond,
	agent.VariantArchitect:  3800 * time.Millisecond,
	agent.VariantToolsmith:  2800 * time.Millisecond,
	agent.VariantCoder:      5000 * time.Millisecond,
	agent.VariantGitHub:     2500 * time.Millisecond,
}

// Deps 汇总执行器依赖，所有字段都可以为空。
type Deps struct {
	LLM       llm.Client
	Chain     web3.Client
	Knowledge knowledge.Provider
	Threats   catalog.ThreatProvider
	Reports   catalog.ReportProvider
	Tools     catalog.ToolProvider
	History   history.Repository

	// Repository 是 github 执行器发布报告的仓库地址。
	Repository      string
	SimulateLatency bool
	Now             func() time.Time
}

type base struct {
	variant  agent.Variant
	simulate bool
	now      func() time.Time
}

func (b base) wait(ctx context.Context) error {
	if !b.simulate {
		return ctx.Err()
	}
	timer := time.NewTimer(latencies[b.variant])
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b base) complete(task agent.Task, result any) agent.Task {
	at := b.now()
	task.Status = agent.StatusCompleted
	task.CompletedAt = &at
	task.Result = result
	return task
}

// New 按依赖构造全部执行器。
func New(deps Deps) agent.Runners {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Knowledge == nil {
		if provider, err := knowledge.DefaultProvider(3); err == nil {
			deps.Knowledge = provider
		}
	}
	if strings.TrimSpace(deps.Repository) == "" {
		deps.Repository = defaultRepository
	}
	b := func(v agent.Variant) base {
		return base{variant: v, simulate: deps.SimulateLatency, now: deps.Now}
	}
	return agent.Runners{
		LLM:        &llmRunner{base: b(agent.VariantLLM), client: deps.LLM, knowledge: deps.Knowledge, history: deps.History},
		Scraper:    &scraperRunner{base: b(agent.VariantScraper), threats: deps.Threats},
		Analyzer:   &analyzerRunner{base: b(agent.VariantAnalyzer), chain: deps.Chain},
		Researcher: &researcherRunner{base: b(agent.VariantResearcher), knowledge: deps.Knowledge},
		Architect:  &architectRunner{base: b(agent.VariantArchitect)},
		Toolsmith:  &toolsmithRunner{base: b(agent.VariantToolsmith), tools: deps.Tools},
		Coder:      &coderRunner{base: b(agent.VariantCoder), repository: deps.Repository},
		GitHub:     &githubRunner{base: b(agent.VariantGitHub), reports: deps.Reports, repository: deps.Repository},
	}
}

// terms 把文本切分为小写词。
func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

// mentions 判断 text 是否包含 fields 中任意一个长度不小于 5 的词。
func mentions(text string, fields ...string) bool {
	lower := strings.ToLower(text)
	for _, field := range fields {
		for _, term := range terms(field) {
			if len(term) >= 5 && strings.Contains(lower, term) {
				return true
			}
		}
	}
	return false
}

func slug(title string) string {
	return strings.Join(terms(title), "-")
}

// summarize 为历史任务生成简短摘要。
func summarize(task agent.Task) string {
	if task.Error != "" {
		return "failed: " + task.Error
	}
	if task.Result == nil {
		return string(task.Status)
	}
	encoded, err := json.Marshal(task.Result)
	if err != nil {
		return string(task.Status)
	}
	text := string(encoded)
	if runes := []rune(text); len(runes) > 160 {
		text = string(runes[:160]) + "..."
	}
	return text
}
