package runners

import (
	"context"
	"strings"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/catalog"
	"Web3-Sentinel/internal/knowledge"
)

// Source 是情报来源。
type Source struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ThreatSummary 是 scraper 汇总的一条威胁。
type ThreatSummary struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Severity catalog.Severity `json:"severity"`
	Source   string           `json:"source"`
	Summary  string           `json:"summary"`
}

// ScraperResult 是 scraper 任务的 result 字段。
type ScraperResult struct {
	Sources []Source        `json:"sources"`
	Threats []ThreatSummary `json:"threats"`
}

type scraperRunner struct {
	base
	threats catalog.ThreatProvider
}

// Run 从威胁目录中筛选与任务相关的条目，没有命中时返回全部条目。
func (r *scraperRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}

	result := ScraperResult{Sources: []Source{}, Threats: []ThreatSummary{}}
	if r.threats == nil {
		return r.complete(task, result), nil
	}

	threats, err := r.threats.ListThreats(ctx)
	if err != nil {
		return task, err
	}

	text := task.Text()
	var matched []catalog.Threat
	for _, threat := range threats {
		if mentions(text, threat.Title, threat.Category) {
			matched = append(matched, threat)
		}
	}
	if len(matched) == 0 {
		matched = threats
	}

	seen := make(map[string]bool)
	for _, threat := range matched {
		result.Threats = append(result.Threats, ThreatSummary{
			ID:       threat.ID,
			Title:    threat.Title,
			Severity: threat.Severity,
			Source:   threat.Source,
			Summary:  threat.Description,
		})
		if threat.Source != "" && !seen[threat.Source] {
			seen[threat.Source] = true
			result.Sources = append(result.Sources, Source{Name: threat.Source, Type: sourceType(threat.Source)})
		}
	}
	return r.complete(task, result), nil
}

func sourceType(source string) string {
	lower := strings.ToLower(source)
	switch {
	case strings.Contains(lower, "blog"):
		return "blog"
	case strings.Contains(lower, "twitter"), strings.Contains(lower, "forum"), strings.Contains(lower, "discord"):
		return "social"
	case strings.Contains(lower, "github"):
		return "repository"
	default:
		return "other"
	}
}

// Research 是 researcher 整理的知识。
type Research struct {
	Topic            string                `json:"topic"`
	Summary          string                `json:"summary"`
	RelatedIncidents []knowledge.Incident  `json:"relatedIncidents"`
	BestPractices    []string              `json:"bestPractices"`
	Resources        []knowledge.Reference `json:"resources"`
}

// ResearcherResult 是 researcher 任务的 result 字段。
type ResearcherResult struct {
	Research Research `json:"research"`
}

type researcherRunner struct {
	base
	knowledge knowledge.Provider
}

func (r *researcherRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}

	research := Research{
		Topic:            task.Title,
		RelatedIncidents: []knowledge.Incident{},
		BestPractices:    []string{},
		Resources:        []knowledge.Reference{},
	}
	if r.knowledge == nil {
		return r.complete(task, ResearcherResult{Research: research}), nil
	}

	snippets := r.knowledge.Query(task.Title, task.Description)
	practices := make(map[string]bool)
	for idx, snippet := range snippets {
		if idx == 0 {
			research.Topic = snippet.Title
			research.Summary = snippet.Content
		}
		research.RelatedIncidents = append(research.RelatedIncidents, snippet.Incidents...)
		for _, practice := range snippet.BestPractices {
			if !practices[practice] {
				practices[practice] = true
				research.BestPractices = append(research.BestPractices, practice)
			}
		}
		research.Resources = append(research.Resources, snippet.References...)
	}
	return r.complete(task, ResearcherResult{Research: research}), nil
}
