package catalog

import (
	"strings"
	"time"
)

// Severity 表示威胁等级。
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid 检查威胁等级是否受支持。
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// ThreatStatus 表示威胁的处置进度。
type ThreatStatus string

const (
	ThreatNew        ThreatStatus = "new"
	ThreatAnalyzing  ThreatStatus = "analyzing"
	ThreatMitigated  ThreatStatus = "mitigated"
	ThreatMonitoring ThreatStatus = "monitoring"
)

// Threat 描述一条被发现的安全威胁。
type Threat struct {
	ID           string         `json:"id" yaml:"id"`
	Title        string         `json:"title" yaml:"title"`
	Description  string         `json:"description" yaml:"description"`
	Severity     Severity       `json:"severity" yaml:"severity"`
	Category     string         `json:"category" yaml:"category"`
	Source       string         `json:"source" yaml:"source"`
	DiscoveredAt time.Time      `json:"discoveredAt" yaml:"discoveredAt"`
	Status       ThreatStatus   `json:"status" yaml:"status"`
	Details      map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// ReportType 表示报告类别。
type ReportType string

const (
	ReportIncident      ReportType = "incident"
	ReportVulnerability ReportType = "vulnerability"
	ReportSummary       ReportType = "summary"
	ReportAnalysis      ReportType = "analysis"
	ReportGuide         ReportType = "guide"
	ReportResearch      ReportType = "research"
)

// Valid 检查报告类别是否受支持。
func (t ReportType) Valid() bool {
	switch t {
	case ReportIncident, ReportVulnerability, ReportSummary, ReportAnalysis, ReportGuide, ReportResearch:
		return true
	default:
		return false
	}
}

// Report 是一份安全报告，正文为 Markdown。
type Report struct {
	ID           string     `json:"id" yaml:"id"`
	Title        string     `json:"title" yaml:"title"`
	Description  string     `json:"description" yaml:"description"`
	CreatedAt    time.Time  `json:"createdAt" yaml:"createdAt"`
	Type         ReportType `json:"type" yaml:"type"`
	Threats      []string   `json:"threats" yaml:"threats"`
	Content      string     `json:"content" yaml:"content"`
	PublishedURL string     `json:"publishedUrl,omitempty" yaml:"publishedUrl,omitempty"`
}

// ToolCategory 表示工具类别。
type ToolCategory string

const (
	ToolScanner  ToolCategory = "scanner"
	ToolAnalyzer ToolCategory = "analyzer"
	ToolMonitor  ToolCategory = "monitor"
	ToolFuzzer   ToolCategory = "fuzzer"
	ToolOther    ToolCategory = "other"
)

// Valid 检查工具类别是否受支持。
func (c ToolCategory) Valid() bool {
	switch c {
	case ToolScanner, ToolAnalyzer, ToolMonitor, ToolFuzzer, ToolOther:
		return true
	default:
		return false
	}
}

// Tool 描述一个安全工具。
type Tool struct {
	ID             string       `json:"id" yaml:"id"`
	Name           string       `json:"name" yaml:"name"`
	Description    string       `json:"description" yaml:"description"`
	Category       ToolCategory `json:"category" yaml:"category"`
	Tags           []string     `json:"tags" yaml:"tags"`
	GitHubURL      string       `json:"githubUrl" yaml:"githubUrl"`
	IsCustom       bool         `json:"isCustom" yaml:"isCustom"`
	InstallCommand string       `json:"installCommand,omitempty" yaml:"installCommand,omitempty"`
	Documentation  string       `json:"documentation,omitempty" yaml:"documentation,omitempty"`
}

// HasTag 判断工具是否带有指定标签（不区分大小写）。
func (t Tool) HasTag(tag string) bool {
	for _, candidate := range t.Tags {
		if strings.EqualFold(candidate, tag) {
			return true
		}
	}
	return false
}
