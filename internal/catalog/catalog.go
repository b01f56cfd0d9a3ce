package catalog

import (
	"context"
	"embed"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	xerrors "Web3-Sentinel/internal/errors"
)

// MissingFieldsMessage 是必填字段缺失时返回给调用方的固定提示。
const MissingFieldsMessage = "Missing required fields"

//go:embed fixtures/*.yaml
var fixtures embed.FS

// ThreatProvider 提供威胁情报数据。
type ThreatProvider interface {
	ListThreats(ctx context.Context) ([]Threat, error)
	AddThreat(ctx context.Context, threat Threat) (Threat, error)
}

// ReportProvider 提供安全报告数据。
type ReportProvider interface {
	ListReports(ctx context.Context) ([]Report, error)
	AddReport(ctx context.Context, report Report) (Report, error)
}

// ToolProvider 提供安全工具目录。
type ToolProvider interface {
	ListTools(ctx context.Context) ([]Tool, error)
	AddTool(ctx context.Context, tool Tool) (Tool, error)
}

// MemoryCatalog 以内置样例数据初始化，新增条目仅保存在进程内存中。
type MemoryCatalog struct {
	mu      sync.RWMutex
	threats []Threat
	reports []Report
	tools   []Tool
	now     func() time.Time
	newID   func() string
}

// Option 定义目录的可选配置。
type Option func(*MemoryCatalog)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCatalog) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator 替换条目 ID 生成方式。
func WithIDGenerator(newID func() string) Option {
	return func(c *MemoryCatalog) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// NewMemoryCatalog 加载内置样例数据。
func NewMemoryCatalog(opts ...Option) (*MemoryCatalog, error) {
	c := &MemoryCatalog{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if err := loadFixture("fixtures/threats.yaml", &c.threats); err != nil {
		return nil, err
	}
	if err := loadFixture("fixtures/reports.yaml", &c.reports); err != nil {
		return nil, err
	}
	if err := loadFixture("fixtures/tools.yaml", &c.tools); err != nil {
		return nil, err
	}
	return c, nil
}

func loadFixture(name string, out any) error {
	data, err := fixtures.ReadFile(name)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("读取样例数据 %s 失败", name))
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("解析样例数据 %s 失败", name))
	}
	return nil
}

// ListThreats 返回全部威胁的副本。
func (c *MemoryCatalog) ListThreats(ctx context.Context) ([]Threat, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.FromContext(err, "读取威胁列表被中断")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Threat, 0, len(c.threats))
	for _, t := range c.threats {
		t.Details = maps.Clone(t.Details)
		out = append(out, t)
	}
	return out, nil
}

// AddThreat 校验必填字段后追加威胁，状态固定为 new。
func (c *MemoryCatalog) AddThreat(ctx context.Context, threat Threat) (Threat, error) {
	if err := ctx.Err(); err != nil {
		return Threat{}, xerrors.FromContext(err, "新增威胁被中断")
	}
	if missing := missingFields(map[string]string{
		"title":       threat.Title,
		"description": threat.Description,
		"severity":    string(threat.Severity),
		"category":    threat.Category,
		"source":      threat.Source,
	}); len(missing) > 0 {
		return Threat{}, missingFieldsError(missing)
	}
	if !threat.Severity.Valid() {
		return Threat{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("Invalid severity: %s", threat.Severity))
	}

	threat.ID = c.newID()
	threat.DiscoveredAt = c.now().UTC()
	threat.Status = ThreatNew
	threat.Details = maps.Clone(threat.Details)

	c.mu.Lock()
	c.threats = append(c.threats, threat)
	c.mu.Unlock()
	return threat, nil
}

// ListReports 返回全部报告的副本。
func (c *MemoryCatalog) ListReports(ctx context.Context) ([]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.FromContext(err, "读取报告列表被中断")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Report, 0, len(c.reports))
	for _, r := range c.reports {
		r.Threats = slices.Clone(r.Threats)
		out = append(out, r)
	}
	return out, nil
}

// AddReport 校验必填字段后追加报告。
func (c *MemoryCatalog) AddReport(ctx context.Context, report Report) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, xerrors.FromContext(err, "新增报告被中断")
	}
	if missing := missingFields(map[string]string{
		"title":       report.Title,
		"description": report.Description,
		"type":        string(report.Type),
		"content":     report.Content,
	}); len(missing) > 0 {
		return Report{}, missingFieldsError(missing)
	}
	if !report.Type.Valid() {
		return Report{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("Invalid report type: %s", report.Type))
	}

	report.ID = c.newID()
	report.CreatedAt = c.now().UTC()
	report.Threats = slices.Clone(report.Threats)
	if report.Threats == nil {
		report.Threats = []string{}
	}

	c.mu.Lock()
	c.reports = append(c.reports, report)
	c.mu.Unlock()
	return report, nil
}

// LatestReport 返回创建时间最新的报告。
func (c *MemoryCatalog) LatestReport(ctx context.Context) (Report, bool, error) {
	reports, err := c.ListReports(ctx)
	if err != nil || len(reports) == 0 {
		return Report{}, false, err
	}
	latest := reports[0]
	for _, r := range reports[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, true, nil
}

// ListTools 返回全部工具的副本。
func (c *MemoryCatalog) ListTools(ctx context.Context) ([]Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.FromContext(err, "读取工具列表被中断")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		t.Tags = slices.Clone(t.Tags)
		out = append(out, t)
	}
	return out, nil
}

// AddTool 校验必填字段后追加工具。
func (c *MemoryCatalog) AddTool(ctx context.Context, tool Tool) (Tool, error) {
	if err := ctx.Err(); err != nil {
		return Tool{}, xerrors.FromContext(err, "新增工具被中断")
	}
	if missing := missingFields(map[string]string{
		"name":        tool.Name,
		"description": tool.Description,
		"category":    string(tool.Category),
		"githubUrl":   tool.GitHubURL,
	}); len(missing) > 0 {
		return Tool{}, missingFieldsError(missing)
	}
	if !tool.Category.Valid() {
		return Tool{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("Invalid tool category: %s", tool.Category))
	}

	tool.ID = c.newID()
	tool.Tags = slices.Clone(tool.Tags)
	if tool.Tags == nil {
		tool.Tags = []string{}
	}

	c.mu.Lock()
	c.tools = append(c.tools, tool)
	c.mu.Unlock()
	return tool, nil
}

func missingFields(fields map[string]string) []string {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing
}

func missingFieldsError(missing []string) error {
	return xerrors.New(xerrors.CodeValidation, MissingFieldsMessage,
		xerrors.WithMetadata("fields", strings.Join(missing, ",")))
}
