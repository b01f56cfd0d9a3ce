package sentinel

import (
	"context"
	"time"
)

// Threat is a tracked security finding.
type Threat struct {
	ID           string         `json:"id,omitempty"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Severity     string         `json:"severity"`
	Category     string         `json:"category"`
	Source       string         `json:"source"`
	DiscoveredAt time.Time      `json:"discoveredAt,omitempty"`
	Status       string         `json:"status,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Report is a published security report.
type Report struct {
	ID           string    `json:"id,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	Type         string    `json:"type"`
	Threats      []string  `json:"threats"`
	Content      string    `json:"content"`
	PublishedURL string    `json:"publishedUrl,omitempty"`
}

// Tool is an entry of the security tool catalog.
type Tool struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	GitHubURL      string   `json:"githubUrl"`
	IsCustom       bool     `json:"isCustom"`
	InstallCommand string   `json:"installCommand,omitempty"`
	Documentation  string   `json:"documentation,omitempty"`
}

// ListThreats returns every tracked threat.
func (c *Client) ListThreats(ctx context.Context) ([]Threat, error) {
	var out struct {
		Threats []Threat `json:"threats"`
	}
	err := c.get(ctx, "/api/threats", nil, &out)
	return out.Threats, err
}

// AddThreat records a threat. ID, DiscoveredAt and Status are assigned by the server.
func (c *Client) AddThreat(ctx context.Context, threat Threat) (Threat, error) {
	var out struct {
		Threat Threat `json:"threat"`
	}
	err := c.post(ctx, "/api/threats", threat, &out)
	return out.Threat, err
}

// ListReports returns every stored report.
func (c *Client) ListReports(ctx context.Context) ([]Report, error) {
	var out struct {
		Reports []Report `json:"reports"`
	}
	err := c.get(ctx, "/api/reports", nil, &out)
	return out.Reports, err
}

// AddReport stores a report.
func (c *Client) AddReport(ctx context.Context, report Report) (Report, error) {
	var out struct {
		Report Report `json:"report"`
	}
	err := c.post(ctx, "/api/reports", report, &out)
	return out.Report, err
}

// ListTools returns the tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var out struct {
		Tools []Tool `json:"tools"`
	}
	err := c.get(ctx, "/api/tools", nil, &out)
	return out.Tools, err
}

// AddTool registers a custom tool.
func (c *Client) AddTool(ctx context.Context, tool Tool) (Tool, error) {
	var out struct {
		Tool Tool `json:"tool"`
	}
	err := c.post(ctx, "/api/tools", tool, &out)
	return out.Tool, err
}
