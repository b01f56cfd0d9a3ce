package agent

import "slices"

// DescriptorStatus 是描述信息中的展示状态，派发器不会改变它。
type DescriptorStatus string

const (
	DescriptorIdle    DescriptorStatus = "idle"
	DescriptorRunning DescriptorStatus = "running"
	DescriptorError   DescriptorStatus = "error"
)

// Descriptor 是智能体的静态元数据。
type Descriptor struct {
	ID           Variant          `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Type         Variant          `json:"type"`
	Status       DescriptorStatus `json:"status"`
	Capabilities []string         `json:"capabilities"`
}

func (d Descriptor) clone() Descriptor {
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}

// descriptorFor 返回每个变体的内置描述。
func descriptorFor(v Variant) (Descriptor, bool) {
	d := Descriptor{ID: v, Type: v, Status: DescriptorIdle}
	switch v {
	case VariantLLM:
		d.Name = "LLM Assistant"
		d.Description = "Provides security consultation and manages other agents"
		d.Capabilities = []string{"Natural language processing", "Security consultation", "Agent coordination", "Report generation", "Task automation"}
	case VariantScraper:
		d.Name = "Scraper Agent"
		d.Description = "Extracts security threats from various online sources"
		d.Capabilities = []string{"Web scraping", "Data extraction", "Source monitoring", "Threat identification", "Real-time alerts"}
	case VariantAnalyzer:
		d.Name = "Analyzer Agent"
		d.Description = "Performs in-depth analysis of exploits and vulnerabilities"
		d.Capabilities = []string{"Technical analysis", "Vulnerability assessment", "Attack vector identification", "Impact evaluation", "Code review"}
	case VariantResearcher:
		d.Name = "Researcher Agent"
		d.Description = "Organizes blockchain security knowledge and research"
		d.Capabilities = []string{"Knowledge management", "Research curation", "Trend analysis", "Historical context", "Educational content"}
	case VariantArchitect:
		d.Name = "Solution Architect"
		d.Description = "Suggests mitigation strategies for security issues"
		d.Capabilities = []string{"Solution design", "Mitigation strategies", "Security architecture", "Best practices", "Code review"}
	case VariantToolsmith:
		d.Name = "Toolsmith Agent"
		d.Description = "Identifies and evaluates open-source security tools"
		d.Capabilities = []string{"Tool discovery", "Tool evaluation", "Integration recommendations", "Usage guidelines", "Customization"}
	case VariantCoder:
		d.Name = "Coder Agent"
		d.Description = "Develops and implements security tools and fixes"
		d.Capabilities = []string{"Tool development", "Code implementation", "Security fixes", "Testing", "Documentation"}
	case VariantGitHub:
		d.Name = "GitHub Manager"
		d.Description = "Manages GitHub repository and publishes findings online"
		d.Capabilities = []string{"Repository management", "Automated commits", "GitHub Pages publishing", "Documentation", "Version control"}
	default:
		return Descriptor{}, false
	}
	return d, true
}
