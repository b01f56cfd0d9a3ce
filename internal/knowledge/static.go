package knowledge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	xerrors "Web3-Sentinel/internal/errors"
)

//go:embed data/default.json
var defaultSnippets []byte

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(topic, detail string) []Snippet
}

// Incident 是一次已公开的安全事件。
type Incident struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	Loss        string `json:"loss"`
	Description string `json:"description"`
}

// Reference 指向外部资料。
type Reference struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Snippet 描述可供智能体引用的一段知识。
type Snippet struct {
	Title         string      `json:"title"`
	Content       string      `json:"content"`
	Keywords      []string    `json:"keywords"`
	Tags          []string    `json:"tags"`
	Incidents     []Incident  `json:"incidents,omitempty"`
	BestPractices []string    `json:"best_practices,omitempty"`
	References    []Reference `json:"references,omitempty"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目，路径为空时使用内置知识库。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProvider(maxResults)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析知识库路径失败")
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取知识库文件失败")
	}
	return parse(content, maxResults)
}

// DefaultProvider 返回内置的智能合约安全知识库。
func DefaultProvider(maxResults int) (*StaticProvider, error) {
	return parse(defaultSnippets, maxResults)
}

func parse(content []byte, maxResults int) (*StaticProvider, error) {
	var entries []Snippet
	if err := json.NewDecoder(bytes.NewReader(content)).Decode(&entries); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析知识库文件失败")
	}
	return NewStaticProvider(entries, maxResults), nil
}

// Query 根据主题与补充描述进行关键字匹配，未声明关键字的条目视为通用知识。
func (p *StaticProvider) Query(topic, detail string) []Snippet {
	if p == nil {
		return nil
	}

	topic = strings.ToLower(strings.TrimSpace(topic))
	detail = strings.ToLower(strings.TrimSpace(detail))

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, topic, detail) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, topic, detail string) bool {
	if len(snippet.Keywords) == 0 {
		return true
	}
	if containsAny(snippet.Keywords, topic, detail) {
		return true
	}
	return containsAny(snippet.Tags, topic, detail)
}

func containsAny(terms []string, texts ...string) bool {
	for _, term := range terms {
		normalized := strings.ToLower(strings.TrimSpace(term))
		if normalized == "" {
			continue
		}
		for _, text := range texts {
			if strings.Contains(text, normalized) {
				return true
			}
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)
