package agent

import "slices"

// Variant 标识一个智能体角色，取值集合是封闭的。
type Variant string

const (
	VariantLLM        Variant = "llm"
	VariantScraper    Variant = "scraper"
	VariantAnalyzer   Variant = "analyzer"
	VariantResearcher Variant = "researcher"
	VariantArchitect  Variant = "architect"
	VariantToolsmith  Variant = "toolsmith"
	VariantCoder      Variant = "coder"
	VariantGitHub     Variant = "github"
)

// declared 保存声明顺序，列表接口以此顺序输出。
var declared = []Variant{
	VariantLLM,
	VariantScraper,
	VariantAnalyzer,
	VariantResearcher,
	VariantArchitect,
	VariantToolsmith,
	VariantCoder,
	VariantGitHub,
}

// Variants 返回全部变体，按声明顺序排列。
func Variants() []Variant {
	return slices.Clone(declared)
}

// ParseVariant 将外部输入解析为变体；名称必须精确匹配。
func ParseVariant(name string) (Variant, error) {
	v := Variant(name)
	if !v.Valid() {
		return "", &UnknownVariantError{Variant: name}
	}
	return v, nil
}

// Valid 判断变体是否属于已声明集合。
func (v Variant) Valid() bool {
	return slices.Contains(declared, v)
}

func (v Variant) String() string { return string(v) }
