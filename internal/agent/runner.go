package agent

import "context"

// Runner 执行某个变体的具体工作，必须响应 ctx 的取消。
//
// 返回的任务应反映执行结果；派发器会在此基础上强制保持任务标识不变。
type Runner interface {
	Run(ctx context.Context, task Task) (Task, error)
}

// RunnerFunc 允许使用普通函数实现 Runner。
type RunnerFunc func(ctx context.Context, task Task) (Task, error)

// Run 实现 Runner 接口。
func (f RunnerFunc) Run(ctx context.Context, task Task) (Task, error) {
	return f(ctx, task)
}

// Runners 为每个变体提供一个执行器字段，新增变体时必须在此补齐字段。
type Runners struct {
	LLM        Runner
	Scraper    Runner
	Analyzer   Runner
	Researcher Runner
	Architect  Runner
	Toolsmith  Runner
	Coder      Runner
	GitHub     Runner
}

func (r Runners) runnerFor(v Variant) Runner {
	switch v {
	case VariantLLM:
		return r.LLM
	case VariantScraper:
		return r.Scraper
	case VariantAnalyzer:
		return r.Analyzer
	case VariantResearcher:
		return r.Researcher
	case VariantArchitect:
		return r.Architect
	case VariantToolsmith:
		return r.Toolsmith
	case VariantCoder:
		return r.Coder
	case VariantGitHub:
		return r.GitHub
	default:
		return nil
	}
}
