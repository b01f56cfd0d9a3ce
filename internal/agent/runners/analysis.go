package runners

import (
	"context"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/web3"
)

// Analysis 是 analyzer 的结论。
type Analysis struct {
	Vulnerability      string    `json:"vulnerability"`
	AffectedComponents []string  `json:"affectedComponents"`
	Severity           string    `json:"severity"`
	Exploitability     string    `json:"exploitability"`
	TechnicalDetails   string    `json:"technicalDetails"`
	PotentialImpact    string    `json:"potentialImpact"`
	Findings           []Finding `json:"findings"`
	Contract           *Contract `json:"contract,omitempty"`
}

// Contract 记录被扫描的链上合约。
type Contract struct {
	Address  string              `json:"address"`
	Chain    *web3.ChainSnapshot `json:"chain,omitempty"`
	Bytecode BytecodeReport      `json:"bytecode"`
}

// AnalyzerResult 是 analyzer 任务的 result 字段。
type AnalyzerResult struct {
	Analysis Analysis `json:"analysis"`
}

type analyzerRunner struct {
	base
	chain web3.Client
}

// Run 根据任务文本选择漏洞画像；若文本包含合约地址且配置了链客户端，则扫描其运行时字节码。
func (r *analyzerRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}

	text := task.Text()
	p := detectProfile(text)
	analysis := Analysis{Findings: []Finding{}}

	if address, ok := web3.FindAddress(text); ok && r.chain != nil {
		contract, err := r.inspect(ctx, address)
		if err != nil {
			return task, err
		}
		analysis.Contract = contract
		analysis.Findings = contract.Bytecode.Findings
		if p.key == genericProfile.key {
			if suggested, ok := contract.Bytecode.suggestedProfile(); ok {
				p = suggested
			}
		}
	}

	analysis.Vulnerability = p.vulnerability
	analysis.AffectedComponents = append([]string{}, p.components...)
	if analysis.Contract != nil {
		analysis.AffectedComponents = append(analysis.AffectedComponents, analysis.Contract.Address)
	}
	analysis.Severity = p.severity
	analysis.Exploitability = p.exploitability
	analysis.TechnicalDetails = p.technicalDetails
	analysis.PotentialImpact = p.impact
	for _, f := range analysis.Findings {
		if f.Severity == "Critical" {
			analysis.Severity = "Critical"
		}
	}

	return r.complete(task, AnalyzerResult{Analysis: analysis}), nil
}

func (r *analyzerRunner) inspect(ctx context.Context, address string) (*Contract, error) {
	code, err := r.chain.CodeAt(ctx, address)
	if err != nil {
		return nil, err
	}
	contract := &Contract{Address: address, Bytecode: scanBytecode(code)}
	if len(code) == 0 {
		contract.Bytecode.Findings = append(contract.Bytecode.Findings, Finding{
			Pattern:  "no-code",
			Severity: "Info",
			Detail:   "address holds no contract code; it is an externally owned account or was destroyed",
		})
	}
	// 快照只用于报告展示，失败时忽略。
	if snapshot, err := r.chain.FetchChainSnapshot(ctx); err == nil {
		contract.Chain = &snapshot
	}
	return contract, nil
}

// Solution 是 architect 给出的修复方案。
type Solution struct {
	Title                     string   `json:"title"`
	Approach                  string   `json:"approach"`
	Implementation            string   `json:"implementation"`
	AdditionalRecommendations []string `json:"additionalRecommendations"`
}

// ArchitectResult 是 architect 任务的 result 字段。
type ArchitectResult struct {
	Solution Solution `json:"solution"`
}

type architectRunner struct {
	base
}

func (r *architectRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	if err := r.wait(ctx); err != nil {
		return task, err
	}
	solution := detectProfile(task.Text()).solution
	solution.AdditionalRecommendations = append([]string{}, solution.AdditionalRecommendations...)
	return r.complete(task, ArchitectResult{Solution: solution}), nil
}
