package runners

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/catalog"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/llm"
	"Web3-Sentinel/internal/storage/history"
	"Web3-Sentinel/internal/web3"
)

const vaultAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type stubChain struct {
	code    []byte
	err     error
	queried string
}

func (s *stubChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Chain: "local", ChainID: "0x539", BlockNumber: "0x10"}, nil
}

func (s *stubChain) ExecuteAction(context.Context, string, string) (string, error) {
	return "", nil
}

func (s *stubChain) CodeAt(_ context.Context, address string) ([]byte, error) {
	s.queried = address
	return s.code, s.err
}

func (s *stubChain) Close() {}

type stubLLM struct {
	req  llm.Request
	resp *llm.Response
	err  error
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.req = req
	return s.resp, s.err
}

func newCatalog(t *testing.T) *catalog.MemoryCatalog {
	t.Helper()
	c, err := catalog.NewMemoryCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func run(t *testing.T, runner agent.Runner, title, description string) agent.Task {
	t.Helper()
	task := agent.NewTask("task-1", agent.VariantLLM, agent.TaskInput{Title: title, Description: description}, fixedNow)
	out, err := runner.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != agent.StatusCompleted || out.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", out)
	}
	return out
}

func TestNewRunnersFillEveryVariant(t *testing.T) {
	registry, err := agent.NewRegistry(New(Deps{Now: func() time.Time { return fixedNow }}))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	dispatcher := agent.NewDispatcher(registry)
	for _, v := range agent.Variants() {
		task, err := dispatcher.Dispatch(context.Background(), string(v), agent.TaskInput{Title: "Reentrancy in vault"})
		if err != nil {
			t.Fatalf("%s: %v", v, err)
		}
		if task.Result == nil {
			t.Fatalf("%s returned no result", v)
		}
	}
}

func TestAnalyzerScansBytecode(t *testing.T) {
	// PUSH1 0xf1 的立即数不应被识别为 CALL。
	chain := &stubChain{code: []byte{0x60, 0xf1, 0x60, 0x00, 0xf1, 0x55, 0x32}}
	runners := New(Deps{Chain: chain, Now: func() time.Time { return fixedNow }})

	out := run(t, runners.Analyzer, "Check contract", "deployed at "+strings.ToLower(vaultAddress))
	if chain.queried != vaultAddress {
		t.Fatalf("expected checksummed address, got %q", chain.queried)
	}

	analysis := out.Result.(AnalyzerResult).Analysis
	if analysis.Vulnerability != "Reentrancy Attack" || analysis.Severity != "Critical" {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
	if analysis.Contract == nil || analysis.Contract.Bytecode.Opcodes["CALL"] != 1 {
		t.Fatalf("push data should be skipped: %+v", analysis.Contract)
	}
	if analysis.Contract.Chain == nil || analysis.Contract.Chain.ChainID != "0x539" {
		t.Fatalf("chain snapshot missing: %+v", analysis.Contract)
	}
	var patterns []string
	for _, f := range analysis.Findings {
		patterns = append(patterns, f.Pattern)
	}
	if strings.Join(patterns, ",") != "state-write-after-call,tx-origin" {
		t.Fatalf("unexpected findings %v", patterns)
	}
}

func TestAnalyzerWithoutChainUsesProfile(t *testing.T) {
	runners := New(Deps{})
	out := run(t, runners.Analyzer, "Flash loan attack on DEX", "")
	analysis := out.Result.(AnalyzerResult).Analysis
	if analysis.Vulnerability != "Flash Loan Price Manipulation" || analysis.Contract != nil {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
}

func TestAnalyzerPropagatesChainErrors(t *testing.T) {
	chain := &stubChain{err: xerrors.New(xerrors.CodeUpstreamFailure, "node unavailable")}
	runners := New(Deps{Chain: chain})
	task := agent.NewTask("t", agent.VariantAnalyzer, agent.TaskInput{Title: vaultAddress}, fixedNow)

	_, err := runners.Analyzer.Run(context.Background(), task)
	if !xerrors.RetryableError(err) {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}
}

func TestScraperFiltersThreats(t *testing.T) {
	runners := New(Deps{Threats: newCatalog(t)})

	out := run(t, runners.Scraper, "Reentrancy sweep", "")
	result := out.Result.(ScraperResult)
	if len(result.Threats) != 1 || !strings.Contains(result.Threats[0].Title, "Reentrancy") {
		t.Fatalf("unexpected threats %+v", result.Threats)
	}
	if len(result.Sources) != 1 || result.Sources[0].Type != "blog" {
		t.Fatalf("unexpected sources %+v", result.Sources)
	}

	out = run(t, runners.Scraper, agent.DefaultTitle, "")
	if got := len(out.Result.(ScraperResult).Threats); got != 2 {
		t.Fatalf("expected all threats without keywords, got %d", got)
	}
}

func TestResearcherUsesKnowledge(t *testing.T) {
	runners := New(Deps{})
	out := run(t, runners.Researcher, "Reentrancy", "history of withdraw exploits")
	research := out.Result.(ResearcherResult).Research
	if research.Topic != "Reentrancy" || len(research.BestPractices) == 0 || len(research.Resources) == 0 {
		t.Fatalf("unexpected research %+v", research)
	}
}

func TestArchitectPicksSolution(t *testing.T) {
	runners := New(Deps{})
	out := run(t, runners.Architect, "Oracle feed is stale", "")
	if got := out.Result.(ArchitectResult).Solution.Title; got != "Oracle Hardening" {
		t.Fatalf("unexpected solution %q", got)
	}
}

func TestToolsmithRanksCatalogue(t *testing.T) {
	runners := New(Deps{Tools: newCatalog(t)})
	out := run(t, runners.Toolsmith, "Run slither on the vault", "")
	result := out.Result.(ToolsmithResult)
	if len(result.Tools) != maxRecommendedTools || result.Tools[0].Name != "Slither" {
		t.Fatalf("unexpected tools %+v", result.Tools)
	}
	if result.CustomToolRecommendation.Name == "" {
		t.Fatalf("custom tool recommendation missing")
	}
}

func TestCoderBuildsMonitor(t *testing.T) {
	runners := New(Deps{})
	out := run(t, runners.Coder, "Monitor reentrancy", "")
	impl := out.Result.(CoderResult).Implementation
	if impl.Name != "ReentrancyMonitor" || !strings.Contains(impl.CodeSnippet, "func watchReentrancyMonitor(") {
		t.Fatalf("unexpected implementation %+v", impl)
	}
	if strings.Contains(impl.CodeSnippet, "%!") {
		t.Fatalf("snippet has formatting errors:\n%s", impl.CodeSnippet)
	}
}

func TestGitHubPublishesLatestReport(t *testing.T) {
	runners := New(Deps{Reports: newCatalog(t), Now: func() time.Time { return fixedNow }})
	out := run(t, runners.GitHub, "Publish", "")
	summary := out.Result.(GitHubResult).GitHub
	if summary.Repository != defaultRepository || len(summary.Actions) != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Actions[0].Message != "Add report: Flash Loan Attack Analysis" {
		t.Fatalf("unexpected commit %+v", summary.Actions[0])
	}
	if summary.Actions[0].Files[0] != "reports/2023-04-10-flash-loan-attack-analysis.md" {
		t.Fatalf("unexpected files %v", summary.Actions[0].Files)
	}
	if summary.Actions[1].URL != "https://example.com/reports/flash-loan-attack" {
		t.Fatalf("unexpected publish url %s", summary.Actions[1].URL)
	}
}

func TestGitHubWithoutReports(t *testing.T) {
	runners := New(Deps{Repository: "https://github.com/acme/audits", Now: func() time.Time { return fixedNow }})
	out := run(t, runners.GitHub, "Vault Review", "")
	summary := out.Result.(GitHubResult).GitHub
	if summary.Actions[1].URL != "https://acme.github.io/audits/vault-review" {
		t.Fatalf("unexpected pages url %s", summary.Actions[1].URL)
	}
}

func TestLLMRunnerBuildsContext(t *testing.T) {
	repo, _ := history.NewMemoryRepository("")
	done := fixedNow.Add(time.Second)
	_ = repo.Save(context.Background(), agent.Task{
		ID: "h1", AgentID: agent.VariantAnalyzer, Title: "Vault scan", Status: agent.StatusCompleted,
		CreatedAt: fixedNow, CompletedAt: &done, Result: map[string]string{"severity": "Critical"},
	})
	client := &stubLLM{resp: &llm.Response{Reply: "add a guard", Thought: "t"}}
	runners := New(Deps{LLM: client, History: repo})

	out := run(t, runners.LLM, "Reentrancy review", "")
	result := out.Result.(LLMResult)
	if result.Response != "add a guard" || result.NextSteps == nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(client.req.History) != 1 || !strings.Contains(client.req.History[0].Summary, "Critical") {
		t.Fatalf("history not forwarded: %+v", client.req.History)
	}
	if len(client.req.Knowledge) == 0 || client.req.Knowledge[0].Title != "Reentrancy" {
		t.Fatalf("knowledge not forwarded: %+v", client.req.Knowledge)
	}
}

func TestLLMRunnerFallbackAndErrors(t *testing.T) {
	out := run(t, New(Deps{}).LLM, "anything", "")
	if out.Result.(LLMResult).Response != fallbackReply.Response {
		t.Fatalf("expected fallback reply")
	}

	boom := errors.New("quota exceeded")
	runners := New(Deps{LLM: &stubLLM{err: boom}})
	task := agent.NewTask("t", agent.VariantLLM, agent.TaskInput{}, fixedNow)
	if _, err := runners.LLM.Run(context.Background(), task); !errors.Is(err, boom) {
		t.Fatalf("expected llm error, got %v", err)
	}
}

func TestSimulatedLatencyHonoursCancellation(t *testing.T) {
	runners := New(Deps{SimulateLatency: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	task := agent.NewTask("t", agent.VariantCoder, agent.TaskInput{}, fixedNow)
	if _, err := runners.Coder.Run(ctx, task); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancelled runner kept waiting")
	}
}
