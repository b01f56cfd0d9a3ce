package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"Web3-Sentinel/internal/agent"
	"Web3-Sentinel/internal/agent/runners"
	"Web3-Sentinel/internal/catalog"
	"Web3-Sentinel/pkg/logger"
)

// countingRunner 记录执行次数，可选择返回错误。
type countingRunner struct {
	inner agent.Runner
	calls atomic.Int32
	err   error
}

func (c *countingRunner) Run(ctx context.Context, task agent.Task) (agent.Task, error) {
	c.calls.Add(1)
	if c.err != nil {
		return task, c.err
	}
	return c.inner.Run(ctx, task)
}

type harness struct {
	server  *Server
	handler http.Handler
	runners map[agent.Variant]*countingRunner
	catalog *catalog.MemoryCatalog
}

func (h *harness) totalCalls() int32 {
	var total int32
	for _, r := range h.runners {
		total += r.calls.Load()
	}
	return total
}

func newHarness(t *testing.T, cfg Config, mutate func(*Dependencies)) *harness {
	t.Helper()
	cat, err := catalog.NewMemoryCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	real := runners.New(runners.Deps{Threats: cat, Reports: cat, Tools: cat})
	wrap := func(r agent.Runner) *countingRunner { return &countingRunner{inner: r} }
	counted := map[agent.Variant]*countingRunner{
		agent.VariantLLM:        wrap(real.LLM),
		agent.VariantScraper:    wrap(real.Scraper),
		agent.VariantAnalyzer:   wrap(real.Analyzer),
		agent.VariantResearcher: wrap(real.Researcher),
		agent.VariantArchitect:  wrap(real.Architect),
		agent.VariantToolsmith:  wrap(real.Toolsmith),
		agent.VariantCoder:      wrap(real.Coder),
		agent.VariantGitHub:     wrap(real.GitHub),
	}
	registry, err := agent.NewRegistry(agent.Runners{
		LLM:        counted[agent.VariantLLM],
		Scraper:    counted[agent.VariantScraper],
		Analyzer:   counted[agent.VariantAnalyzer],
		Researcher: counted[agent.VariantResearcher],
		Architect:  counted[agent.VariantArchitect],
		Toolsmith:  counted[agent.VariantToolsmith],
		Coder:      counted[agent.VariantCoder],
		GitHub:     counted[agent.VariantGitHub],
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	deps := Dependencies{
		Agents:     registry,
		Dispatcher: agent.NewDispatcher(registry, agent.WithLogger(logger.Discard())),
		Catalog:    cat,
	}
	if mutate != nil {
		mutate(&deps)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	server, err := NewServer(cfg, deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &harness{server: server, handler: server.Handler(), runners: counted, catalog: cat}
}

func (h *harness) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON response, got %q (%s)", ct, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

var errRunnerBroken = errors.New("runner broken")
