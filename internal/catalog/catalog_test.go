package catalog

import (
	"context"
	"testing"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
)

func newTestCatalog(t *testing.T) *MemoryCatalog {
	t.Helper()
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	c, err := NewMemoryCatalog(
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { return "generated" }),
	)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return c
}

func TestFixturesLoaded(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	threats, _ := c.ListThreats(ctx)
	reports, _ := c.ListReports(ctx)
	tools, _ := c.ListTools(ctx)
	if len(threats) != 2 || len(reports) != 2 || len(tools) != 6 {
		t.Fatalf("unexpected fixture sizes: %d threats, %d reports, %d tools", len(threats), len(reports), len(tools))
	}
	if threats[0].Severity != SeverityCritical || threats[0].DiscoveredAt.IsZero() {
		t.Fatalf("threat fixture not decoded: %+v", threats[0])
	}
	if threats[1].Details["exploitPotential"] != "Medium" {
		t.Fatalf("threat details not decoded: %+v", threats[1].Details)
	}
	if reports[1].Content == "" || reports[1].Threats[0] != "1" {
		t.Fatalf("report fixture not decoded: %+v", reports[1])
	}
	if !tools[0].HasTag("SOLIDITY") || !tools[4].IsCustom {
		t.Fatalf("tool fixture not decoded: %+v", tools[0])
	}
}

func TestAddThreat(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	threat, err := c.AddThreat(ctx, Threat{
		Title: "Oracle drift", Description: "TWAP window too short", Severity: SeverityMedium,
		Category: "DeFi", Source: "Audit", Status: ThreatMitigated,
	})
	if err != nil {
		t.Fatalf("add threat: %v", err)
	}
	if threat.ID != "generated" || threat.Status != ThreatNew || threat.DiscoveredAt.IsZero() {
		t.Fatalf("server-side fields not assigned: %+v", threat)
	}
	list, _ := c.ListThreats(ctx)
	if len(list) != 3 {
		t.Fatalf("expected threat to be appended, got %d", len(list))
	}
}

func TestAddRejectsMissingFields(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	cases := map[string]func() error{
		"threat": func() error { _, err := c.AddThreat(ctx, Threat{Title: "x"}); return err },
		"report": func() error { _, err := c.AddReport(ctx, Report{Title: "x", Description: "y"}); return err },
		"tool":   func() error { _, err := c.AddTool(ctx, Tool{Name: "x", Description: "y", Category: ToolOther}); return err },
	}
	for name, add := range cases {
		err := add()
		e, ok := xerrors.From(err)
		if !ok || e.Code() != xerrors.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
		if e.Message() != MissingFieldsMessage || e.Metadata()["fields"] == "" {
			t.Fatalf("%s: unexpected error details %q %v", name, e.Message(), e.Metadata())
		}
	}
}

func TestAddRejectsUnknownEnums(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.AddTool(context.Background(), Tool{Name: "n", Description: "d", Category: "wallet", GitHubURL: "https://github.com/x/y"})
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddReportDefaultsThreats(t *testing.T) {
	c := newTestCatalog(t)
	report, err := c.AddReport(context.Background(), Report{Title: "t", Description: "d", Type: ReportGuide, Content: "# guide"})
	if err != nil {
		t.Fatalf("add report: %v", err)
	}
	if report.Threats == nil || len(report.Threats) != 0 {
		t.Fatalf("expected empty threat list, got %#v", report.Threats)
	}
	latest, ok, err := c.LatestReport(context.Background())
	if err != nil || !ok || latest.ID != report.ID {
		t.Fatalf("latest report should be the new one, got %+v", latest)
	}
}

func TestListReturnsCopies(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	tools, _ := c.ListTools(ctx)
	tools[0].Tags[0] = "mutated"
	again, _ := c.ListTools(ctx)
	if again[0].Tags[0] == "mutated" {
		t.Fatalf("catalog state leaked through ListTools")
	}
}

func TestThreatDetailsAreNotShared(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	details := map[string]any{"chain": "ethereum"}
	added, err := c.AddThreat(ctx, Threat{
		Title:       "Bridge drain",
		Description: "validator keys leaked",
		Severity:    SeverityCritical,
		Category:    "bridge",
		Source:      "researcher",
		Details:     details,
	})
	if err != nil {
		t.Fatalf("add threat: %v", err)
	}
	details["chain"] = "mutated by caller"

	threats, _ := c.ListThreats(ctx)
	var stored Threat
	for _, th := range threats {
		if th.ID == added.ID {
			stored = th
		}
	}
	if stored.Details["chain"] != "ethereum" {
		t.Fatalf("caller map leaked into the catalog: %v", stored.Details)
	}

	stored.Details["chain"] = "mutated by reader"
	again, _ := c.ListThreats(ctx)
	for _, th := range again {
		if th.ID == added.ID && th.Details["chain"] != "ethereum" {
			t.Fatalf("catalog state leaked through ListThreats: %v", th.Details)
		}
	}
}
