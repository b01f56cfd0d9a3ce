package history

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"Web3-Sentinel/internal/agent"
	xerrors "Web3-Sentinel/internal/errors"
	"Web3-Sentinel/internal/storage/sqlite"
	"Web3-Sentinel/internal/storage/sqltest"
)

func sampleTask(id string, v agent.Variant, createdAt time.Time) agent.Task {
	done := createdAt.Add(2 * time.Second)
	return agent.Task{
		ID:          id,
		AgentID:     v,
		Title:       "title " + id,
		Description: "description",
		Status:      agent.StatusCompleted,
		CreatedAt:   createdAt,
		CompletedAt: &done,
		Result:      map[string]any{"summary": "ok " + id},
	}
}

func TestMemoryRepositoryPersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	for i := 0; i < 3; i++ {
		v := agent.VariantAnalyzer
		if i == 1 {
			v = agent.VariantScraper
		}
		if err := repo.Save(ctx, sampleTask(fmt.Sprintf("t%d", i), v, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	restored, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list, _ := restored.ListLatest(ctx, Filter{})
	if len(list) != 3 || list[0].ID != "t2" || list[2].ID != "t0" {
		t.Fatalf("unexpected order after restore: %+v", list)
	}

	scrapers, _ := restored.ListLatest(ctx, Filter{Agent: agent.VariantScraper})
	if len(scrapers) != 1 || scrapers[0].ID != "t1" {
		t.Fatalf("agent filter not applied: %+v", scrapers)
	}
	limited, _ := restored.ListLatest(ctx, Filter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %d", len(limited))
	}
}

func TestMemoryRepositoryWithoutDisk(t *testing.T) {
	repo, err := NewMemoryRepository("")
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	for i := 0; i < memoryCapacity+10; i++ {
		_ = repo.Save(context.Background(), sampleTask(fmt.Sprintf("t%d", i), agent.VariantLLM, time.Now()))
	}
	list, _ := repo.ListLatest(context.Background(), Filter{Limit: maxLimit})
	if len(list) != maxLimit {
		t.Fatalf("expected limit to be capped at %d, got %d", maxLimit, len(list))
	}
	if len(repo.records) != memoryCapacity {
		t.Fatalf("expected capacity %d, got %d", memoryCapacity, len(repo.records))
	}
}

func TestSQLRepositoryWithSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo := NewSQLRepository(db)
	defer repo.Close()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	failed := sampleTask("f1", agent.VariantCoder, base.Add(time.Hour))
	failed.Status = agent.StatusFailed
	failed.Result = nil
	failed.Error = "runner panic"

	for _, task := range []agent.Task{sampleTask("c1", agent.VariantLLM, base), failed} {
		if err := repo.Save(ctx, task); err != nil {
			t.Fatalf("save %s: %v", task.ID, err)
		}
	}

	list, err := repo.ListLatest(ctx, Filter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "f1" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].Error != "runner panic" || list[0].Result != nil || list[0].Status != agent.StatusFailed {
		t.Fatalf("failed task not round-tripped: %+v", list[0])
	}
	if !list[1].CreatedAt.Equal(base) || list[1].CompletedAt == nil {
		t.Fatalf("timestamps not round-tripped: %+v", list[1])
	}
	raw, ok := list[1].Result.(json.RawMessage)
	if !ok || string(raw) != `{"summary":"ok c1"}` {
		t.Fatalf("unexpected result %#v", list[1].Result)
	}

	coder, _ := repo.ListLatest(ctx, Filter{Agent: agent.VariantCoder})
	if len(coder) != 1 || coder[0].ID != "f1" {
		t.Fatalf("agent filter not applied: %+v", coder)
	}
}

func TestSQLRepositoryQueries(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	db := sqltest.NewDB(t,
		sqltest.Exec(insertTaskSQL, sqltest.Result{Affected: 1}).WithArgs(func(args []driver.NamedValue) error {
			if len(args) != 9 || args[0].Value != "t1" || args[7].Value != created.UnixMilli() {
				return fmt.Errorf("unexpected args %v", args)
			}
			return nil
		}),
		sqltest.Query(selectTaskColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, sqltest.Rows{
			Columns: []string{"id", "agent_id", "title", "description", "status", "result", "error_message", "created_at", "completed_at"},
			Values: [][]driver.Value{
				{"t1", "github", "Publish", "", "completed", []byte(`{"ok":true}`), nil, created.UnixMilli(), created.UnixMilli() + 5},
			},
		}),
		sqltest.Exec(insertTaskSQL, sqltest.Result{}).WithError(errors.New("connection reset")),
	)
	repo := NewSQLRepository(db)
	ctx := context.Background()

	if err := repo.Save(ctx, sampleTask("t1", agent.VariantGitHub, created)); err != nil {
		t.Fatalf("save: %v", err)
	}
	list, err := repo.ListLatest(ctx, Filter{})
	if err != nil || len(list) != 1 || list[0].AgentID != agent.VariantGitHub {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
	if err := repo.Save(ctx, sampleTask("t2", agent.VariantGitHub, created)); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

type recordingRepo struct {
	MemoryRepository
	err error
}

func (r *recordingRepo) Save(ctx context.Context, task agent.Task) error {
	if r.err != nil {
		return r.err
	}
	return r.MemoryRepository.Save(ctx, task)
}

func TestRecorderStoresTerminalEvents(t *testing.T) {
	repo := &recordingRepo{}
	recorder := NewRecorder(repo)
	ctx := context.Background()

	task := sampleTask("t1", agent.VariantLLM, time.Now())
	recorder.OnTaskEvent(ctx, agent.Event{Type: agent.EventStarted, Task: task})
	recorder.OnTaskEvent(ctx, agent.Event{Type: agent.EventCompleted, Task: task})

	list, _ := repo.ListLatest(ctx, Filter{})
	if len(list) != 1 {
		t.Fatalf("expected only the terminal event to be stored, got %d", len(list))
	}

	repo.err = errors.New("disk full")
	recorder.OnTaskEvent(ctx, agent.Event{Type: agent.EventFailed, Task: task})
}
