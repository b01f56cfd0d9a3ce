package job

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "Web3-Sentinel/internal/errors"
)

func TestMemoryQueueRequeuesFailedJobs(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := make(chan string, 4)
	calls := 0
	go queue.Consume(ctx, 1, func(_ context.Context, jobID string) error {
		calls++
		seen <- jobID
		if calls == 1 {
			return errors.New("retry me")
		}
		return nil
	})

	if err := queue.Publish(ctx, "j1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case id := <-seen:
			if id != "j1" {
				t.Fatalf("unexpected job %s", id)
			}
		case <-ctx.Done():
			t.Fatalf("job was not redelivered")
		}
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	queue := NewMemoryQueue(1)
	queue.Close()

	if err := queue.Publish(context.Background(), "j1"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure after close, got %v", err)
	}
	if err := queue.Consume(context.Background(), 2, func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("consume on closed queue should return nil, got %v", err)
	}
}

func TestMemoryQueueCloseUnblocksPublish(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), "j1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- queue.Publish(context.Background(), "j2") }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = queue.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("close stalled behind a blocked publish")
	}
	select {
	case err := <-blocked:
		if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
			t.Fatalf("expected queue failure, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked publish was not released by close")
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryQueueDrainsAfterClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	queue.Close()

	var got []string
	if err := queue.Consume(ctx, 1, func(_ context.Context, jobID string) error {
		got = append(got, jobID)
		return nil
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected buffered jobs to be drained, got %v", got)
	}
}
