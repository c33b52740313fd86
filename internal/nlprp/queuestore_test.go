package nlprp

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestQueueStore(t *testing.T) *QueueStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	qs := OpenQueueStore(db, "sqlite")
	if err := qs.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return qs
}

func TestQueueStoreSubmitAndGetScopedToUser(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	id, err := qs.Submit(ctx, "alice", "job-1", []ContentItem{{Text: "hello"}}, []ProcessorSelector{{Name: "crp"}})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	rec, err := qs.Get(ctx, id, "alice")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Status != QueueStatusBusy {
		t.Fatalf("expected busy status before completion, got %s", rec.Status)
	}

	missing, err := qs.Get(ctx, id, "bob")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if missing != nil {
		t.Fatal("expected bob to not see alice's queue entry")
	}
}

func TestQueueStoreCompleteFlipsStatus(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	id, _ := qs.Submit(ctx, "alice", "", []ContentItem{{Text: "x"}}, nil)
	if err := qs.Complete(ctx, id, []ContentResult{{Metadata: map[string]any{"a": 1}}}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	rec, err := qs.Get(ctx, id, "alice")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Status != QueueStatusReady {
		t.Fatalf("expected ready status, got %s", rec.Status)
	}
	if rec.DatetimeCompleted == nil {
		t.Fatal("expected datetime_completed to be set")
	}
	if len(rec.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(rec.Results))
	}
}

func TestQueueStoreDeleteAllForUser(t *testing.T) {
	qs := newTestQueueStore(t)
	ctx := context.Background()

	id1, _ := qs.Submit(ctx, "alice", "", []ContentItem{{Text: "x"}}, nil)
	id2, _ := qs.Submit(ctx, "alice", "", []ContentItem{{Text: "y"}}, nil)
	_, _ = qs.Submit(ctx, "bob", "", []ContentItem{{Text: "z"}}, nil)

	if err := qs.DeleteAllForUser(ctx, "alice"); err != nil {
		t.Fatalf("delete all failed: %v", err)
	}

	for _, id := range []string{id1, id2} {
		rec, err := qs.Get(ctx, id, "alice")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if rec != nil {
			t.Fatalf("expected %s to be deleted", id)
		}
	}

	list, err := qs.List(ctx, "bob", "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected bob's entry to survive, got %d entries", len(list))
	}
}
