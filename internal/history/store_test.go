package history_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/circlemind-ai/smooth-sdk/internal/history"
	"github.com/circlemind-ai/smooth-sdk/internal/testutil"
)

func TestStoreRunLifecycle(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := history.NewStore(db)
	ctx := context.Background()

	run, err := store.RecordRun(ctx, "task-1", history.KindTask, "find the docs", "https://example.com", "running")
	if err != nil {
		t.Fatalf("record run: %v", err)
	}
	if run.ID != "task-1" || run.Status != "running" {
		t.Fatalf("unexpected run: %+v", run)
	}

	if err := store.UpdateStatus(ctx, "task-1", "completed", map[string]any{"answer": 42}, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, err := store.GetRun(ctx, "task-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != "completed" {
		t.Fatalf("expected completed, got %q", got.Status)
	}
	output, ok := got.Output.(map[string]any)
	if !ok || output["answer"] != float64(42) {
		t.Fatalf("unexpected output: %#v", got.Output)
	}
	if got.Prompt != "find the docs" || got.URL != "https://example.com" {
		t.Fatalf("unexpected run fields: %+v", got)
	}
}

func TestStoreListRunsNewestFirst(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := history.NewStore(db)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.RecordRun(ctx, id, history.KindSession, "", "", "running"); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

func TestGetRunMissing(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	store := history.NewStore(db)
	if _, err := store.GetRun(context.Background(), "nope"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
