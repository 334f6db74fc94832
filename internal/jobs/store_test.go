package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, ttl), mr
}

func TestStoreUpsertAndGet(t *testing.T) {
	store, mr := newTestStore(t, 10*time.Minute)
	ctx := context.Background()

	if err := store.Upsert(ctx, &Record{JobID: "a", Status: StatusRunning}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	record, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record == nil || record.Status != StatusRunning {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.CreatedAt.IsZero() || record.ExpiresAt.Sub(record.CreatedAt) != 10*time.Minute {
		t.Fatalf("expected timestamps to be filled, got %+v", record)
	}
	if ttl := mr.TTL(jobKey("a")); ttl != 10*time.Minute {
		t.Fatalf("expected key ttl 10m, got %v", ttl)
	}

	missing, err := store.Get(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil record for missing job, got %+v (%v)", missing, err)
	}
	if _, err := store.Get(ctx, ""); err == nil {
		t.Fatal("expected error for empty job id")
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Upsert(ctx, &Record{JobID: "a", Status: StatusQueued}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := store.UpdateProgress(ctx, "a", ProgressInfo{Percent: 40, Stage: "processing"}); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	record, _ := store.Get(ctx, "a")
	if record.Status != StatusRunning || record.Progress.Percent != 40 {
		t.Fatalf("unexpected record after progress: %+v", record)
	}

	if err := store.MarkDone(ctx, "a", "rotate", "/api/batch/jobs/a/download", map[string]any{"pages": 2}); err != nil {
		t.Fatalf("MarkDone returned error: %v", err)
	}
	record, _ = store.Get(ctx, "a")
	if record.Status != StatusSucceeded || record.Progress.Percent != 100 || record.Operation != "rotate" {
		t.Fatalf("unexpected record after done: %+v", record)
	}
	if record.DownloadURL != "/api/batch/jobs/a/download" {
		t.Fatalf("unexpected download url: %s", record.DownloadURL)
	}

	if err := store.Upsert(ctx, &Record{JobID: "b", Status: StatusRunning}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := store.MarkFailed(ctx, "b", &ErrorInfo{Code: "INVALID_INPUT", Message: "bad"}); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}
	record, _ = store.Get(ctx, "b")
	if record.Status != StatusFailed || record.Error == nil || record.Error.Code != "INVALID_INPUT" {
		t.Fatalf("unexpected record after failure: %+v", record)
	}

	if err := store.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if record, _ := store.Get(ctx, "a"); record != nil {
		t.Fatalf("expected record to be deleted, got %+v", record)
	}
}

func TestStoreUpdateMissingRecord(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	err := store.UpdateProgress(context.Background(), "ghost", ProgressInfo{Percent: 10})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSummary(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	summary, err := store.GetSummary(ctx)
	if err != nil || summary != nil {
		t.Fatalf("expected no summary, got %+v (%v)", summary, err)
	}

	if err := store.SaveSummary(ctx, Summary{Total: 3, Completed: 2, Failed: 1}); err != nil {
		t.Fatalf("SaveSummary returned error: %v", err)
	}
	summary, err = store.GetSummary(ctx)
	if err != nil {
		t.Fatalf("GetSummary returned error: %v", err)
	}
	if summary.Total != 3 || summary.Completed != 2 || summary.Failed != 1 || summary.CompletedAt.IsZero() {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestStatusFromState(t *testing.T) {
	tests := map[string]Status{
		"pending":   StatusQueued,
		"running":   StatusRunning,
		"completed": StatusSucceeded,
		"failed":    StatusFailed,
	}
	for state, want := range tests {
		if got := StatusFromState(batchState(state)); got != want {
			t.Fatalf("StatusFromState(%s) = %s, want %s", state, got, want)
		}
	}
}
