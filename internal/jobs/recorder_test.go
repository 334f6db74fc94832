package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/pdf"
)

func TestRecorderMirrorsSchedulerEvents(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	s := newScheduler(batch.WithMaxConcurrent(2))
	s.Subscribe(NewRecorder(store, "", quietLogger()))

	okID := s.Submit(source("a.pdf"), producing(t), nil)
	failID := s.Submit(source("b.pdf"), failing, nil)
	waitDrained(t, s)

	ctx := context.Background()
	done, err := store.Get(ctx, okID)
	if err != nil || done == nil {
		t.Fatalf("expected record for %s, got %+v (%v)", okID, done, err)
	}
	if done.Status != StatusSucceeded || done.Operation != "rotate" || done.Filename != "a.pdf" {
		t.Fatalf("unexpected completed record: %+v", done)
	}
	if done.DownloadURL != fmt.Sprintf("/api/batch/jobs/%s/download", okID) {
		t.Fatalf("unexpected download url: %s", done.DownloadURL)
	}

	failed, err := store.Get(ctx, failID)
	if err != nil || failed == nil {
		t.Fatalf("expected record for %s, got %+v (%v)", failID, failed, err)
	}
	if failed.Status != StatusFailed || failed.Error == nil || failed.Error.Code != "UNSUPPORTED_PDF" {
		t.Fatalf("unexpected failed record: %+v", failed)
	}

	summary, err := store.GetSummary(ctx)
	if err != nil || summary == nil {
		t.Fatalf("expected summary, got %+v (%v)", summary, err)
	}
	if summary.Total != 2 || summary.Completed != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRecorderRecreatesMissingRecord(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	rec := NewRecorder(store, "https://files.example.com/results/", quietLogger())

	rec.HandleEvent(batch.Event{
		Type: batch.EventJobCompleted,
		Job: batch.Job{
			ID:     "late",
			Input:  source("c.pdf"),
			State:  batch.StateCompleted,
			Result: &pdf.Result{Operation: pdf.OperationEncrypt, OutputFilename: "encrypted.pdf"},
		},
		At: time.Now(),
	})

	record, err := store.Get(context.Background(), "late")
	if err != nil || record == nil {
		t.Fatalf("expected record to be created, got %+v (%v)", record, err)
	}
	if record.Status != StatusSucceeded || record.Operation != "encrypt" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.DownloadURL != "https://files.example.com/results/late/encrypted.pdf" {
		t.Fatalf("unexpected download url: %s", record.DownloadURL)
	}
}

func TestErrorInfoFrom(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{err: &pdf.Error{Code: "LIMIT_EXCEEDED", Message: "too big"}, code: "LIMIT_EXCEEDED"},
		{err: fmt.Errorf("wrapped: %w", batch.ErrInvalidOperation), code: "INVALID_OPERATION"},
		{err: batch.ErrOperationPanic, code: "INTERNAL_ERROR"},
		{err: context.Canceled, code: "REQUEST_CANCELED"},
		{err: errors.New("disk full"), code: "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		info := ErrorInfoFrom(tt.err)
		if info == nil || info.Code != tt.code {
			t.Fatalf("ErrorInfoFrom(%v) = %+v, want code %s", tt.err, info, tt.code)
		}
	}
	if ErrorInfoFrom(nil) != nil {
		t.Fatal("expected nil info for nil error")
	}
}
