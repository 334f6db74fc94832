package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/config"
	"github.com/yourusername/paper-batch/internal/storage"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(t *testing.T, cfg *config.Config) (*Service, *storage.Local) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{MaxFileSize: 1 << 20, MaxPages: 10}
	}
	store, err := storage.NewLocal(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	svc, err := NewService(cfg, store, quietLogger())
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc, store
}

// fileHeader は multipart フォームを経由して FileHeader を生成します。
func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile returned error: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("ParseMultipartForm returned error: %v", err)
	}
	return req.MultipartForm.File["file"][0]
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, apiErr.Code)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(nil, nil, nil); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := NewService(&config.Config{}, nil, nil); err == nil {
		t.Fatal("expected error without storage")
	}
}

func TestOperationRejectsUnknownType(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Operation("merge")
	assertCode(t, err, "INVALID_INPUT")

	for _, op := range Operations() {
		if _, err := svc.Operation(op); err != nil {
			t.Fatalf("Operation(%s) returned error: %v", op, err)
		}
	}
}

func TestStoreUploadRejectsNonPDF(t *testing.T) {
	svc, store := newTestService(t, nil)

	_, err := svc.StoreUpload(context.Background(), fileHeader(t, "notes.pdf", []byte("just some text")))
	assertCode(t, err, "INVALID_INPUT")

	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected rejected upload to be removed, found %d entries", len(entries))
	}
}

func TestStoreUploadRejectsOversizedFile(t *testing.T) {
	svc, _ := newTestService(t, &config.Config{MaxFileSize: 4})
	_, err := svc.StoreUpload(context.Background(), fileHeader(t, "big.pdf", []byte("%PDF-1.7 too large")))
	assertCode(t, err, "LIMIT_EXCEEDED")
}

func TestStoreUploadRequiresFile(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.StoreUpload(context.Background(), nil)
	assertCode(t, err, "INVALID_INPUT")
}

func TestLoadMissingFile(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Load("/does/not/exist.pdf")
	assertCode(t, err, "INVALID_INPUT")
}

func TestOperationFailsJobForInvalidInput(t *testing.T) {
	svc, store := newTestService(t, nil)
	op, err := svc.Operation(OperationRotate)
	if err != nil {
		t.Fatalf("Operation returned error: %v", err)
	}

	s := batch.New(batch.WithLogger(quietLogger()), batch.WithMaxConcurrent(2))
	badInput := s.Submit("plain.pdf", op, nil)
	badOptions := s.Submit(Source{Path: "/tmp/x.pdf", OriginalName: "x.pdf", Pages: 1}, op, 42)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	for _, id := range []string{badInput, badOptions} {
		job, ok := s.Job(id)
		if !ok {
			t.Fatalf("job %s not found", id)
		}
		if job.State != batch.StateFailed {
			t.Fatalf("expected job %s to fail, got %s", id, job.State)
		}
		assertCode(t, job.Err, "INVALID_INPUT")
	}

	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no workspaces left behind, found %d", len(entries))
	}
}

func TestResultCleanupRunsOnce(t *testing.T) {
	calls := 0
	r := &Result{cleanup: func() error {
		calls++
		return nil
	}}
	_ = r.Cleanup()
	_ = r.Cleanup()
	if calls != 1 {
		t.Fatalf("expected cleanup once, got %d", calls)
	}

	var nilResult *Result
	if err := nilResult.Cleanup(); err != nil {
		t.Fatalf("expected nil error for nil result, got %v", err)
	}
}

func TestResultContentType(t *testing.T) {
	if got := (&Result{ResultKind: ResultKindZIP}).ContentType(); got != "application/zip" {
		t.Fatalf("expected application/zip, got %s", got)
	}
	if got := (&Result{ResultKind: ResultKindPDF}).ContentType(); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", got)
	}
}
