package jobs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/pdf"
)

func batchState(s string) batch.State {
	return batch.State(s)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newScheduler(opts ...batch.Option) *batch.Scheduler {
	opts = append([]batch.Option{batch.WithLogger(quietLogger())}, opts...)
	return batch.New(opts...)
}

func waitDrained(t *testing.T, s *batch.Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

// producing は入力名と同じ内容のPDF成果物を書き出す Operation を返します。
func producing(t *testing.T) batch.Operation {
	dir := t.TempDir()
	return func(_ context.Context, input, _ any, progress batch.ProgressFunc) (any, error) {
		src := input.(pdf.Source)
		progress(50)
		path := filepath.Join(dir, src.Name()+".out")
		if err := os.WriteFile(path, []byte("content of "+src.Name()), 0o640); err != nil {
			return nil, err
		}
		return &pdf.Result{
			Operation:      pdf.OperationRotate,
			OutputPath:     path,
			OutputFilename: "rotated.pdf",
			ResultKind:     pdf.ResultKindPDF,
		}, nil
	}
}

func failing(_ context.Context, _, _ any, _ batch.ProgressFunc) (any, error) {
	return nil, &pdf.Error{Code: "UNSUPPORTED_PDF", Message: "壊れたPDFです。"}
}

func gated(release <-chan struct{}) batch.Operation {
	return func(ctx context.Context, _, _ any, _ batch.ProgressFunc) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil
	}
}

func source(name string) pdf.Source {
	return pdf.Source{Path: "/tmp/" + name, OriginalName: name, Size: 10, Pages: 1}
}
