package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/pdf"
)

const defaultWriteTimeout = 3 * time.Second

// Recorder はスケジューラのイベントを Store に書き込む batch.Sink です。
type Recorder struct {
	store   *Store
	baseURL string
	logger  logrus.FieldLogger
	timeout time.Duration
}

// NewRecorder は Recorder を作成します。baseURL が空の場合は API のダウンロードパスを使います。
func NewRecorder(store *Store, baseURL string, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		store:   store,
		baseURL: baseURL,
		logger:  logger.WithField("component", "recorder"),
		timeout: defaultWriteTimeout,
	}
}

// HandleEvent implements batch.Sink.
func (r *Recorder) HandleEvent(ev batch.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	switch ev.Type {
	case batch.EventJobStarted:
		err = r.store.Upsert(ctx, r.recordFrom(ev.Job))
	case batch.EventJobProgress:
		err = r.store.UpdateProgress(ctx, ev.Job.ID, ProgressInfo{
			Percent: ev.Job.Progress,
			Stage:   "processing",
		})
	case batch.EventJobCompleted:
		op, meta := describeResult(ev.Job.Result)
		err = r.store.MarkDone(ctx, ev.Job.ID, op, r.downloadURL(ev.Job), meta)
	case batch.EventJobFailed:
		err = r.store.MarkFailed(ctx, ev.Job.ID, ErrorInfoFrom(ev.Job.Err))
	case batch.EventAllCompleted:
		err = r.store.SaveSummary(ctx, Summary{
			Total:       ev.Stats.Total,
			Completed:   ev.Stats.Completed,
			Failed:      ev.Stats.Failed,
			Percent:     ev.Stats.Percent(),
			CompletedAt: ev.At.UTC(),
		})
	}
	if errors.Is(err, ErrNotFound) {
		err = r.store.Upsert(ctx, r.recordFrom(ev.Job))
	}
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event": ev.Type,
			"job":   ev.Job.ID,
		}).Warn("failed to record job event")
	}
}

func (r *Recorder) recordFrom(j batch.Job) *Record {
	record := &Record{
		JobID:     j.ID,
		Filename:  inputName(j),
		Status:    StatusFromState(j.State),
		Progress:  ProgressInfo{Percent: j.Progress, Stage: string(j.State)},
		CreatedAt: j.SubmittedAt.UTC(),
	}
	switch j.State {
	case batch.StateCompleted:
		record.Operation, record.Meta = describeResult(j.Result)
		record.DownloadURL = r.downloadURL(j)
	case batch.StateFailed:
		record.Error = ErrorInfoFrom(j.Err)
	}
	return record
}

func (r *Recorder) downloadURL(j batch.Job) string {
	filename := ""
	if res, ok := j.Result.(*pdf.Result); ok {
		filename = res.OutputFilename
	}
	return DownloadURL(r.baseURL, j.ID, filename)
}

// DownloadURL はジョブ成果物のダウンロードURLを組み立てます。
func DownloadURL(base, jobID, filename string) string {
	if base == "" {
		return fmt.Sprintf("/api/batch/jobs/%s/download", url.PathEscape(jobID))
	}
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(jobID)
	if filename != "" {
		u += "/" + url.PathEscape(filename)
	}
	return u
}

// ErrorInfoFrom はジョブのエラーを利用者向けのコードとメッセージに変換します。
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var apiErr *pdf.Error
	switch {
	case errors.As(err, &apiErr):
		return &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message}
	case errors.Is(err, batch.ErrInvalidOperation):
		return &ErrorInfo{Code: "INVALID_OPERATION", Message: "処理が指定されていません。"}
	case errors.Is(err, batch.ErrOperationPanic):
		return &ErrorInfo{Code: "INTERNAL_ERROR", Message: "処理中に予期しないエラーが発生しました。"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ErrorInfo{Code: "REQUEST_CANCELED", Message: "処理がキャンセルされました。"}
	default:
		return &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
}

func describeResult(result any) (string, any) {
	if res, ok := result.(*pdf.Result); ok && res != nil {
		return string(res.Operation), res.Meta
	}
	return "", nil
}

func inputName(j batch.Job) string {
	if named, ok := j.Input.(interface{ Name() string }); ok {
		return named.Name()
	}
	return ""
}
