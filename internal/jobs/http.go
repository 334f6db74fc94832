package jobs

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-batch/internal/batch"
	"github.com/yourusername/paper-batch/internal/bundle"
	"github.com/yourusername/paper-batch/internal/pdf"
)

const eventBuffer = 64

// Scheduler は HTTP ハンドラーが利用するスケジューラの操作です。*batch.Scheduler が実装します。
type Scheduler interface {
	MaxConcurrent() int
	Status() batch.StatusSnapshot
	Jobs() []batch.Job
	Job(id string) (batch.Job, bool)
	Cancel(id string) bool
	Clear() []batch.Job
	Stream(buffer int) *batch.Subscription
}

// Discarder はジョブ入力の後始末を行います。*pdf.Service が実装します。
type Discarder interface {
	Discard(src pdf.Source) error
}

// Handlers はバッチの状態参照・操作用の HTTP ハンドラーです。
type Handlers struct {
	scheduler Scheduler
	store     *Store
	discarder Discarder
	baseURL   string
	logger    logrus.FieldLogger
}

// NewHandlers は Handlers を作成します。store と discarder は nil でも構いません。
func NewHandlers(scheduler Scheduler, store *Store, discarder Discarder, baseURL string, logger logrus.FieldLogger) *Handlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handlers{
		scheduler: scheduler,
		store:     store,
		discarder: discarder,
		baseURL:   baseURL,
		logger:    logger.WithField("component", "jobs-http"),
	}
}

// Register は group 配下にルートを登録します。
func (h *Handlers) Register(group gin.IRoutes) {
	group.GET("/status", h.Status)
	group.GET("/jobs", h.List)
	group.GET("/jobs/:id", h.Get)
	group.DELETE("/jobs/:id", h.Cancel)
	group.POST("/clear", h.Clear)
	group.GET("/jobs/:id/download", h.DownloadJob)
	group.GET("/download", h.DownloadAll)
	group.GET("/events", h.Events)
}

// Status は GET /status のハンドラーです。
func (h *Handlers) Status(c *gin.Context) {
	st := h.scheduler.Status()
	payload := gin.H{
		"pending":       st.Pending,
		"running":       st.Running,
		"completed":     st.Completed,
		"failed":        st.Failed,
		"total":         st.Total,
		"percent":       st.Percent(),
		"drained":       st.Drained(),
		"maxConcurrent": h.scheduler.MaxConcurrent(),
	}
	if h.store != nil {
		summary, err := h.store.GetSummary(c.Request.Context())
		if err != nil {
			h.logger.WithError(err).Warn("failed to load batch summary")
		} else if summary != nil {
			payload["lastSummary"] = summary
		}
	}
	c.JSON(http.StatusOK, payload)
}

// List は GET /jobs のハンドラーです。
func (h *Handlers) List(c *gin.Context) {
	jobs := h.scheduler.Jobs()
	views := make([]gin.H, len(jobs))
	for i, j := range jobs {
		views[i] = h.jobView(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

// Get は GET /jobs/:id のハンドラーです。スケジューラに無い場合は Redis の記録を返します。
func (h *Handlers) Get(c *gin.Context) {
	jobID, ok := requireJobID(c)
	if !ok {
		return
	}
	if j, found := h.scheduler.Job(jobID); found {
		c.JSON(http.StatusOK, h.jobView(j))
		return
	}

	if h.store != nil {
		record, err := h.store.Get(c.Request.Context(), jobID)
		if err != nil {
			h.logger.WithError(err).WithField("job", jobID).Warn("failed to load job record")
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record != nil {
			c.JSON(http.StatusOK, record)
			return
		}
	}

	respondJobNotFound(c)
}

// Cancel は DELETE /jobs/:id のハンドラーです。未実行のジョブのみ取り消されます。
func (h *Handlers) Cancel(c *gin.Context) {
	jobID, ok := requireJobID(c)
	if !ok {
		return
	}
	j, found := h.scheduler.Job(jobID)
	if h.scheduler.Cancel(jobID) && found {
		h.release(j)
		if h.store != nil {
			if err := h.store.Delete(c.Request.Context(), jobID); err != nil {
				h.logger.WithError(err).WithField("job", jobID).Warn("failed to delete job record")
			}
		}
	}
	c.Status(http.StatusNoContent)
}

// Clear は POST /clear のハンドラーです。実行中のジョブは最後まで実行されます。
func (h *Handlers) Clear(c *gin.Context) {
	removed := h.scheduler.Clear()
	ids := make([]string, len(removed))
	for i, j := range removed {
		h.release(j)
		ids[i] = j.ID
	}
	if h.store != nil && len(ids) > 0 {
		if err := h.store.Delete(c.Request.Context(), ids...); err != nil {
			h.logger.WithError(err).WithField("jobs", len(ids)).Warn("failed to delete job records")
		}
	}
	c.Status(http.StatusNoContent)
}

// DownloadJob は GET /jobs/:id/download のハンドラーです。
func (h *Handlers) DownloadJob(c *gin.Context) {
	jobID, ok := requireJobID(c)
	if !ok {
		return
	}
	j, found := h.scheduler.Job(jobID)
	if !found {
		respondJobNotFound(c)
		return
	}
	if j.State != batch.StateCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "JOB_NOT_COMPLETED",
			"message": "ジョブはまだ完了していません。",
			"state":   j.State,
		})
		return
	}
	h.writeBundle(c, []batch.Job{j}, jobID)
}

// DownloadAll は GET /download のハンドラーです。成果物が1件ならそのまま、複数なら ZIP で返します。
func (h *Handlers) DownloadAll(c *gin.Context) {
	h.writeBundle(c, h.scheduler.Jobs(), "")
}

// Events は GET /events のハンドラーです。イベントを Server-Sent Events で配信します。
func (h *Handlers) Events(c *gin.Context) {
	sub := h.scheduler.Stream(eventBuffer)
	defer sub.Close()

	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-sub.Done():
			return false
		case ev, ok := <-sub.Events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), h.eventView(ev))
			return true
		}
	})
}

func (h *Handlers) writeBundle(c *gin.Context, jobs []batch.Job, jobID string) {
	b, err := bundle.Collect(jobs)
	if err != nil {
		if errors.Is(err, bundle.ErrEmpty) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_RESULT_NOT_FOUND",
				"message": "ダウンロードできる成果物がありません。",
			})
			return
		}
		h.logger.WithError(err).Error("failed to collect results")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "成果物の取得に失敗しました。",
		})
		return
	}

	encodedName := url.PathEscape(b.Name)
	c.Header("Content-Type", b.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", b.Name, encodedName))
	c.Header("Cache-Control", "no-store")
	if jobID != "" {
		c.Header("X-Job-Id", jobID)
	}
	c.Status(http.StatusOK)
	if err := b.Write(c.Writer); err != nil {
		h.logger.WithError(err).WithField("bundle", b.Name).Error("failed to stream results")
		_ = c.Error(err)
	}
}

// release はキャンセル・クリアされたジョブの入力と成果物を削除します。
func (h *Handlers) release(j batch.Job) {
	if res, ok := j.Result.(interface{ Cleanup() error }); ok {
		if err := res.Cleanup(); err != nil {
			h.logger.WithError(err).WithField("job", j.ID).Warn("failed to clean up result")
		}
	}
	if h.discarder == nil {
		return
	}
	if src, ok := j.Input.(pdf.Source); ok {
		if err := h.discarder.Discard(src); err != nil {
			h.logger.WithError(err).WithField("job", j.ID).Warn("failed to discard input")
		}
	}
}

func (h *Handlers) jobView(j batch.Job) gin.H {
	view := gin.H{
		"id":          j.ID,
		"status":      StatusFromState(j.State),
		"state":       j.State,
		"progress":    j.Progress,
		"submittedAt": j.SubmittedAt,
	}
	if name := inputName(j); name != "" {
		view["filename"] = name
	}
	if !j.StartedAt.IsZero() {
		view["startedAt"] = j.StartedAt
	}
	if !j.EndedAt.IsZero() {
		view["endedAt"] = j.EndedAt
		view["durationMs"] = j.Duration().Milliseconds()
	}
	switch j.State {
	case batch.StateCompleted:
		op, meta := describeResult(j.Result)
		if op != "" {
			view["operation"] = op
		}
		if meta != nil {
			view["meta"] = meta
		}
		filename := ""
		if res, ok := j.Result.(*pdf.Result); ok {
			filename = res.OutputFilename
		}
		view["downloadUrl"] = DownloadURL(h.baseURL, j.ID, filename)
	case batch.StateFailed:
		view["error"] = ErrorInfoFrom(j.Err)
	}
	return view
}

func (h *Handlers) eventView(ev batch.Event) gin.H {
	if ev.Type == batch.EventAllCompleted {
		return gin.H{
			"total":     ev.Stats.Total,
			"completed": ev.Stats.Completed,
			"failed":    ev.Stats.Failed,
			"percent":   ev.Stats.Percent(),
			"at":        ev.At,
		}
	}
	view := h.jobView(ev.Job)
	view["at"] = ev.At
	return view
}

func requireJobID(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "jobId を指定してください。",
		})
		return "", false
	}
	return jobID, true
}

func respondJobNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    "JOB_NOT_FOUND",
		"message": "指定されたジョブは存在しません。",
	})
}
