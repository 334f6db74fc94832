package pdf

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/paper-batch/internal/batch"
)

// Uploader はアップロードの保存と処理の解決を提供します。*Service が実装します。
type Uploader interface {
	StoreUpload(ctx context.Context, file *multipart.FileHeader) (Source, error)
	Discard(src Source) error
	Operation(op OperationType) (batch.Operation, error)
}

// Submitter はジョブをまとめて投入します。*batch.Scheduler が実装します。
type Submitter interface {
	SubmitAll(items []batch.Item) []string
}

// SubmitHandler は POST /api/batch/:operation のハンドラーを返します。
// アップロードされたファイルごとに1ジョブを投入し、202 でジョブIDを返します。
func SubmitHandler(svc Uploader, scheduler Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		op := OperationType(strings.ToLower(strings.TrimSpace(c.Param("operation"))))
		operation, err := svc.Operation(op)
		if err != nil {
			respondWithError(c, err)
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		files := extractFiles(form)
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "アップロードされたPDFファイルが見つかりません。",
			})
			return
		}

		opts, err := DecodeOptions(c.PostForm("options"))
		if err != nil {
			respondWithError(c, err)
			return
		}

		sources := make([]Source, 0, len(files))
		for _, fh := range files {
			src, err := svc.StoreUpload(c.Request.Context(), fh)
			if err != nil {
				for _, stored := range sources {
					_ = svc.Discard(stored)
				}
				respondWithError(c, err)
				return
			}
			sources = append(sources, src)
		}

		items := make([]batch.Item, len(sources))
		for i, src := range sources {
			items[i] = batch.Item{Input: src, Operation: operation, Options: opts}
		}
		ids := scheduler.SubmitAll(items)

		c.JSON(http.StatusAccepted, gin.H{
			"operation": op,
			"jobIds":    ids,
		})
	}
}

// OperationsHandler は GET /api/batch/operations のハンドラーを返します。
func OperationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operations": Operations()})
	}
}

func extractFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, key := range []string{"files[]", "files", "file", "file[]"} {
		if files := form.File[key]; len(files) > 0 {
			return files
		}
	}
	return nil
}

// StatusFor はエラーに対応する HTTP ステータスとエラーコードを返します。
func StatusFor(err error) (int, string, string) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		if apiErr.Code == "LIMIT_EXCEEDED" {
			status = http.StatusRequestEntityTooLarge
		}
		return status, apiErr.Code, apiErr.Message
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "REQUEST_CANCELED", "リクエストがキャンセルされました。"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました。"
	}
}

func respondWithError(c *gin.Context, err error) {
	status, code, message := StatusFor(err)
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}
