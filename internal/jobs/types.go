// Package jobs はバッチジョブの状態を Redis に記録し、HTTP で公開します。
package jobs

import (
	"time"

	"github.com/yourusername/paper-batch/internal/batch"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "done"
	StatusFailed    Status = "error"
)

// StatusFromState はスケジューラの状態を記録用の状態に変換します。
func StatusFromState(s batch.State) Status {
	switch s {
	case batch.StateRunning:
		return StatusRunning
	case batch.StateCompleted:
		return StatusSucceeded
	case batch.StateFailed:
		return StatusFailed
	default:
		return StatusQueued
	}
}

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID       string       `json:"jobId"`
	Operation   string       `json:"operation,omitempty"`
	Filename    string       `json:"filename,omitempty"`
	Status      Status       `json:"status"`
	Progress    ProgressInfo `json:"progress"`
	DownloadURL string       `json:"downloadUrl,omitempty"`
	Meta        any          `json:"meta,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// Summary は直近のバッチ完了時の集計です。
type Summary struct {
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Percent     float64   `json:"percent"`
	CompletedAt time.Time `json:"completedAt"`
}
