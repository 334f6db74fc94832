// Package batch は複数ファイルへの処理を同時実行数を制限しながら実行するバッチスケジューラを提供します。
package batch

import (
	"context"
	"errors"
	"time"
)

// State はジョブの実行状態を表します。
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal は終端状態かどうかを返します。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	// ErrInvalidOperation は実行可能な Operation が渡されなかったことを表します。
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrOperationPanic は Operation が panic したことを表します。
	ErrOperationPanic = errors.New("operation panicked")
)

// ProgressFunc は Operation が進捗（0-100）を通知するためのコールバックです。
type ProgressFunc func(percent int)

// Operation は1ジョブ分の処理本体です。結果かエラーのどちらか一方を返します。
type Operation func(ctx context.Context, input, options any, progress ProgressFunc) (any, error)

// Job はジョブのスナップショットです。スケジューラ内部の状態とは共有されません。
type Job struct {
	ID          string    `json:"id"`
	Input       any       `json:"-"`
	Options     any       `json:"-"`
	State       State     `json:"state"`
	Progress    int       `json:"progress"`
	Result      any       `json:"-"`
	Err         error     `json:"-"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
}

// ErrorMessage は失敗理由を文字列で返します。失敗していなければ空文字です。
func (j Job) ErrorMessage() string {
	if j.Err == nil {
		return ""
	}
	return j.Err.Error()
}

// Duration は実行時間を返します。終端状態でなければ 0 です。
func (j Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.EndedAt.IsZero() {
		return 0
	}
	return j.EndedAt.Sub(j.StartedAt)
}

// Item は SubmitAll に渡す1件分の投入内容です。
type Item struct {
	Input     any
	Operation Operation
	Options   any
}

// job はスケジューラが所有する可変レコードです。mu の保護下でのみ更新します。
type job struct {
	seq       uint64
	id        string
	input     any
	operation Operation
	options   any

	state       State
	progress    int
	result      any
	err         error
	submittedAt time.Time
	startedAt   time.Time
	endedAt     time.Time
}

func (j *job) snapshot() Job {
	return Job{
		ID:          j.id,
		Input:       j.input,
		Options:     j.options,
		State:       j.state,
		Progress:    j.progress,
		Result:      j.result,
		Err:         j.err,
		SubmittedAt: j.submittedAt,
		StartedAt:   j.startedAt,
		EndedAt:     j.endedAt,
	}
}

func snapshots(list []*job) []Job {
	out := make([]Job, len(list))
	for i, j := range list {
		out[i] = j.snapshot()
	}
	return out
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
