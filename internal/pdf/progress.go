package pdf

import "github.com/yourusername/paper-batch/internal/batch"

// 進捗の目安: 読込 0→20% / 処理 20→80% / 書込 80→100%
const (
	progressLoaded    = 20
	progressProcessed = 80
	progressDone      = 100
)

func reportProgress(cb batch.ProgressFunc, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(percent)
}

// stepProgress は処理段階 (20→80%) の中で i/n 番目の進捗を返します。
func stepProgress(i, n int) int {
	if n <= 0 {
		return progressProcessed
	}
	return progressLoaded + (progressProcessed-progressLoaded)*i/n
}
