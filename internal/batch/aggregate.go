package batch

// Stats は終端状態に達したジョブの集計です。
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Percent は成功したジョブの割合を 0-100 で返します。
func (s Stats) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// Summarize は完了・失敗台帳から集計を計算します。
func Summarize(completed, failed []Job) Stats {
	return Stats{
		Total:     len(completed) + len(failed),
		Completed: len(completed),
		Failed:    len(failed),
	}
}

// StatusSnapshot はある時点での各状態のジョブ数です。
type StatusSnapshot struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Stats は終端状態のジョブだけを集計した値を返します。
func (s StatusSnapshot) Stats() Stats {
	return Stats{
		Total:     s.Completed + s.Failed,
		Completed: s.Completed,
		Failed:    s.Failed,
	}
}

// Percent は投入済みジョブ全体に対する成功数の割合です。
func (s StatusSnapshot) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total) * 100
}

// Drained は待機中・実行中のジョブが無いかどうかを返します。
func (s StatusSnapshot) Drained() bool {
	return s.Pending == 0 && s.Running == 0
}
