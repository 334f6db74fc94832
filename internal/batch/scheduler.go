package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxConcurrent は同時実行数の既定値です。
const DefaultMaxConcurrent = 3

// Option は Scheduler の生成時設定です。
type Option func(*Scheduler)

// WithMaxConcurrent は同時実行数の上限を設定します。0以下は既定値のままです。
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithLogger はログ出力先を設定します。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock は時刻取得関数を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator はジョブID生成関数を差し替えます。
func WithIDGenerator(gen func() string) Option {
	return func(s *Scheduler) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithContext は Operation に渡す基底コンテキストを設定します。
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.ctx = ctx
		}
	}
}

type subscriber struct {
	sink Sink
}

// Scheduler は待機キュー・実行中集合・完了/失敗台帳を所有し、同時実行数を制限しながらジョブを実行します。
//
// 状態遷移はすべて mu の保護下で行われ、イベントは遷移と同じクリティカルセクションで
// キューに積まれたうえで単一のディスパッチャから順番に配信されます。
type Scheduler struct {
	mu            sync.Mutex
	maxConcurrent int
	logger        logrus.FieldLogger
	now           func() time.Time
	newID         func() string
	ctx           context.Context

	seq       uint64
	pending   []*job
	running   map[string]*job
	completed []*job
	failed    []*job
	index     map[string]*job
	// 前回のドレイン以降に終端状態へ達したジョブがあるか
	settled bool

	subs        []*subscriber
	queue       []Event
	dispatching bool
	changed     chan struct{}
}

// New は Scheduler を作成します。
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		maxConcurrent: DefaultMaxConcurrent,
		logger:        logrus.StandardLogger(),
		now:           time.Now,
		newID:         uuid.NewString,
		ctx:           context.Background(),
		running:       make(map[string]*job),
		index:         make(map[string]*job),
		changed:       make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// MaxConcurrent は同時実行数の上限を返します。
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}

// Submit はジョブを待機キューに追加し、空きスロットがあれば即座に実行を開始します。
// op の妥当性は実行時に判定され、nil の場合はジョブが失敗します。
func (s *Scheduler) Submit(input any, op Operation, options any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.enqueueLocked(input, op, options)
	s.admitLocked()
	return j.id
}

// SubmitAll は複数のジョブをまとめて投入し、投入順のジョブIDを返します。
func (s *Scheduler) SubmitAll(items []Item) []string {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = s.enqueueLocked(item.Input, item.Operation, item.Options).id
	}
	s.admitLocked()
	return ids
}

// Cancel は待機中のジョブを取り除きます。開始済み・終了済み・未知のIDは何もしません。
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, j := range s.pending {
		if j.id != id {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		delete(s.index, id)
		s.logger.WithField("job", id).Debug("pending job cancelled")
		return true
	}
	return false
}

// Clear は待機キューと完了/失敗台帳を空にし、取り除いたジョブを投入順に返します。
// 実行中のジョブには影響せず、それらの終了は空になった台帳に記録されます。
func (s *Scheduler) Clear() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]*job, 0, len(s.pending)+len(s.completed)+len(s.failed))
	for _, list := range [][]*job{s.pending, s.completed, s.failed} {
		for _, j := range list {
			delete(s.index, j.id)
			removed = append(removed, j)
		}
	}
	sort.Slice(removed, func(a, b int) bool { return removed[a].seq < removed[b].seq })

	s.pending = nil
	s.completed = nil
	s.failed = nil
	s.settled = false
	s.notifyLocked()
	s.logger.WithFields(logrus.Fields{
		"removed": len(removed),
		"running": len(s.running),
	}).Debug("scheduler cleared")
	return snapshots(removed)
}

// Status は現在のジョブ数を返します。
func (s *Scheduler) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := StatusSnapshot{
		Pending:   len(s.pending),
		Running:   len(s.running),
		Completed: len(s.completed),
		Failed:    len(s.failed),
	}
	st.Total = st.Pending + st.Running + st.Completed + st.Failed
	return st
}

// Completed は完了台帳のスナップショットを完了順に返します。
func (s *Scheduler) Completed() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshots(s.completed)
}

// Failed は失敗台帳のスナップショットを失敗順に返します。
func (s *Scheduler) Failed() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshots(s.failed)
}

// Job はIDに対応するジョブを返します。
func (s *Scheduler) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.index[id]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// Jobs は管理中の全ジョブを投入順に返します。
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	list := make([]*job, 0, len(s.index))
	for _, j := range s.index {
		list = append(list, j)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].seq < list[b].seq })
	out := snapshots(list)
	s.mu.Unlock()
	return out
}

// Subscribe はイベントの購読者を登録し、登録解除用の関数を返します。
func (s *Scheduler) Subscribe(sink Sink) func() {
	if sink == nil {
		return func() {}
	}
	sub := &subscriber{sink: sink}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, existing := range s.subs {
				if existing == sub {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Stream はチャネル経由でイベントを受け取る購読を作成します。buffer は Events チャネルの容量です。
// 読み手が DefaultBacklog 件以上遅れると購読は打ち切られます。
func (s *Scheduler) Stream(buffer int) *Subscription {
	return s.StreamWithBacklog(buffer, DefaultBacklog)
}

// StreamWithBacklog は未読イベントの上限を指定して Stream を作成します。
func (s *Scheduler) StreamWithBacklog(buffer, backlog int) *Subscription {
	sub := newSubscription(buffer, backlog)
	sub.attach(s.Subscribe(sub))
	return sub
}

// Wait は待機中・実行中のジョブが無くなり、発行済みのイベントがすべて配信されるまで待ちます。
// イベントの配信中（Sink の中）から呼び出してはいけません。
func (s *Scheduler) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if len(s.pending) == 0 && len(s.running) == 0 && !s.dispatching {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) enqueueLocked(input any, op Operation, options any) *job {
	s.seq++
	id := s.newID()
	if _, dup := s.index[id]; dup || id == "" {
		id = fmt.Sprintf("%s-%d", id, s.seq)
	}
	j := &job{
		seq:         s.seq,
		id:          id,
		input:       input,
		operation:   op,
		options:     options,
		state:       StatePending,
		submittedAt: s.now(),
	}
	s.pending = append(s.pending, j)
	s.index[id] = j
	return j
}

// admitLocked は空きスロットを FIFO で埋め、すべて捌けていれば集計イベントを発行します。
func (s *Scheduler) admitLocked() {
	for len(s.running) < s.maxConcurrent && len(s.pending) > 0 {
		j := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]

		j.state = StateRunning
		j.startedAt = s.now()
		s.running[j.id] = j
		s.emitLocked(Event{Type: EventJobStarted, Job: j.snapshot()})
		go s.execute(j)
	}

	if len(s.pending) == 0 && len(s.running) == 0 && s.settled {
		s.settled = false
		stats := s.statsLocked()
		s.logger.WithFields(logrus.Fields{
			"total":     stats.Total,
			"completed": stats.Completed,
			"failed":    stats.Failed,
		}).Info("batch drained")
		s.emitLocked(Event{Type: EventAllCompleted, Stats: stats})
	}
}

func (s *Scheduler) execute(j *job) {
	result, err := s.run(j)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(j, result, err)
	s.admitLocked()
}

func (s *Scheduler) run(j *job) (result any, err error) {
	if j.operation == nil {
		return nil, ErrInvalidOperation
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrOperationPanic, r)
		}
	}()
	return j.operation(s.ctx, j.input, j.options, func(percent int) {
		s.reportProgress(j, percent)
	})
}

func (s *Scheduler) reportProgress(j *job, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.state != StateRunning {
		return
	}
	percent = clampPercent(percent)
	if percent < j.progress {
		return
	}
	j.progress = percent
	s.emitLocked(Event{Type: EventJobProgress, Job: j.snapshot()})
}

func (s *Scheduler) finishLocked(j *job, result any, err error) {
	delete(s.running, j.id)
	j.endedAt = s.now()
	s.settled = true

	entry := s.logger.WithField("job", j.id)
	if err != nil {
		j.state = StateFailed
		j.err = err
		j.result = nil
		s.failed = append(s.failed, j)
		entry.WithError(err).Warn("job failed")
		s.emitLocked(Event{Type: EventJobFailed, Job: j.snapshot()})
		return
	}

	j.state = StateCompleted
	j.result = result
	j.progress = 100
	s.completed = append(s.completed, j)
	entry.WithField("elapsed", j.endedAt.Sub(j.startedAt)).Debug("job completed")
	s.emitLocked(Event{Type: EventJobCompleted, Job: j.snapshot()})
}

func (s *Scheduler) statsLocked() Stats {
	return Stats{
		Total:     len(s.completed) + len(s.failed),
		Completed: len(s.completed),
		Failed:    len(s.failed),
	}
}

func (s *Scheduler) emitLocked(ev Event) {
	ev.At = s.now()
	s.queue = append(s.queue, ev)
	if !s.dispatching {
		s.dispatching = true
		go s.dispatch()
	}
}

// dispatch はキューに積まれたイベントを順番に配信します。同時に動くのは常に1つだけです。
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.dispatching = false
			s.notifyLocked()
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		subs := make([]*subscriber, len(s.subs))
		copy(subs, s.subs)
		s.mu.Unlock()

		for _, sub := range subs {
			s.deliver(sub.sink, ev)
		}
	}
}

func (s *Scheduler) deliver(sink Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("event", ev.Type).Errorf("event sink panicked: %v", r)
		}
	}()
	sink.HandleEvent(ev)
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
