package batch

import (
	"sync"
	"time"
)

// EventType はスケジューラが発行するイベントの種別です。
type EventType string

const (
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventAllCompleted EventType = "batch.completed"
)

// Event はジョブの状態遷移を表します。AllCompleted の場合は Stats のみが有効です。
type Event struct {
	Type  EventType `json:"type"`
	Job   Job       `json:"job"`
	Stats Stats     `json:"stats"`
	At    time.Time `json:"at"`
}

// Sink はイベントの購読者です。
type Sink interface {
	HandleEvent(Event)
}

// SinkFunc は関数を Sink として扱うためのアダプタです。
type SinkFunc func(Event)

// HandleEvent implements Sink.
func (f SinkFunc) HandleEvent(ev Event) {
	if f != nil {
		f(ev)
	}
}

// Callbacks はイベント種別ごとのコールバック集合です。未設定のものは無視されます。
type Callbacks struct {
	OnJobStart    func(Job)
	OnJobProgress func(Job)
	OnJobComplete func(Job)
	OnJobFailed   func(Job)
	OnAllComplete func(Stats)
}

// HandleEvent implements Sink.
func (c Callbacks) HandleEvent(ev Event) {
	switch ev.Type {
	case EventJobStarted:
		if c.OnJobStart != nil {
			c.OnJobStart(ev.Job)
		}
	case EventJobProgress:
		if c.OnJobProgress != nil {
			c.OnJobProgress(ev.Job)
		}
	case EventJobCompleted:
		if c.OnJobComplete != nil {
			c.OnJobComplete(ev.Job)
		}
	case EventJobFailed:
		if c.OnJobFailed != nil {
			c.OnJobFailed(ev.Job)
		}
	case EventAllCompleted:
		if c.OnAllComplete != nil {
			c.OnAllComplete(ev.Stats)
		}
	}
}

// DefaultBacklog は Subscription が読み手を待たずに溜めておけるイベント数です。
const DefaultBacklog = 256

// Subscription はチャネル経由の購読です。イベントは購読ごとのゴルーチンから Events に送られるため、
// 読み手が遅れてもスケジューラや他の購読者は待たされません。
// 未読のイベントが上限を超えた購読は Close され、Overflowed が true になります。
type Subscription struct {
	Events <-chan Event

	ch     chan Event
	done   chan struct{}
	wake   chan struct{}
	once   sync.Once
	cancel func()

	mu         sync.Mutex
	backlog    []Event
	limit      int
	overflowed bool
}

func newSubscription(buffer, backlog int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	ch := make(chan Event, buffer)
	s := &Subscription{
		Events: ch,
		ch:     ch,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		limit:  backlog,
	}
	go s.pump()
	return s
}

// HandleEvent implements Sink. ブロックしません。
func (s *Subscription) HandleEvent(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	if len(s.backlog) >= s.limit {
		s.overflowed = true
		s.mu.Unlock()
		s.Close()
		return
	}
	s.backlog = append(s.backlog, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump は溜まったイベントを順番に Events へ送ります。
func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		if len(s.backlog) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.backlog[0]
		s.backlog[0] = Event{}
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

// Close は購読を終了します。Events チャネル自体は閉じません。
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// attach は登録解除関数を設定します。既に Close 済みなら即座に解除します。
func (s *Subscription) attach(cancel func()) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	select {
	case <-s.done:
		cancel()
	default:
	}
}

// Done は Close されたときに閉じられるチャネルを返します。
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Overflowed は読み手が追いつかずに購読が打ち切られたかどうかを返します。
func (s *Subscription) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}
