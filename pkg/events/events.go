// Package events fans pipeline progress out to any number of observers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Phase string

const (
	PhaseProbe     Phase = "probe"
	PhaseNormalize Phase = "normalize"
	PhaseRetrieve  Phase = "retrieve"
	PhaseGenerate  Phase = "generate"
	PhaseLedger    Phase = "ledger"
	PhaseBatch     Phase = "batch"
)

type Status string

const (
	StatusStarted   Status = "started"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Event is one progress record. FindingID and Seq let an observer rebuild
// a per-finding timeline regardless of arrival order.
type Event struct {
	ID        string                 `json:"id"`
	Seq       uint64                 `json:"seq"`
	RunID     string                 `json:"run_id,omitempty"`
	Phase     Phase                  `json:"phase"`
	Status    Status                 `json:"status"`
	FindingID string                 `json:"finding_id,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	At        time.Time              `json:"at"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(e Event)
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	out    chan Event
	done   chan struct{}
	closed bool
}

// pump delivers queued events in order. The queue is unbounded so a slow
// observer never blocks Publish.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, e)
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// finish stops accepting events; queued ones are still delivered unless
// abandon is set.
func (s *subscriber) finish(abandon bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if abandon {
		close(s.done)
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Broker is an in-process publish/subscribe hub.
type Broker struct {
	mu      sync.Mutex
	seq     uint64
	subs    map[*subscriber]struct{}
	history []Event
	keep    int
	closed  bool
	now     func() time.Time
}

// NewBroker keeps the last keep events for late subscribers.
func NewBroker(keep int) *Broker {
	return &Broker{subs: make(map[*subscriber]struct{}), keep: keep, now: time.Now}
}

// Publish stamps and delivers e to every current subscriber. It never blocks
// on observers.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	e.Seq = b.seq
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = b.now().UTC()
	}
	if b.keep > 0 {
		b.history = append(b.history, e)
		if len(b.history) > b.keep {
			b.history = b.history[len(b.history)-b.keep:]
		}
	}
	for s := range b.subs {
		s.push(e)
	}
}

// Subscribe returns a channel of every event published from now on, and a
// cancel func that releases it. The channel closes after cancel or Close.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			s.finish(true)
		})
	}
	return s.out, cancel
}

// Recent returns the retained history, oldest first.
func (b *Broker) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}

// Close drains every subscriber and closes their channels.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for s := range subs {
		s.finish(false)
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}
