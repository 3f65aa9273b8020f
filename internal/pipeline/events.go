package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

type EventKind string

const (
	EventPartial     EventKind = "partial"
	EventTranscript  EventKind = "transcript"
	EventTranslation EventKind = "translation"
	EventSpeech      EventKind = "speech"
	EventError       EventKind = "error"
	EventSession     EventKind = "session"
)

// Event is a notification for observers of the pipeline.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Text      string    `json:"text,omitempty"`
	Original  string    `json:"original,omitempty"`
	Source    string    `json:"source,omitempty"`
	Dest      string    `json:"dest,omitempty"`
	State     string    `json:"state,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Err       string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Events fans pipeline events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Events struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	closed  bool
	dropped atomic.Uint64
}

func newEvents() *Events {
	return &Events{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (e *Events) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
}

func (e *Events) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (e *Events) Dropped() uint64 { return e.dropped.Load() }

func (e *Events) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}
