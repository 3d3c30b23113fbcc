// Package events relays pipeline notifications to subscribers. A Hub owns a
// single message channel and a subscriber registry for the lifetime of the
// server; producers never block on slow consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the pipelines.
const (
	TypeUploadFinalized = "upload.finalized"
	TypeUploadFailed    = "upload.failed"
	TypeImportBatch     = "import.batch"
	TypeImportFinished  = "import.finished"
)

// Event is one notification.
type Event struct {
	Type      string      `json:"type"`
	Subject   string      `json:"subject,omitempty"` // session id or run label
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"` // Unix ms
}

// Subscription receives events until cancelled.
type Subscription struct {
	ID     string
	C      <-chan Event
	cancel func()
}

// Cancel unregisters the subscription and closes C.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Hub fans published events out to subscribers.
type Hub struct {
	in         chan Event
	register   chan *subscriber
	unregister chan string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	bufferSize int
}

type subscriber struct {
	id string
	ch chan Event
}

// NewHub creates a hub. bufferSize bounds both the inbound queue and each
// subscriber's queue.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		in:         make(chan Event, bufferSize),
		register:   make(chan *subscriber),
		unregister: make(chan string),
		done:       make(chan struct{}),
		bufferSize: bufferSize,
	}
}

// Run dispatches events until ctx is done. All subscriber channels are
// closed on return.
func (h *Hub) Run(ctx context.Context) {
	subs := make(map[string]*subscriber)
	defer func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		for _, s := range subs {
			close(s.ch)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.register:
			subs[s.id] = s
		case id := <-h.unregister:
			if s, ok := subs[id]; ok {
				delete(subs, id)
				close(s.ch)
			}
		case ev := <-h.in:
			for _, s := range subs {
				select {
				case s.ch <- ev:
				default:
					// slow subscriber, drop
				}
			}
		}
	}
}

// Publish queues an event. It drops the event instead of blocking when the
// hub is saturated or stopped.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.in <- ev:
	default:
	}
}

// Subscribe registers a new subscriber. It returns nil once the hub stopped.
func (h *Hub) Subscribe() *Subscription {
	s := &subscriber{id: uuid.NewString(), ch: make(chan Event, h.bufferSize)}
	select {
	case h.register <- s:
	case <-h.done:
		return nil
	}

	var once sync.Once
	return &Subscription{
		ID: s.id,
		C:  s.ch,
		cancel: func() {
			once.Do(func() {
				select {
				case h.unregister <- s.id:
				case <-h.done:
				}
			})
		},
	}
}
