package lldb

import (
	"sync"
	"time"

	"github.com/ctagard/lldb-agent/pkg/types"
)

// Hub fans debugger output lines out to subscribers.
//
// Publish never blocks: each subscriber owns an unbounded queue drained by
// its own goroutine, so a slow reader only delays itself. Events reach
// every subscriber in publication order.
type Hub struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish records one line and queues it for every current subscriber
func (h *Hub) Publish(stream, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	ev := types.OutputEvent{Seq: h.seq, Stream: stream, Line: line, Time: time.Now()}
	for s := range h.subs {
		s.push(ev)
	}
}

// Subscribe registers a new subscriber. The returned channel is closed after
// the hub is closed and every queued event has been delivered, or when the
// cancel function is called.
func (h *Hub) Subscribe() (<-chan types.OutputEvent, func()) {
	s := &subscriber{
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan types.OutputEvent),
	}

	h.mu.Lock()
	if h.closed {
		s.closed = true
	} else {
		h.subs[s] = struct{}{}
	}
	h.mu.Unlock()

	go s.pump()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.quit)
		})
	}
	return s.out, cancel
}

// Close stops accepting events. Subscribers still receive what was queued.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.finish()
	}
	h.subs = nil
}

type subscriber struct {
	mu     sync.Mutex
	queue  []types.OutputEvent
	closed bool
	signal chan struct{}
	quit   chan struct{}
	out    chan types.OutputEvent
}

func (s *subscriber) push(ev types.OutputEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.quit:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = types.OutputEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}
