package server

import (
	"sync"

	"github.com/loykin/appgate/internal/progress"
)

const subscriberBuffer = 16

// Hub fans progress events out to SSE subscribers. It implements
// progress.Sink; Report never blocks, slow subscribers lose events. The most
// recent event is replayed to new subscribers so a splash screen that
// connects mid-startup still gets the current state.
type Hub struct {
	mu   sync.Mutex
	subs map[chan progress.Event]struct{}
	last *progress.Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan progress.Event]struct{})}
}

func (h *Hub) Report(ev progress.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &ev
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called exactly once when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, subscriberBuffer)
	h.mu.Lock()
	if h.last != nil {
		ch <- *h.last
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
