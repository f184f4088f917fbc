package settlement

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Hub is the in-process order broadcast. Each resolver task subscribes and
// reads announcements from its own buffered channel; a subscriber that falls
// behind loses announcements rather than stalling the coordinator.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Announcement
	next   int
	buffer int
	logger *zerolog.Logger
}

func NewHub(buffer int, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   map[int]chan Announcement{},
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns the subscriber's channel and a function that closes it.
func (h *Hub) Subscribe() (<-chan Announcement, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Announcement, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Publish(_ context.Context, a Announcement) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- a:
		default:
			h.logger.Warn().
				Int("subscriber", id).
				Str("kind", string(a.Kind)).
				Stringer("order", a.OrderHash).
				Msg("subscriber buffer full - dropping announcement")
		}
	}
	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
