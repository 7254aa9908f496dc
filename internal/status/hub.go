package status

import (
	"sync"
	"time"
)

const sendBuffer = 256

type subscriber struct {
	send chan Envelope
}

// Hub fans envelopes out to every connected watcher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]*subscriber)}
}

// Add registers a watcher. send is called from a dedicated goroutine, so a
// slow watcher never blocks Broadcast. The returned func unregisters it.
func (h *Hub) Add(connID string, send func(Envelope) error) (remove func()) {
	ch := make(chan Envelope, sendBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range ch {
			if err := send(env); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	if old, ok := h.subs[connID]; ok {
		close(old.send)
	}
	sub := &subscriber{send: ch}
	h.subs[connID] = sub
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		if h.subs[connID] != sub {
			h.mu.Unlock()
			return
		}
		delete(h.subs, connID)
		close(ch)
		h.mu.Unlock()

		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

// Broadcast queues env for every watcher, skipping any whose buffer is full.
// Sends never block, so the read lock keeps channels from closing under us.
func (h *Hub) Broadcast(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.send <- env:
		default:
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
