// Package notify is a small multi-subscriber observer list. Every component
// that publishes state changes (connection state, message deltas, typing
// banners) exposes a Hub so independent consumers never overwrite each other.
package notify

import (
	"sync"

	"chatsync/tools/safe"

	"go.uber.org/zap"
)

type entry[T any] struct {
	id uint64
	fn func(T)
}

type Hub[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []entry[T]
	log  *zap.Logger
}

func NewHub[T any](log *zap.Logger) *Hub[T] {
	return &Hub[T]{log: log}
}

// Subscribe registers fn and returns a func that removes it. The cancel func
// is safe to call more than once.
func (h *Hub[T]) Subscribe(fn func(T)) (cancel func()) {
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs = append(h.subs, entry[T]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.subs {
				if e.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit calls every subscriber synchronously, in subscription order. A
// panicking subscriber is logged and does not stop the others.
func (h *Hub[T]) Emit(v T) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()
	for _, e := range subs {
		fn := e.fn
		if err := safe.Call(func() { fn(v) }); err != nil && h.log != nil {
			h.log.Error("subscriber panic", zap.Error(err))
		}
	}
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Reset drops all subscribers.
func (h *Hub[T]) Reset() {
	h.mu.Lock()
	h.subs = nil
	h.mu.Unlock()
}
