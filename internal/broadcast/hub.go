// Package broadcast fans values out to independent subscribers.
//
// Every subscriber owns an unbounded FIFO drained by its own goroutine, so a
// slow reader never blocks the publisher or its siblings and no value is
// dropped or reordered. A hub can optionally replay the latest value to new
// subscribers and suppress consecutive duplicates.
package broadcast

import "sync"

// Hub is a registry of subscriptions. The zero value is not usable; use New.
type Hub[T any] struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription[T]
	nextID     uint64
	replay     bool
	equal      func(a, b T) bool
	current    T
	hasCurrent bool
	closed     bool
}

// Option configures a Hub.
type Option[T any] func(*Hub[T])

// WithReplay makes Subscribe deliver the most recently published value first.
func WithReplay[T any]() Option[T] {
	return func(h *Hub[T]) { h.replay = true }
}

// WithDedupe drops a Publish whose value equals the previous one.
func WithDedupe[T any](equal func(a, b T) bool) Option[T] {
	return func(h *Hub[T]) { h.equal = equal }
}

// WithInitial seeds the current value without publishing it.
func WithInitial[T any](v T) Option[T] {
	return func(h *Hub[T]) {
		h.current = v
		h.hasCurrent = true
	}
}

func New[T any](opts ...Option[T]) *Hub[T] {
	h := &Hub[T]{subs: make(map[uint64]*Subscription[T])}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscriber. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := newSubscription(h, h.nextID)
	h.nextID++
	if h.replay && h.hasCurrent && !h.closed {
		s.enqueue(h.current)
	}
	if h.closed {
		s.end()
		return s
	}
	h.subs[s.id] = s
	return s
}

// Publish delivers v to every subscriber. It reports false when v was
// suppressed as a duplicate or the hub is closed.
func (h *Hub[T]) Publish(v T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	if h.equal != nil && h.hasCurrent && h.equal(h.current, v) {
		return false
	}
	h.current = v
	h.hasCurrent = true
	for _, s := range h.subs {
		s.enqueue(v)
	}
	return true
}

// Current returns the last published (or seeded) value.
func (h *Hub[T]) Current() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.hasCurrent
}

// Len reports the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription after its queued values are delivered.
// Close is idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.end()
		delete(h.subs, id)
	}
}

// Reopen clears the closed flag so a stopped producer can be restarted.
// Subscriptions ended by Close stay ended.
func (h *Hub[T]) Reopen() {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}
