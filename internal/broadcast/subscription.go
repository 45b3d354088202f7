package broadcast

import "sync"

// Subscription is one consumer's view of a Hub.
type Subscription[T any] struct {
	hub *Hub[T]
	id  uint64

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []T
	ending    bool
	cancelled bool

	out  chan T
	done chan struct{}
}

func newSubscription[T any](h *Hub[T], id uint64) *Subscription[T] {
	s := &Subscription[T]{
		hub:  h,
		id:   id,
		out:  make(chan T),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// C yields values in publish order. It is closed when the subscription is
// closed or the hub shuts down.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close detaches this subscriber only; pending values are discarded.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.queue = nil
	close(s.done)
	s.cond.Broadcast()
	s.mu.Unlock()

	s.hub.remove(s.id)
}

func (s *Subscription[T]) enqueue(v T) {
	s.mu.Lock()
	if !s.cancelled && !s.ending {
		s.queue = append(s.queue, v)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription[T]) end() {
	s.mu.Lock()
	s.ending = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	var zero T
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.ending && !s.cancelled {
			s.cond.Wait()
		}
		if s.cancelled || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
