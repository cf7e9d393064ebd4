// Package state provides a small observable value container.
//
// A Store holds the latest value of some UI-observable state and fans change
// notifications out to subscribers. Subscribers never block the publisher:
// each subscription channel holds at most one pending value and a newer value
// replaces an unread older one.
package state

import "sync"

// Store is a single authoritative holder of a value of type T.
type Store[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[int]chan T
	nextID int
}

// New creates a store seeded with the initial value.
func New[T any](initial T) *Store[T] {
	return &Store[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the current value and notifies subscribers.
// Values passed to Set must not be mutated afterwards.
func (s *Store[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = v
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that receives every published value (latest
// wins when the reader falls behind) and a cancel function that closes it.
// The current value is delivered immediately.
func (s *Store[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan T, 1)
	ch <- s.value
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// offer performs a non-blocking latest-wins send. Callers hold s.mu, which
// makes the drain-then-send pair atomic with respect to other publishers.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
