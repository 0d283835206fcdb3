// Package broadcast provides a latest-value signal: one owner sets a value,
// any number of observers read it or subscribe to changes.
package broadcast

import "sync"

// Signal holds the current value and fans changes out to subscribers.
// Subscribers that fall behind only ever see the most recent value.
type Signal[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// New creates a signal holding initial.
func New[T any](initial T) *Signal[T] {
	return &Signal[T]{
		value: initial,
		subs:  make(map[*Subscription[T]]struct{}),
	}
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set stores v and notifies subscribers. It never blocks on slow readers.
func (s *Signal[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.value = v
	for sub := range s.subs {
		sub.send(v)
	}
}

// Update applies fn to the current value under the signal's lock and
// publishes the result.
func (s *Signal[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.value
	}
	s.value = fn(s.value)
	for sub := range s.subs {
		sub.send(s.value)
	}
	return s.value
}

// Subscribe registers an observer. The current value is delivered first.
func (s *Signal[T]) Subscribe() *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &Subscription[T]{ch: make(chan T, 1), owner: s}
	if s.closed {
		sub.close()
		return sub
	}
	sub.send(s.value)
	s.subs[sub] = struct{}{}
	return sub
}

// Close closes every subscription; later Sets are dropped.
func (s *Signal[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.close()
	}
	s.subs = nil
}

func (s *Signal[T]) remove(sub *Subscription[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs != nil {
		delete(s.subs, sub)
	}
}

// Subscription receives signal values.
type Subscription[T any] struct {
	ch     chan T
	owner  *Signal[T]
	mu     sync.Mutex
	closed bool
}

// C returns the channel of values. It is closed when the subscription or
// the signal is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unsubscribes.
func (s *Subscription[T]) Close() {
	s.owner.remove(s)
	s.close()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send replaces any undelivered value with v.
func (s *Subscription[T]) send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}
