// Package signal provides replay-last change-notification subjects.
//
// A Subject holds a current value. Publishing replaces the value and calls
// every subscriber synchronously, in subscription order. New subscribers are
// called immediately with the current value.
package signal

import (
	"sort"
	"sync"
)

// Subject is a multicast holder of the latest value of type T.
//
// Publishes on one Subject are serialised. A subscriber must not publish to,
// or subscribe to, the Subject that is calling it.
type Subject[T any] struct {
	mu     sync.Mutex
	emitMu sync.Mutex
	value  T
	subs   map[int]func(T)
	nextID int
	equal  func(a, b T) bool
}

// Option configures a Subject.
type Option[T any] func(*Subject[T])

// WithEqual makes Publish a no-op when the new value equals the current one.
func WithEqual[T any](equal func(a, b T) bool) Option[T] {
	return func(s *Subject[T]) { s.equal = equal }
}

// Distinct is WithEqual for comparable types.
func Distinct[T comparable]() Option[T] {
	return WithEqual(func(a, b T) bool { return a == b })
}

// New creates a Subject holding initial.
func New[T any](initial T, opts ...Option[T]) *Subject[T] {
	s := &Subject[T]{
		value: initial,
		subs:  make(map[int]func(T)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Value returns the current value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Publish stores v and notifies subscribers. It reports whether subscribers
// were notified.
func (s *Subject[T]) Publish(v T) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.equal != nil && s.equal(s.value, v) {
		s.mu.Unlock()
		return false
	}
	s.value = v
	subs := s.snapshotLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
	return true
}

// Update applies fn to the current value and publishes the result.
func (s *Subject[T]) Update(fn func(T) T) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	next := fn(s.value)
	if s.equal != nil && s.equal(s.value, next) {
		s.mu.Unlock()
		return false
	}
	s.value = next
	subs := s.snapshotLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return true
}

// Subscribe registers fn, calls it with the current value and returns a func
// that removes the subscription. The returned func is safe to call twice.
func (s *Subject[T]) Subscribe(fn func(T)) func() {
	s.emitMu.Lock()
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	current := s.value
	s.mu.Unlock()
	fn(current)
	s.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of active subscriptions.
func (s *Subject[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Subject[T]) snapshotLocked() []func(T) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(T), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}
