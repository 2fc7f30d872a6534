package signal

import "sync"

// Source is the read side of a Subject.
type Source[T any] interface {
	Value() T
	Subscribe(fn func(T)) func()
}

// Map derives a Subject whose value is fn applied to the latest value of src.
// The derived value is recomputed synchronously on every publish of src.
// The returned func detaches the derived Subject from src.
func Map[A, B any](src Source[A], fn func(A) B, opts ...Option[B]) (*Subject[B], func()) {
	var zero B
	out := New(zero, opts...)
	stop := src.Subscribe(func(v A) {
		out.Publish(fn(v))
	})
	return out, stop
}

// Combine derives a Subject from the latest values of a and b. It recomputes
// whenever either upstream publishes. Recomputations are serialised and each
// reads both upstreams, so the last one published always reflects the
// current pair even when a and b publish from different goroutines.
func Combine[A, B, C any](a Source[A], b Source[B], fn func(A, B) C, opts ...Option[C]) (*Subject[C], func()) {
	var zero C
	out := New(zero, opts...)
	var mu sync.Mutex
	recompute := func() {
		mu.Lock()
		defer mu.Unlock()
		out.Publish(fn(a.Value(), b.Value()))
	}
	stopA := a.Subscribe(func(A) { recompute() })
	stopB := b.Subscribe(func(B) { recompute() })
	return out, func() {
		stopA()
		stopB()
	}
}

// Watch forwards every value of s to the returned channel until stop is
// called. Values are dropped when the channel buffer is full.
func Watch[T any](s Source[T], buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan T, buffer)
	unsubscribe := s.Subscribe(func(v T) {
		select {
		case ch <- v:
		default:
		}
	})
	return ch, unsubscribe
}
