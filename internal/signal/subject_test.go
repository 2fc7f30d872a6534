package signal

import (
	"sync"
	"testing"
	"time"
)

func TestSubject_ReplayOnSubscribe(t *testing.T) {
	s := New(7)
	var got []int
	stop := s.Subscribe(func(v int) { got = append(got, v) })
	defer stop()

	s.Publish(8)
	if len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("got %v, want [7 8]", got)
	}
}

func TestSubject_Distinct(t *testing.T) {
	s := New("a", Distinct[string]())
	calls := 0
	stop := s.Subscribe(func(string) { calls++ })
	defer stop()

	if s.Publish("a") {
		t.Fatalf("publishing equal value should be a no-op")
	}
	s.Publish("b")
	s.Publish("b")
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSubject_Unsubscribe(t *testing.T) {
	s := New(0)
	calls := 0
	stop := s.Subscribe(func(int) { calls++ })
	if s.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", s.SubscriberCount())
	}
	stop()
	stop()
	s.Publish(1)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (replay only)", calls)
	}
	if s.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", s.SubscriberCount())
	}
}

func TestSubject_SubscriptionOrder(t *testing.T) {
	s := New(0)
	var order []string
	defer s.Subscribe(func(v int) {
		if v > 0 {
			order = append(order, "first")
		}
	})()
	defer s.Subscribe(func(v int) {
		if v > 0 {
			order = append(order, "second")
		}
	})()
	s.Publish(1)
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v", order)
	}
}

func TestSubject_Update(t *testing.T) {
	s := New([]int{1})
	s.Update(func(cur []int) []int { return append(append([]int(nil), cur...), 2) })
	if got := s.Value(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("value = %v", got)
	}
}

func TestMap_RecomputesOnPublish(t *testing.T) {
	src := New(2)
	doubled, stop := Map(src, func(v int) int { return v * 2 })
	defer stop()
	if doubled.Value() != 4 {
		t.Fatalf("initial = %d, want 4", doubled.Value())
	}
	src.Publish(5)
	if doubled.Value() != 10 {
		t.Fatalf("after publish = %d, want 10", doubled.Value())
	}
	stop()
	src.Publish(6)
	if doubled.Value() != 10 {
		t.Fatalf("stopped map should not recompute, got %d", doubled.Value())
	}
}

func TestCombine_EitherUpstream(t *testing.T) {
	a := New(1)
	b := New("x")
	out, stop := Combine(a, b, func(n int, s string) string {
		return s + string(rune('0'+n))
	})
	defer stop()
	if out.Value() != "x1" {
		t.Fatalf("initial = %q", out.Value())
	}
	a.Publish(2)
	if out.Value() != "x2" {
		t.Fatalf("after a = %q", out.Value())
	}
	b.Publish("y")
	if out.Value() != "y2" {
		t.Fatalf("after b = %q", out.Value())
	}
}

func TestCombine_ConcurrentUpstreamsEndOnCurrentPair(t *testing.T) {
	a := New(0)
	b := New(0)
	slow := make(chan struct{})
	var once sync.Once
	out, stop := Combine(a, b, func(x, y int) [2]int {
		if x == 1 && y == 0 {
			once.Do(func() { close(slow) })
			time.Sleep(50 * time.Millisecond)
		}
		return [2]int{x, y}
	})
	defer stop()

	done := make(chan struct{})
	go func() {
		a.Publish(1)
		close(done)
	}()
	<-slow
	b.Publish(1)
	<-done

	if got := out.Value(); got != [2]int{1, 1} {
		t.Fatalf("combined = %v, upstreams a=%d b=%d", got, a.Value(), b.Value())
	}
}

func TestWatch_Delivers(t *testing.T) {
	s := New(0)
	ch, stop := Watch[int](s, 4)
	defer stop()
	<-ch // replay
	go s.Publish(3)
	select {
	case v := <-ch:
		if v != 3 {
			t.Fatalf("v = %d, want 3", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for value")
	}
}

func TestSubject_ConcurrentPublish(t *testing.T) {
	s := New(0)
	var mu sync.Mutex
	seen := 0
	defer s.Subscribe(func(int) {
		mu.Lock()
		seen++
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				s.Publish(id*100 + i)
			}
		}(g)
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if seen != 51 {
		t.Fatalf("seen = %d, want 51", seen)
	}
}
