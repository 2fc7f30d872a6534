package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskmate/internal/domain"
	"taskmate/internal/storage"
	"taskmate/internal/telemetry"
)

type fakeClient struct {
	code       domain.GeneratedCode
	connectErr error
	connected  string
}

func (f *fakeClient) GenerateCode(context.Context) (domain.GeneratedCode, error) { return f.code, nil }

func (f *fakeClient) Connect(_ context.Context, code string) (domain.ConnectedUser, error) {
	if f.connectErr != nil {
		return domain.ConnectedUser{}, f.connectErr
	}
	f.connected = code
	return domain.ConnectedUser{ID: 5, Username: "ana"}, nil
}

func (f *fakeClient) Disconnect(context.Context, int64, int64) error { return nil }

func (f *fakeClient) ManagedUsers(context.Context) ([]domain.ConnectedUser, error) {
	return []domain.ConnectedUser{{ID: 5}}, nil
}

func (f *fakeClient) Agents(context.Context) ([]domain.ConnectedUser, error) { return nil, nil }

func TestGenerateAndRestore(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	fc := &fakeClient{code: domain.GeneratedCode{Code: "AB12CD", ExpiresAt: domain.Timestamp{Time: now.Add(10 * time.Minute)}}}
	st := storage.NewMemory()
	k := New(fc, st, telemetry.Discard())
	k.Now = func() time.Time { return now }

	saved, err := k.Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if saved.Code != "AB12CD" || saved.SavedAt != now.UnixMilli() {
		t.Fatalf("saved = %+v", saved)
	}
	got, ok := k.Restore()
	if !ok || got.Code != "AB12CD" || !got.ExpiresAt.Equal(saved.ExpiresAt) {
		t.Fatalf("restore = %+v ok=%v", got, ok)
	}
	if got.Remaining(now) != 10*time.Minute {
		t.Fatalf("remaining = %v", got.Remaining(now))
	}

	k.Now = func() time.Time { return now.Add(10 * time.Minute) }
	if _, ok := k.Restore(); ok {
		t.Fatalf("code restored at its expiry instant")
	}
	if _, ok, _ := st.Get(storage.KeyGeneratedCode); ok {
		t.Fatalf("expired code not removed")
	}
}

func TestRestore_DropsGarbage(t *testing.T) {
	st := storage.NewMemory()
	_ = st.Set(storage.KeyGeneratedCode, "{not json")
	k := New(&fakeClient{}, st, telemetry.Discard())
	if _, ok := k.Restore(); ok {
		t.Fatalf("garbage restored")
	}
	if _, ok, _ := st.Get(storage.KeyGeneratedCode); ok {
		t.Fatalf("garbage kept")
	}
}

func TestConnect(t *testing.T) {
	fc := &fakeClient{}
	k := New(fc, storage.NewMemory(), telemetry.Discard())
	ctx := context.Background()
	if _, err := k.Connect(ctx, "   "); !errors.Is(err, ErrEmptyCode) {
		t.Fatalf("blank code err = %v", err)
	}
	if _, err := k.Connect(ctx, " XY99 "); err != nil || fc.connected != "XY99" {
		t.Fatalf("connect: %v code=%q", err, fc.connected)
	}
	fc.connectErr = errors.New("expired")
	if _, err := k.Connect(ctx, "XY99"); !errors.Is(err, fc.connectErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		9*time.Minute + 5*time.Second:    "09:05",
		59 * time.Second:                 "00:59",
		1500 * time.Millisecond:          "00:02",
		300 * time.Millisecond:           "00:01",
		time.Nanosecond:                  "00:01",
		0:                                ExpiredLabel,
		-time.Second:                     ExpiredLabel,
		100*time.Minute + 30*time.Second: "100:30",
	}
	for d, want := range cases {
		if got := FormatRemaining(d); got != want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", d, got, want)
		}
	}
}

// fakeClock advances by step every time it is read.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.t
	c.t = c.t.Add(c.step)
	return cur
}

func TestCountdown_StopsAtExpiry(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start, step: time.Second}
	ticks := make(chan Tick, 16)
	c := startCountdown(context.Background(), start.Add(3*time.Second), time.Millisecond, clock.now, func(tk Tick) { ticks <- tk })
	defer c.Stop()
	c.Wait()
	close(ticks)

	var got []string
	for tk := range ticks {
		got = append(got, tk.Display)
	}
	want := []string{"00:03", "00:02", "00:01", ExpiredLabel}
	if len(got) != len(want) {
		t.Fatalf("ticks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", got, want)
		}
	}
}

func TestCountdown_Stop(t *testing.T) {
	start := time.Now()
	var mu sync.Mutex
	count := 0
	c := startCountdown(context.Background(), start.Add(time.Hour), 5*time.Millisecond, time.Now, func(Tick) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop()
	done := make(chan struct{})
	go func() { c.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("countdown loop did not exit after Stop")
	}
	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != after || after == 0 {
		t.Fatalf("ticks after stop: before=%d after=%d", after, count)
	}
}
