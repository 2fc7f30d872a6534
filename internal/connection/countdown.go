package connection

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ExpiredLabel is shown once a code has run out.
const ExpiredLabel = "expired"

// Tick is one countdown update.
type Tick struct {
	Remaining time.Duration
	Display   string
	Expired   bool
}

// FormatRemaining renders d as MM:SS rounded up to the second, or
// ExpiredLabel when d is not positive.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return ExpiredLabel
	}
	// A partial second counts as a whole one so 00:00 is never shown
	// before expiry.
	total := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// Countdown calls a func every interval with the time left until a deadline.
// It stops by itself after reporting expiry. Stop must be called when the
// owner goes away.
type Countdown struct {
	deadline time.Time
	interval time.Duration
	now      func() time.Time
	fn       func(Tick)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// StartCountdown reports immediately, then every second.
func StartCountdown(ctx context.Context, deadline time.Time, fn func(Tick)) *Countdown {
	return startCountdown(ctx, deadline, time.Second, time.Now, fn)
}

func startCountdown(ctx context.Context, deadline time.Time, interval time.Duration, now func() time.Time, fn func(Tick)) *Countdown {
	c := &Countdown{deadline: deadline, interval: interval, now: now, fn: fn}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)
	return c
}

// Stop cancels the countdown. It is safe to call more than once and from the
// tick func; no tick is reported after it returns, except one already running.
func (c *Countdown) Stop() {
	c.once.Do(func() {
		c.cancel()
	})
}

// Wait blocks until the loop has exited.
func (c *Countdown) Wait() { c.wg.Wait() }

func (c *Countdown) loop(ctx context.Context) {
	defer c.wg.Done()
	if c.report() {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if c.report() {
				return
			}
		}
	}
}

// report emits one tick and reports whether the deadline passed.
func (c *Countdown) report() bool {
	remaining := c.deadline.Sub(c.now())
	if remaining < 0 {
		remaining = 0
	}
	expired := remaining == 0
	c.fn(Tick{Remaining: remaining, Display: FormatRemaining(remaining), Expired: expired})
	return expired
}
