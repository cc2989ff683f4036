// Package clock is the controller's time source: wall-clock reads, one-shot
// timers and periodic ticks, with a manually advanced implementation for tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call stopped a pending firing.
	Stop() bool
}

// Clock supplies the current time and schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) Every(d time.Duration, f func()) Timer {
	t := &realTicker{ticker: time.NewTicker(d), done: make(chan struct{})}
	go t.loop(f)
	return t
}

type realTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *realTicker) loop(f func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			f()
		}
	}
}

func (t *realTicker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}

// Countdown converts a fixed deadline into remaining time on a clock.
type Countdown struct {
	clock    Clock
	deadline time.Time
}

// NewCountdown returns a countdown to deadline.
func NewCountdown(c Clock, deadline time.Time) Countdown {
	return Countdown{clock: c, deadline: deadline}
}

// Remaining is max(0, deadline - now).
func (c Countdown) Remaining() time.Duration {
	left := c.deadline.Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Seconds is Remaining rounded up to whole seconds, so a display never shows 0 early.
func (c Countdown) Seconds() int64 {
	return CeilSeconds(c.Remaining())
}

// CeilSeconds rounds d up to whole seconds.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
