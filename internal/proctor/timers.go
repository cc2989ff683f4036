package proctor

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/proctor/clock"
)

type timerKind string

const (
	timerPrepare  timerKind = "prepare"
	timerGrace    timerKind = "grace"
	timerTick     timerKind = "tick"
	timerDeadline timerKind = "deadline"
	timerRetry    timerKind = "retry"
)

type armedTimer struct {
	timer clock.Timer
	epoch uint64
}

// arm (re)schedules a timer of kind. Any previous timer of the same kind is
// cancelled and its epoch retired, so a firing already queued is dropped.
func (c *Controller) arm(kind timerKind, d time.Duration, periodic bool) {
	epoch := c.cancelTimer(kind) + 1
	fire := func() { c.post(timerFired{kind: kind, epoch: epoch}) }

	var t clock.Timer
	if periodic {
		t = c.clock.Every(d, fire)
	} else {
		t = c.clock.AfterFunc(d, fire)
	}
	c.timers[kind] = &armedTimer{timer: t, epoch: epoch}
}

// cancelTimer stops the timer of kind and returns the retired epoch.
func (c *Controller) cancelTimer(kind timerKind) uint64 {
	at, ok := c.timers[kind]
	if !ok {
		return 0
	}
	if at.timer != nil {
		at.timer.Stop()
		at.timer = nil
	}
	return at.epoch
}

func (c *Controller) cancelAllTimers() {
	for kind := range c.timers {
		c.cancelTimer(kind)
	}
}

// current reports whether a firing belongs to the live timer of its kind.
func (c *Controller) current(ev timerFired) bool {
	at, ok := c.timers[ev.kind]
	return ok && at.timer != nil && at.epoch == ev.epoch
}
