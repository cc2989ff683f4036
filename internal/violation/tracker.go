// Package violation classifies browser integrity signals into tab-switch and
// fullscreen-exit events and applies the escalation threshold.
package violation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor/clock"
)

// Counter performs authoritative increments. eventID is the idempotency key:
// retrying the same event must not increment twice.
type Counter interface {
	IncrementTabSwitch(ctx context.Context, attemptID, eventID uuid.UUID) (int, error)
	IncrementFullscreenExit(ctx context.Context, attemptID, eventID uuid.UUID) (int, error)
}

// Pending is a counted event awaiting its authoritative acknowledgment.
type Pending struct {
	Kind       model.ViolationKind
	EventID    uuid.UUID
	Seq        uint64
	Optimistic int
}

// Tracker holds the local cache of both counters. It is not safe for
// concurrent use; the session controller is its only caller.
type Tracker struct {
	clock   clock.Clock
	dedup   time.Duration
	max     int
	counts  map[model.ViolationKind]int
	sent    map[model.ViolationKind]uint64
	applied map[model.ViolationKind]uint64

	lastTabSwitch time.Time
	seenTabSwitch bool
}

// NewTracker returns a tracker with the given dedup window and tab-switch threshold
// (model.UnlimitedTabSwitches disables it).
func NewTracker(c clock.Clock, dedup time.Duration, maxTabSwitches int) *Tracker {
	return &Tracker{
		clock:   c,
		dedup:   dedup,
		max:     maxTabSwitches,
		counts:  make(map[model.ViolationKind]int),
		sent:    make(map[model.ViolationKind]uint64),
		applied: make(map[model.ViolationKind]uint64),
	}
}

// Reset replaces both counters with server values and the threshold with max.
// Used when the controller reconciles after construction.
func (t *Tracker) Reset(tabSwitches, fullscreenExits, maxTabSwitches int) {
	t.counts[model.ViolationTabSwitch] = tabSwitches
	t.counts[model.ViolationFullscreenExit] = fullscreenExits
	t.max = maxTabSwitches
}

// OnVisibilityLost counts a tab switch unless one was counted within the dedup window.
func (t *Tracker) OnVisibilityLost() (Pending, bool) {
	return t.tabSwitch()
}

// OnWindowBlur counts a tab switch unless one was counted within the dedup window.
func (t *Tracker) OnWindowBlur() (Pending, bool) {
	return t.tabSwitch()
}

// OnFullscreenExited counts a fullscreen exit. There is no dedup for this kind.
func (t *Tracker) OnFullscreenExited() Pending {
	return t.count(model.ViolationFullscreenExit)
}

func (t *Tracker) tabSwitch() (Pending, bool) {
	now := t.clock.Now()
	if t.seenTabSwitch && now.Sub(t.lastTabSwitch) < t.dedup {
		return Pending{}, false
	}
	t.seenTabSwitch = true
	t.lastTabSwitch = now
	return t.count(model.ViolationTabSwitch), true
}

func (t *Tracker) count(kind model.ViolationKind) Pending {
	t.counts[kind]++
	t.sent[kind]++
	return Pending{
		Kind:       kind,
		EventID:    uuid.New(),
		Seq:        t.sent[kind],
		Optimistic: t.counts[kind],
	}
}

// Send issues the authoritative increment for p.
func Send(ctx context.Context, c Counter, attemptID uuid.UUID, p Pending) (int, error) {
	if p.Kind == model.ViolationFullscreenExit {
		return c.IncrementFullscreenExit(ctx, attemptID, p.EventID)
	}
	return c.IncrementTabSwitch(ctx, attemptID, p.EventID)
}

// Acknowledge replaces the local counter with the server's value. Acks older than
// one already applied for the same kind are dropped so counts follow send order.
// It reports whether the value was applied.
func (t *Tracker) Acknowledge(p Pending, serverCount int) bool {
	if p.Seq <= t.applied[p.Kind] {
		return false
	}
	t.applied[p.Kind] = p.Seq
	t.counts[p.Kind] = serverCount
	return true
}

func (t *Tracker) Count(kind model.ViolationKind) int {
	return t.counts[kind]
}

// Breached reports whether kind has reached its escalation threshold.
// Only tab switches have a count threshold.
func (t *Tracker) Breached(kind model.ViolationKind) bool {
	if kind != model.ViolationTabSwitch || t.max == model.UnlimitedTabSwitches {
		return false
	}
	return t.counts[kind] >= t.max
}
