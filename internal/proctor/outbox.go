package proctor

import "sync"

// Outbox is a non-blocking Observer for transports with a single writer.
// Snapshots coalesce to the latest one; notices and pushed replies keep their
// order and are delivered before the snapshot that followed them.
type Outbox struct {
	wrapSnapshot func(Snapshot) any
	wrapNotice   func(Notice) any

	mu       sync.Mutex
	queue    []any
	snapshot any
	wake     chan struct{}
}

// NewOutbox builds an Outbox that wraps snapshots and notices in transport envelopes.
func NewOutbox(wrapSnapshot func(Snapshot) any, wrapNotice func(Notice) any) *Outbox {
	return &Outbox{
		wrapSnapshot: wrapSnapshot,
		wrapNotice:   wrapNotice,
		wake:         make(chan struct{}, 1),
	}
}

func (o *Outbox) OnSnapshot(s Snapshot) {
	o.mu.Lock()
	o.snapshot = o.wrapSnapshot(s)
	o.mu.Unlock()
	o.signal()
}

func (o *Outbox) OnNotice(n Notice) {
	o.Push(o.wrapNotice(n))
}

// Push queues an arbitrary reply behind everything already queued.
func (o *Outbox) Push(v any) {
	o.mu.Lock()
	if o.snapshot != nil {
		// keep the snapshot ahead of replies queued after it
		o.queue = append(o.queue, o.snapshot)
		o.snapshot = nil
	}
	o.queue = append(o.queue, v)
	o.mu.Unlock()
	o.signal()
}

// Ready fires whenever there is something to Take.
func (o *Outbox) Ready() <-chan struct{} {
	return o.wake
}

// Take returns everything pending in delivery order.
func (o *Outbox) Take() []any {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.queue
	o.queue = nil
	if o.snapshot != nil {
		out = append(out, o.snapshot)
		o.snapshot = nil
	}
	return out
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}
