// Package proctor implements the proctored session controller: a single-owner
// state machine fed by browser integrity signals, timers and network results,
// which submits the attempt exactly once.
//
// All state is owned by the event loop. Public methods only enqueue events;
// Drain (or Run) processes them one at a time in FIFO order. Timers and
// network effects never touch state directly, they post events back.
package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/navigator"
	"github.com/stemsi/exstem-proctor/internal/proctor/clock"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// Loader fetches the session configuration and the attempt's question list.
type Loader interface {
	LoadConfig(ctx context.Context, assessmentID uuid.UUID) (model.SessionConfig, error)
	LoadQuestions(ctx context.Context, assessmentID uuid.UUID) ([]model.QuestionForStudent, error)
}

// IPLookup resolves the client's public IP for the submission record.
type IPLookup interface {
	PublicIP(ctx context.Context) (string, error)
}

// Submitter is the submission gateway.
type Submitter interface {
	Submit(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// Executor runs effects. Production uses GoExecutor; tests use InlineExecutor
// so effects resolve inside the same Drain call.
type Executor interface {
	Execute(f func())
}

// GoExecutor runs each effect on its own goroutine.
type GoExecutor struct{}

func (GoExecutor) Execute(f func()) { go f() }

// InlineExecutor runs effects synchronously.
type InlineExecutor struct{}

func (InlineExecutor) Execute(f func()) { f() }

// Deps are the controller's collaborators. IPLookup and Executor are optional.
type Deps struct {
	Clock    clock.Clock
	Loader   Loader
	Counter  violation.Counter
	Drafts   *draft.Adapter
	Gateway  Submitter
	IPLookup IPLookup
	Executor Executor
	Observer Observer
	Logger   zerolog.Logger
}

// Options identify the session and carry the policy it runs under.
type Options struct {
	SessionID    uuid.UUID
	AssessmentID uuid.UUID
	StudentID    int
	Policy       config.ProctorPolicy
	// Fullscreen is the document's fullscreen state when the controller is built.
	Fullscreen bool
}

// Controller is one proctored session. Create it with New, call Start, then feed
// it signals.
type Controller struct {
	clock    clock.Clock
	loader   Loader
	counter  violation.Counter
	drafts   *draft.Adapter
	gateway  Submitter
	ipLookup IPLookup
	exec     Executor
	observer Observer
	policy   config.ProctorPolicy
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	qmu    sync.Mutex
	queue  []event
	notify chan struct{}

	loopMu sync.Mutex

	// Loop-owned state below.
	session    model.Session
	cfg        *model.SessionConfig
	nav        *navigator.Navigator
	tracker    *violation.Tracker
	timers     map[timerKind]*armedTimer
	fullscreen bool
	started    bool
	prepared   bool
	ready      bool
	resumed    bool
	clientIP   string
	graceEnds  time.Time
	dirty      map[draft.Key]*dirtyDraft
	editSeq    uint64

	smu  sync.RWMutex
	snap Snapshot

	doneOnce sync.Once
	done     chan struct{}
}

type dirtyDraft struct {
	kind     model.QuestionKind
	index    int
	version  uint64
	inflight bool
}

// New builds a controller in the Preparing phase. Nothing happens until Start.
func New(deps Deps, opts Options) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Executor == nil {
		deps.Executor = GoExecutor{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	policy := opts.Policy
	if policy.SubmitConfirmation == "" {
		policy = config.DefaultProctorPolicy()
	}
	if policy.SubmitTimeout <= 0 {
		policy.SubmitTimeout = config.DefaultProctorPolicy().SubmitTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		clock:    deps.Clock,
		loader:   deps.Loader,
		counter:  deps.Counter,
		drafts:   deps.Drafts,
		gateway:  deps.Gateway,
		ipLookup: deps.IPLookup,
		exec:     deps.Executor,
		observer: deps.Observer,
		policy:   policy,
		log: deps.Logger.With().
			Str("component", "proctor").
			Str("attempt_id", opts.SessionID.String()).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		session: model.Session{
			SessionID:      opts.SessionID,
			AssessmentID:   opts.AssessmentID,
			StudentID:      opts.StudentID,
			Phase:          model.PhasePreparing,
			MaxTabSwitches: model.UnlimitedTabSwitches,
		},
		tracker:    violation.NewTracker(deps.Clock, policy.TabSwitchDedup, model.UnlimitedTabSwitches),
		timers:     make(map[timerKind]*armedTimer),
		fullscreen: opts.Fullscreen,
		dirty:      make(map[draft.Key]*dirtyDraft),
		done:       make(chan struct{}),
	}
	c.snap = c.buildSnapshot()
	return c
}

// Snapshot returns the last published view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.snap
}

// Done is closed once the session reaches Terminated.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Close stops all timers and cancels in-flight effects. Pending events are
// discarded, except the outcome of a submission already in flight: it keeps
// running and still moves the session to Terminated.
func (c *Controller) Close() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	c.closed.Store(true)
	c.cancelAllTimers()
	c.cancel()
	c.drainLocked()
}

// Shutdown closes the controller and, when a submission is in flight, waits
// for it to settle or for ctx to end.
func (c *Controller) Shutdown(ctx context.Context) {
	c.Close()
	if c.Snapshot().Phase != model.PhaseSubmitting {
		return
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		c.log.Error().Msg("Shutdown before the submission settled")
	}
}

func (c *Controller) post(ev event) {
	c.qmu.Lock()
	c.queue = append(c.queue, ev)
	c.qmu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) pop() (event, bool) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	ev := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return ev, true
}

// Drain processes queued events until the queue is empty, including events
// posted while draining. Only one goroutine drains at a time.
func (c *Controller) Drain() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	c.drainLocked()
}

func (c *Controller) drainLocked() {
	for {
		ev, ok := c.pop()
		if !ok {
			return
		}
		if c.ctx.Err() != nil {
			// Once closed only a submission outcome is still applied.
			if _, ok := ev.(submitDoneEvent); !ok {
				continue
			}
		}
		c.handle(ev)
		c.publish()
		if c.session.Phase == model.PhaseTerminated {
			c.terminate()
		}
	}
}

// Run drains the queue whenever events arrive until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.notify:
			c.Drain()
		}
	}
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()
	c.smu.Lock()
	c.snap = snap
	c.smu.Unlock()
	c.observer.OnSnapshot(snap)
}

func (c *Controller) notice(kind NoticeKind, reason model.SubmissionReason, msg string) {
	c.observer.OnNotice(Notice{Kind: kind, Reason: reason, Message: msg})
}

func (c *Controller) terminate() {
	c.doneOnce.Do(func() { close(c.done) })
}

// LoadDraft returns the best known content for a question: the Tier-1 draft,
// then the last saved answer, then template.
func (c *Controller) LoadDraft(ctx context.Context, questionID uuid.UUID, variant, template string) (string, draft.Source) {
	if c.drafts == nil {
		return template, draft.SourceTemplate
	}
	key := draft.Key{SessionID: c.Snapshot().SessionID, QuestionID: questionID, Variant: variant}
	return c.drafts.Load(ctx, key, template)
}
