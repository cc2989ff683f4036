package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor/clock"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeLoader struct {
	mu        sync.Mutex
	cfg       model.SessionConfig
	questions []model.QuestionForStudent
	err       error
	calls     int
}

func (f *fakeLoader) LoadConfig(context.Context, uuid.UUID) (model.SessionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.cfg, f.err
}

func (f *fakeLoader) LoadQuestions(context.Context, uuid.UUID) ([]model.QuestionForStudent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions, nil
}

func (f *fakeLoader) set(fn func(cfg *model.SessionConfig)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.cfg)
}

// fakeServer plays the assessment API: counters, saves and submit.
type fakeServer struct {
	mu       sync.Mutex
	counts   map[model.ViolationKind]int
	seen     map[uuid.UUID]int
	saved    map[string]string
	submits  []model.SubmitRequest
	failSave bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		counts: make(map[model.ViolationKind]int),
		seen:   make(map[uuid.UUID]int),
		saved:  make(map[string]string),
	}
}

func (s *fakeServer) increment(kind model.ViolationKind, eventID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.seen[eventID]; ok {
		return n, nil
	}
	s.counts[kind]++
	s.seen[eventID] = s.counts[kind]
	return s.counts[kind], nil
}

func (s *fakeServer) IncrementTabSwitch(_ context.Context, _, eventID uuid.UUID) (int, error) {
	return s.increment(model.ViolationTabSwitch, eventID)
}

func (s *fakeServer) IncrementFullscreenExit(_ context.Context, _, eventID uuid.UUID) (int, error) {
	return s.increment(model.ViolationFullscreenExit, eventID)
}

func (s *fakeServer) save(req model.SaveAnswerRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("503 service unavailable")
	}
	s.saved[req.QuestionID+":"+req.Variant] = req.Content
	return nil
}

func (s *fakeServer) SaveCode(_ context.Context, _ uuid.UUID, req model.SaveAnswerRequest) error {
	return s.save(req)
}

func (s *fakeServer) SaveQuizAnswer(_ context.Context, _ uuid.UUID, req model.SaveAnswerRequest) error {
	return s.save(req)
}

func (s *fakeServer) SaveFrontendCode(_ context.Context, _ uuid.UUID, req model.SaveAnswerRequest) error {
	return s.save(req)
}

func (s *fakeServer) LoadSaved(context.Context, uuid.UUID) ([]model.SavedAnswer, error) {
	return nil, nil
}

func (s *fakeServer) Submit(ctx context.Context, _ uuid.UUID, req model.SubmitRequest) (model.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return model.SubmitResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits = append(s.submits, req)
	first := s.submits[0]
	return model.SubmitResult{
		AttemptID:       uuid.MustParse(first.AttemptID),
		Reason:          first.Reason,
		SubmittedAt:     t0,
		TimeUsedSeconds: first.TimeUsedSeconds,
	}, nil
}

func (s *fakeServer) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submits)
}

type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) OnSnapshot(Snapshot) {}

func (r *recorder) OnNotice(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) terminal() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Kind == NoticeTerminal {
			out = append(out, n)
		}
	}
	return out
}

// heldExecutor runs effects inline until hold is called, then queues them
// until release.
type heldExecutor struct {
	mu      sync.Mutex
	holding bool
	pending []func()
}

func (e *heldExecutor) Execute(f func()) {
	e.mu.Lock()
	if e.holding {
		e.pending = append(e.pending, f)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	f()
}

func (e *heldExecutor) hold() {
	e.mu.Lock()
	e.holding = true
	e.mu.Unlock()
}

func (e *heldExecutor) held() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *heldExecutor) release() {
	e.mu.Lock()
	e.holding = false
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, f := range pending {
		f()
	}
}

type harness struct {
	t       *testing.T
	exec    Executor
	clock   *clock.Manual
	loader  *fakeLoader
	server  *fakeServer
	store   *draft.MemoryStore
	obs     *recorder
	c       *Controller
	session uuid.UUID
}

type harnessOption func(h *harness, opts *Options)

func withConfig(fn func(cfg *model.SessionConfig)) harnessOption {
	return func(h *harness, _ *Options) { fn(&h.loader.cfg) }
}

func fullscreen(h *harness, opts *Options) { opts.Fullscreen = true }

func withExecutor(e Executor) harnessOption {
	return func(h *harness, _ *Options) { h.exec = e }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	start := t0
	session := uuid.New()
	h := &harness{
		t:       t,
		exec:    InlineExecutor{},
		clock:   clock.NewManual(t0),
		server:  newFakeServer(),
		store:   draft.NewMemoryStore(),
		obs:     &recorder{},
		session: session,
		loader: &fakeLoader{
			cfg: model.SessionConfig{
				AttemptID:       session,
				StartTime:       &start,
				DurationSeconds: 3600,
				MaxTabSwitches:  3,
				Status:          model.AttemptStatusInProgress,
			},
			questions: []model.QuestionForStudent{
				{ID: uuid.New(), Kind: model.QuestionKindCode, Template: "def solve():", OriginalIndex: 2},
				{ID: uuid.New(), Kind: model.QuestionKindQuiz, OriginalIndex: 0},
				{ID: uuid.New(), Kind: model.QuestionKindCode, OriginalIndex: 1},
			},
		},
	}
	opts := Options{SessionID: session, AssessmentID: uuid.New(), Policy: config.DefaultProctorPolicy()}
	for _, o := range options {
		o(h, &opts)
	}
	h.c = h.build(opts)
	return h
}

func (h *harness) build(opts Options) *Controller {
	return New(Deps{
		Clock:    h.clock,
		Loader:   h.loader,
		Counter:  h.server,
		Drafts:   draft.NewAdapter(h.store, h.server, zerolog.Nop()),
		Gateway:  gateway.New(h.server, zerolog.Nop()),
		Executor: h.exec,
		Observer: h.obs,
		Logger:   zerolog.Nop(),
	}, opts)
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.c.Drain()
}

func (h *harness) do(f func()) {
	f()
	h.c.Drain()
}

func (h *harness) expectPhase(want model.Phase) {
	h.t.Helper()
	if got := h.c.Snapshot().Phase; got != want {
		h.t.Fatalf("expected phase %s, got %s", want, got)
	}
}

// activate starts the session in fullscreen and lets preparation elapse.
func (h *harness) activate() {
	h.t.Helper()
	h.do(func() { h.c.FullscreenChanged(true) })
	h.do(h.c.Start)
	h.advance(15 * time.Second)
	h.expectPhase(model.PhaseActive)
}

func TestPreparationThenFullscreenPrompt(t *testing.T) {
	h := newHarness(t)

	h.do(h.c.Start)
	h.expectPhase(model.PhasePreparing)

	h.advance(14 * time.Second)
	h.expectPhase(model.PhasePreparing)

	h.advance(time.Second)
	h.expectPhase(model.PhaseFullscreenPending)

	h.do(func() { h.c.FullscreenChanged(true) })
	h.expectPhase(model.PhaseActive)

	snap := h.c.Snapshot()
	if snap.CurrentIndex != 0 || !snap.Questions[0].Visited {
		t.Fatalf("expected first question visited on activation, got %+v", snap.Questions)
	}
}

func TestFullscreenDuringPreparationGoesActive(t *testing.T) {
	h := newHarness(t, fullscreen)

	h.do(h.c.Start)
	h.advance(15 * time.Second)
	h.expectPhase(model.PhaseActive)
}

func TestTimeExpirySubmitsOnce(t *testing.T) {
	h := newHarness(t, fullscreen, withConfig(func(cfg *model.SessionConfig) {
		cfg.DurationSeconds = 2
	}))

	h.do(h.c.Start)
	h.advance(time.Second)
	if h.server.submitCount() != 0 {
		t.Fatal("submitted before the deadline")
	}

	h.advance(time.Second)
	h.expectPhase(model.PhaseTerminated)

	h.advance(10 * time.Second)
	if n := h.server.submitCount(); n != 1 {
		t.Fatalf("expected exactly one submit, got %d", n)
	}
	if r := h.server.submits[0].Reason; r != model.ReasonTimeUp {
		t.Fatalf("expected TIME_UP, got %s", r)
	}

	terminal := h.obs.terminal()
	if len(terminal) != 1 || terminal[0].Message != model.ReasonTimeUp.Message() {
		t.Fatalf("expected one time-up notice, got %+v", terminal)
	}
	select {
	case <-h.c.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestCloseDuringSubmitStillTerminates(t *testing.T) {
	exec := &heldExecutor{}
	h := newHarness(t, fullscreen, withExecutor(exec), withConfig(func(cfg *model.SessionConfig) {
		cfg.DurationSeconds = 2
	}))
	h.do(h.c.Start)

	exec.hold()
	h.advance(2 * time.Second)
	h.expectPhase(model.PhaseSubmitting)
	if exec.held() != 1 {
		t.Fatalf("expected the submit effect to be pending, got %d", exec.held())
	}

	h.c.Close()
	exec.release()

	if n := h.server.submitCount(); n != 1 {
		t.Fatalf("expected the submit to reach the server after Close, got %d", n)
	}
	h.expectPhase(model.PhaseTerminated)
	select {
	case <-h.c.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	if terminal := h.obs.terminal(); len(terminal) != 1 || terminal[0].Reason != model.ReasonTimeUp {
		t.Fatalf("expected one time-up notice, got %+v", terminal)
	}
}

func TestShutdownWaitsForSubmit(t *testing.T) {
	exec := &heldExecutor{}
	h := newHarness(t, fullscreen, withExecutor(exec))
	h.do(h.c.Start)
	h.advance(15 * time.Second)
	h.expectPhase(model.PhaseActive)

	exec.hold()
	h.do(func() { h.c.ManualSubmit("SUBMIT") })
	h.expectPhase(model.PhaseSubmitting)

	go func() {
		time.Sleep(20 * time.Millisecond)
		exec.release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.c.Shutdown(ctx)

	h.expectPhase(model.PhaseTerminated)
	if n := h.server.submitCount(); n != 1 {
		t.Fatalf("expected one submit, got %d", n)
	}
}

func TestTabSwitchBreach(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *model.SessionConfig) {
		cfg.MaxTabSwitches = 2
	}))
	h.activate()

	h.do(h.c.WindowBlurred)
	h.expectPhase(model.PhaseActive)
	if got := h.c.Snapshot().TabSwitchCount; got != 1 {
		t.Fatalf("expected 1 tab switch, got %d", got)
	}

	h.advance(300 * time.Millisecond)
	h.do(h.c.WindowBlurred)
	h.expectPhase(model.PhaseTerminated)

	h.advance(300 * time.Millisecond)
	h.do(h.c.WindowBlurred)

	if got := h.server.counts[model.ViolationTabSwitch]; got != 2 {
		t.Fatalf("third blur must not be counted, server has %d", got)
	}
	if n := h.server.submitCount(); n != 1 {
		t.Fatalf("expected one submit, got %d", n)
	}
	if r := h.c.Snapshot().SubmissionReason; r != model.ReasonTabSwitch {
		t.Fatalf("expected TAB_SWITCH_VIOLATION, got %s", r)
	}
}

func TestBlurAndVisibilityDeduplicated(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.do(func() {
		h.c.VisibilityChanged(true)
		h.c.WindowBlurred()
	})

	if got := h.c.Snapshot().TabSwitchCount; got != 1 {
		t.Fatalf("expected one tab switch for one action, got %d", got)
	}
}

func TestUnlimitedTabSwitchesNeverEscalate(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *model.SessionConfig) {
		cfg.MaxTabSwitches = model.UnlimitedTabSwitches
	}))
	h.activate()

	for i := 0; i < 20; i++ {
		h.do(h.c.WindowBlurred)
		h.advance(time.Second)
	}

	h.expectPhase(model.PhaseActive)
	if got := h.c.Snapshot().TabSwitchCount; got != 20 {
		t.Fatalf("expected 20 tab switches, got %d", got)
	}
}

func TestGraceRecovery(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.do(func() { h.c.FullscreenChanged(false) })
	h.expectPhase(model.PhaseViolationGrace)
	if got := h.c.Snapshot().FullscreenExitCount; got != 1 {
		t.Fatalf("expected one fullscreen exit, got %d", got)
	}

	h.advance(10 * time.Second)
	h.do(func() { h.c.FullscreenChanged(true) })
	h.expectPhase(model.PhaseActive)

	h.advance(time.Minute)
	h.expectPhase(model.PhaseActive)
	if r := h.c.Snapshot().SubmissionReason; r != "" {
		t.Fatalf("expected no submission reason, got %s", r)
	}
}

func TestGraceExpirySubmits(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.do(func() { h.c.FullscreenChanged(false) })
	h.advance(29 * time.Second)
	h.expectPhase(model.PhaseViolationGrace)

	h.advance(time.Second)
	h.expectPhase(model.PhaseTerminated)
	if r := h.server.submits[0].Reason; r != model.ReasonFullscreenExit {
		t.Fatalf("expected FULLSCREEN_EXIT_VIOLATION, got %s", r)
	}
}

func TestStaleGraceFiringIsDropped(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.do(func() { h.c.FullscreenChanged(false) })

	// Restore is queued before the grace timer fires; both are processed in one turn.
	h.c.FullscreenChanged(true)
	h.clock.Advance(30 * time.Second)
	h.c.Drain()

	h.expectPhase(model.PhaseActive)
	if n := h.server.submitCount(); n != 0 {
		t.Fatalf("expected no submit, got %d", n)
	}
}

func TestTabSwitchDuringGraceIsCounted(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.do(func() { h.c.FullscreenChanged(false) })
	h.do(func() { h.c.VisibilityChanged(true) })

	h.expectPhase(model.PhaseViolationGrace)
	snap := h.c.Snapshot()
	if snap.TabSwitchCount != 1 || snap.FullscreenExitCount != 1 {
		t.Fatalf("expected one of each violation, got tab=%d fullscreen=%d", snap.TabSwitchCount, snap.FullscreenExitCount)
	}
}

func TestFirstTriggerWins(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *model.SessionConfig) {
		cfg.DurationSeconds = 60
	}))
	h.activate()

	// Exit at t=30s so the grace period ends exactly at the deadline.
	h.advance(15 * time.Second)
	h.do(func() { h.c.FullscreenChanged(false) })

	h.clock.Advance(30 * time.Second)
	h.c.Drain()

	h.expectPhase(model.PhaseTerminated)
	if n := h.server.submitCount(); n != 1 {
		t.Fatalf("expected exactly one submit, got %d", n)
	}
	if len(h.obs.terminal()) != 1 {
		t.Fatalf("expected one terminal notice, got %+v", h.obs.terminal())
	}
}

func TestManualSubmitRequiresExactToken(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.do(func() { h.c.ManualSubmit("submit") })
	h.expectPhase(model.PhaseActive)

	h.do(func() { h.c.ManualSubmit("SUBMIT") })
	h.expectPhase(model.PhaseTerminated)
	if r := h.server.submits[0].Reason; r != model.ReasonManual {
		t.Fatalf("expected MANUAL, got %s", r)
	}
	if used := h.server.submits[0].TimeUsedSeconds; used != 15 {
		t.Fatalf("expected 15 seconds used, got %d", used)
	}
}

func TestManualSubmitIgnoredBeforeActive(t *testing.T) {
	h := newHarness(t)
	h.do(h.c.Start)
	h.advance(15 * time.Second)
	h.expectPhase(model.PhaseFullscreenPending)

	h.do(func() { h.c.ManualSubmit("SUBMIT") })
	h.expectPhase(model.PhaseFullscreenPending)
	if n := h.server.submitCount(); n != 0 {
		t.Fatalf("expected no submit, got %d", n)
	}
}

func TestDeadlineAlreadyPassedOnLoad(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *model.SessionConfig) {
		past := t0.Add(-2 * time.Hour)
		cfg.StartTime = &past
	}))

	h.do(h.c.Start)
	h.expectPhase(model.PhaseTerminated)
	if r := h.server.submits[0].Reason; r != model.ReasonTimeUp {
		t.Fatalf("expected TIME_UP, got %s", r)
	}
	if used := h.server.submits[0].TimeUsedSeconds; used != 3600 {
		t.Fatalf("expected time used clamped to duration, got %d", used)
	}
}

func TestCountersAtThresholdOnLoad(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *model.SessionConfig) {
		cfg.TabSwitchCount = 3
		cfg.MaxTabSwitches = 3
	}))

	h.do(h.c.Start)
	h.expectPhase(model.PhaseTerminated)
	if r := h.server.submits[0].Reason; r != model.ReasonTabSwitch {
		t.Fatalf("expected TAB_SWITCH_VIOLATION, got %s", r)
	}
}

func TestAlreadySubmittedAttemptTerminatesWithoutSubmit(t *testing.T) {
	h := newHarness(t, withConfig(func(cfg *model.SessionConfig) {
		cfg.Status = model.AttemptStatusSubmitted
	}))

	h.do(h.c.Start)
	h.expectPhase(model.PhaseTerminated)
	if n := h.server.submitCount(); n != 0 {
		t.Fatalf("expected no submit, got %d", n)
	}
}

func TestMissingStartTimeStaysPreparing(t *testing.T) {
	h := newHarness(t, fullscreen, withConfig(func(cfg *model.SessionConfig) {
		cfg.StartTime = nil
	}))

	h.do(h.c.Start)
	h.advance(15 * time.Second)
	h.expectPhase(model.PhasePreparing)
	if h.c.Snapshot().DeadlineKnown {
		t.Fatal("deadline must be unknown without a start time")
	}

	started := t0.Add(15 * time.Second)
	h.loader.set(func(cfg *model.SessionConfig) { cfg.StartTime = &started })
	h.advance(5 * time.Second)
	h.expectPhase(model.PhaseActive)

	if got := h.c.Snapshot().RemainingSeconds; got != 3595 {
		t.Fatalf("expected 3595s remaining, got %d", got)
	}
}

func TestLoadFailureRetries(t *testing.T) {
	h := newHarness(t, fullscreen)
	h.loader.err = errors.New("connection refused")

	h.do(h.c.Start)
	h.advance(15 * time.Second)
	h.expectPhase(model.PhasePreparing)

	h.loader.mu.Lock()
	h.loader.err = nil
	h.loader.mu.Unlock()
	h.advance(5 * time.Second)
	h.expectPhase(model.PhaseActive)
	if h.loader.calls < 3 {
		t.Fatalf("expected retries, got %d loads", h.loader.calls)
	}
}

func TestEarlyStartBufferHoldsPreparation(t *testing.T) {
	h := newHarness(t, fullscreen, withConfig(func(cfg *model.SessionConfig) {
		scheduled := t0.Add(10 * time.Minute)
		cfg.ScheduledStart = &scheduled
		cfg.EarlyStartBufferSeconds = 300
	}))

	h.do(h.c.Start)
	h.advance(15 * time.Second)
	h.expectPhase(model.PhasePreparing)

	h.advance(5 * time.Minute)
	h.expectPhase(model.PhaseActive)
}

func TestResumeWithinReloadWindow(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Touch(context.Background(), h.session, t0.Add(-4*time.Second)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	h.do(h.c.Start)
	h.expectPhase(model.PhaseViolationGrace)

	snap := h.c.Snapshot()
	if !snap.Resumed {
		t.Fatal("expected resumed session")
	}
	if snap.FullscreenExitCount != 0 {
		t.Fatalf("resume grace must not be counted, got %d", snap.FullscreenExitCount)
	}

	h.do(func() { h.c.FullscreenChanged(true) })
	h.expectPhase(model.PhaseActive)
}

func TestReloadOutsideWindowRunsPreparation(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Touch(context.Background(), h.session, t0.Add(-time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	h.do(h.c.Start)
	h.expectPhase(model.PhasePreparing)
}

func TestDeadlineSurvivesReloads(t *testing.T) {
	h := newHarness(t)
	h.activate()

	for i := 0; i < 3; i++ {
		h.advance(7 * time.Minute)
		h.c.Close()

		// Reload: a fresh controller over the same stores, reading counters from the server.
		h.loader.set(func(cfg *model.SessionConfig) {
			cfg.TabSwitchCount = h.server.counts[model.ViolationTabSwitch]
		})
		h.c = h.build(Options{SessionID: h.session, Policy: config.DefaultProctorPolicy(), Fullscreen: true})
		h.do(h.c.Start)
		h.expectPhase(model.PhaseActive)

		elapsed := h.clock.Now().Sub(t0)
		want := clock.CeilSeconds(time.Hour - elapsed)
		if got := h.c.Snapshot().RemainingSeconds; got != want {
			t.Fatalf("reload %d: expected %ds remaining, got %d", i, want, got)
		}
	}
}

func TestDraftSurvivesReload(t *testing.T) {
	h := newHarness(t)
	h.activate()
	q := h.loader.questions[0].ID

	h.do(func() { h.c.EditAnswer(0, "python", "print('B')") })
	h.do(func() { h.c.SavePoint(SaveOnRunTests) })
	h.do(func() { h.c.EditAnswer(0, "python", "print('C')") })
	h.c.Close()

	h.c = h.build(Options{SessionID: h.session, Policy: config.DefaultProctorPolicy()})
	h.do(h.c.Start)

	got, src := h.c.LoadDraft(context.Background(), q, "python", "def solve():")
	if got != "print('C')" || src != draft.SourceLocal {
		t.Fatalf("expected last Tier-1 write, got %q from %s", got, src)
	}
}

func TestSavePointRetriesFailedSaves(t *testing.T) {
	h := newHarness(t)
	h.activate()
	q0 := h.loader.questions[0].ID.String()

	h.server.failSave = true
	h.do(func() { h.c.EditAnswer(0, "python", "A") })
	h.do(func() { h.c.SavePoint(SaveOnRunTests) })
	if got := h.c.Snapshot().PendingSaves; got != 1 {
		t.Fatalf("expected one pending save, got %d", got)
	}
	h.expectPhase(model.PhaseActive)

	h.server.failSave = false
	h.do(func() { h.c.NavigateNext("") })

	snap := h.c.Snapshot()
	if snap.PendingSaves != 0 {
		t.Fatalf("expected pending save flushed, got %d", snap.PendingSaves)
	}
	if !snap.Questions[0].Saved || snap.CurrentIndex != 1 {
		t.Fatalf("expected question 0 saved and cursor on 1, got %+v", snap)
	}
	if h.server.saved[q0+":python"] != "A" {
		t.Fatalf("expected server to hold A, got %q", h.server.saved[q0+":python"])
	}
}

func TestSavePointWithoutDraftDoesNotMarkSaved(t *testing.T) {
	h := newHarness(t)
	h.activate()
	q0 := h.loader.questions[0].ID

	h.do(func() { h.c.EditAnswer(0, "python", "A") })
	key := draft.Key{SessionID: h.session, QuestionID: q0, Variant: "python"}
	if err := h.store.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	h.do(func() { h.c.SavePoint(SaveOnSubmitCode) })

	snap := h.c.Snapshot()
	if snap.PendingSaves != 0 {
		t.Fatalf("expected nothing pending, got %d", snap.PendingSaves)
	}
	if snap.Questions[0].Saved {
		t.Fatal("question marked saved although nothing reached the server")
	}
	if _, ok := h.server.saved[q0.String()+":python"]; ok {
		t.Fatal("server received a save")
	}
}

func TestNavigateWithinKind(t *testing.T) {
	h := newHarness(t)
	h.activate()

	h.do(func() { h.c.NavigateNext(model.QuestionKindCode) })
	if got := h.c.Snapshot().CurrentIndex; got != 2 {
		t.Fatalf("expected next code question at 2, got %d", got)
	}

	h.do(func() { h.c.NavigatePrevious(model.QuestionKindCode) })
	if got := h.c.Snapshot().CurrentIndex; got != 0 {
		t.Fatalf("expected previous code question at 0, got %d", got)
	}

	h.do(func() { h.c.MarkCompleted(0, true) })
	if got := h.c.Snapshot().Summary.Completed; got != 1 {
		t.Fatalf("expected one completed question, got %d", got)
	}
}

func TestSubmitFlushesDraftsAndClearsTier1(t *testing.T) {
	h := newHarness(t)
	h.activate()
	q := h.loader.questions[1].ID

	h.do(func() { h.c.EditAnswer(1, "", "B") })
	h.do(func() { h.c.ManualSubmit("SUBMIT") })

	if h.server.saved[q.String()+":"] != "B" {
		t.Fatalf("expected draft pushed before submit, got %q", h.server.saved[q.String()+":"])
	}
	key := draft.Key{SessionID: h.session, QuestionID: q}
	if _, err := h.store.Get(context.Background(), key); !errors.Is(err, draft.ErrNotFound) {
		t.Fatalf("expected Tier 1 cleared after submit, got %v", err)
	}
}

func TestDispatchRejectsUnknownSignal(t *testing.T) {
	h := newHarness(t)
	if err := h.c.Dispatch(Signal{Type: "teleport"}); err == nil {
		t.Fatal("expected error for unknown signal")
	}
	if err := h.c.Dispatch(Signal{Type: SignalSave, Trigger: "LUNCH"}); err == nil {
		t.Fatal("expected error for unknown save trigger")
	}
	if err := h.c.Dispatch(Signal{Type: SignalFullscreen, Fullscreen: true}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}
