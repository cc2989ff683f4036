package proctor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/navigator"
	"github.com/stemsi/exstem-proctor/internal/proctor/clock"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// handle is the single transition function. It runs on the event loop only.
func (c *Controller) handle(ev event) {
	switch e := ev.(type) {
	case startEvent:
		c.onStart()
	case timerFired:
		c.onTimer(e)
	case loadedEvent:
		c.onLoaded(e)
	case ipResolvedEvent:
		c.clientIP = e.ip
	case fullscreenChangedEvent:
		c.onFullscreenChanged(e.active)
	case visibilityChangedEvent:
		if e.hidden {
			c.onTabSwitch(c.tracker.OnVisibilityLost)
		}
	case windowBlurredEvent:
		c.onTabSwitch(c.tracker.OnWindowBlur)
	case violationAckEvent:
		c.onViolationAck(e)
	case manualSubmitEvent:
		c.onManualSubmit(e.confirmation)
	case answerEditedEvent:
		c.onAnswerEdited(e)
	case navigateEvent:
		c.onNavigate(e)
	case savePointEvent:
		if c.working() {
			c.savePoint(e.trigger)
		}
	case saveAckEvent:
		c.onSaveAck(e)
	case markCompletedEvent:
		if c.nav != nil {
			if err := c.nav.MarkCompleted(e.index, e.completed); err != nil {
				c.log.Warn().Err(err).Int("index", e.index).Msg("Ignoring completion for unknown question")
			}
		}
	case submitDoneEvent:
		c.onSubmitDone(e)
	default:
		c.log.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("Unknown event")
	}
}

func (c *Controller) setPhase(p model.Phase) {
	if c.session.Phase == p {
		return
	}
	c.log.Debug().
		Str("from", string(c.session.Phase)).
		Str("to", string(p)).
		Msg("Phase changed")
	c.session.Phase = p
}

// working reports whether the student can currently interact with questions.
func (c *Controller) working() bool {
	return c.session.Phase == model.PhaseActive || c.session.Phase == model.PhaseViolationGrace
}

func (c *Controller) onStart() {
	if c.started {
		return
	}
	c.started = true
	c.log.Info().Dur("prepare", c.policy.PrepareDuration).Msg("Session starting")

	c.arm(timerPrepare, c.policy.PrepareDuration, false)
	c.load()
	c.resolveIP()
}

func (c *Controller) load() {
	sessionID := c.session.SessionID
	assessmentID := c.session.AssessmentID

	c.exec.Execute(func() {
		ctx := c.ctx
		cfg, err := c.loader.LoadConfig(ctx, assessmentID)
		if err != nil {
			c.post(loadedEvent{err: fmt.Errorf("load config: %w", err)})
			return
		}
		questions, err := c.loader.LoadQuestions(ctx, assessmentID)
		if err != nil {
			c.post(loadedEvent{err: fmt.Errorf("load questions: %w", err)})
			return
		}

		id := sessionID
		if id == uuid.Nil {
			id = cfg.AttemptID
		}
		ev := loadedEvent{sessionID: id, cfg: cfg, questions: questions}

		if c.drafts != nil {
			if err := c.drafts.Prime(ctx, id); err != nil {
				c.log.Warn().Err(err).Msg("Saved answers unavailable, using local drafts only")
			}
			if at, err := c.drafts.Local().LastSeen(ctx, id); err == nil {
				ev.lastSeen, ev.seen = at, true
			}
		}
		c.post(ev)
	})
}

func (c *Controller) resolveIP() {
	if c.ipLookup == nil {
		return
	}
	c.exec.Execute(func() {
		ip, err := c.ipLookup.PublicIP(c.ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("Public IP lookup failed")
			return
		}
		c.post(ipResolvedEvent{ip: ip})
	})
}

func (c *Controller) onLoaded(e loadedEvent) {
	if c.ready || c.session.Phase.Ending() {
		return
	}
	if e.err != nil {
		c.log.Warn().Err(e.err).Dur("retry_in", c.policy.LoadRetry).Msg("Session load failed")
		c.arm(timerRetry, c.policy.LoadRetry, false)
		return
	}

	cfg := e.cfg
	c.cfg = &cfg
	if c.session.SessionID == uuid.Nil {
		c.session.SessionID = e.sessionID
	}

	if cfg.Status == model.AttemptStatusSubmitted {
		c.log.Info().Msg("Attempt already submitted")
		c.cancelAllTimers()
		c.setPhase(model.PhaseTerminated)
		c.notice(NoticeTerminal, "", "This assessment has already been submitted.")
		return
	}

	c.session.Duration = time.Duration(cfg.DurationSeconds) * time.Second
	c.session.MaxTabSwitches = cfg.MaxTabSwitches
	c.session.TabSwitchCount = cfg.TabSwitchCount
	c.session.FullscreenExitCount = cfg.FullscreenExitCount
	c.tracker.Reset(cfg.TabSwitchCount, cfg.FullscreenExitCount, cfg.MaxTabSwitches)
	if c.nav == nil {
		c.nav = navigator.New(e.questions)
	}

	now := c.clock.Now()
	if cfg.StartTime == nil || c.session.Duration <= 0 {
		c.log.Info().Msg("Start time not determinable yet, staying in preparation")
		c.arm(timerRetry, c.policy.LoadRetry, false)
		return
	}
	if opensAt, ok := cfg.OpensAt(); ok && now.Before(opensAt) {
		c.log.Info().Time("opens_at", opensAt).Msg("Attempt not open yet")
		c.notice(NoticeInfo, "", fmt.Sprintf("The assessment opens at %s.", opensAt.Format(time.Kitchen)))
		c.arm(timerRetry, c.policy.LoadRetry, false)
		return
	}

	startedAt := *cfg.StartTime
	c.session.StartedAt = &startedAt
	c.ready = true
	c.cancelTimer(timerRetry)

	remaining, _ := c.session.TimeRemaining(now)
	if remaining == 0 {
		c.beginSubmit(model.ReasonTimeUp)
		return
	}
	if c.session.TabSwitchCount > 0 && c.tracker.Breached(model.ViolationTabSwitch) {
		c.beginSubmit(model.ReasonTabSwitch)
		return
	}

	c.arm(timerDeadline, remaining, false)
	c.arm(timerTick, c.policy.TickInterval, true)

	if e.seen {
		since := now.Sub(e.lastSeen)
		if since >= 0 && since <= c.policy.ReloadGrace {
			c.resumeActive()
			return
		}
	}
	if c.prepared {
		c.leavePreparing()
	}
}

// resumeActive restores a session reloaded within the reload window. Returning
// without fullscreen lands in an uncounted grace period.
func (c *Controller) resumeActive() {
	c.resumed = true
	c.cancelTimer(timerPrepare)
	c.log.Info().Bool("fullscreen", c.fullscreen).Msg("Resuming session after reload")

	c.activate()
	if !c.fullscreen {
		c.enterGrace()
	}
}

func (c *Controller) leavePreparing() {
	if c.session.Phase != model.PhasePreparing {
		return
	}
	if c.fullscreen {
		c.activate()
		return
	}
	c.setPhase(model.PhaseFullscreenPending)
	c.notice(NoticeInfo, "", "Enter fullscreen to begin the assessment.")
}

func (c *Controller) activate() {
	c.setPhase(model.PhaseActive)
	if c.nav == nil || c.nav.Len() == 0 {
		return
	}
	cur := c.nav.Current()
	if entry, err := c.nav.Entry(cur); err == nil && !entry.Visited {
		_ = c.nav.Visit(cur)
	}
}

func (c *Controller) onTimer(e timerFired) {
	if !c.current(e) {
		c.log.Debug().Str("timer", string(e.kind)).Uint64("epoch", e.epoch).Msg("Dropping stale timer")
		return
	}
	if e.kind != timerTick {
		c.timers[e.kind].timer = nil
	}

	switch e.kind {
	case timerPrepare:
		c.prepared = true
		if c.ready {
			c.leavePreparing()
		}
	case timerRetry:
		c.load()
	case timerTick:
		c.onTick()
	case timerDeadline:
		if !c.onTick() {
			if remaining, ok := c.session.TimeRemaining(c.clock.Now()); ok {
				c.arm(timerDeadline, remaining, false)
			}
		}
	case timerGrace:
		if c.session.Phase == model.PhaseViolationGrace {
			c.beginSubmit(model.ReasonFullscreenExit)
		}
	}
}

// onTick recomputes remaining time from the deadline. It reports whether time ran out.
func (c *Controller) onTick() bool {
	if c.session.Phase.Ending() {
		return true
	}
	now := c.clock.Now()
	remaining, ok := c.session.TimeRemaining(now)
	if !ok {
		return false
	}
	if remaining == 0 {
		c.beginSubmit(model.ReasonTimeUp)
		return true
	}

	if c.working() && c.drafts != nil {
		if err := c.drafts.Local().Touch(c.ctx, c.session.SessionID, now); err != nil {
			c.log.Debug().Err(err).Msg("Heartbeat write failed")
		}
	}
	return false
}

func (c *Controller) onFullscreenChanged(active bool) {
	was := c.fullscreen
	c.fullscreen = active
	if was == active {
		return
	}

	switch c.session.Phase {
	case model.PhaseFullscreenPending:
		if active {
			c.activate()
		}
	case model.PhaseActive:
		if !active {
			p := c.tracker.OnFullscreenExited()
			c.session.FullscreenExitCount = c.tracker.Count(model.ViolationFullscreenExit)
			c.sendViolation(p)
			c.enterGrace()
		}
	case model.PhaseViolationGrace:
		if active {
			c.cancelTimer(timerGrace)
			c.setPhase(model.PhaseActive)
			c.notice(NoticeInfo, "", "Fullscreen restored. You may continue.")
		}
	}
}

func (c *Controller) enterGrace() {
	c.setPhase(model.PhaseViolationGrace)
	c.graceEnds = c.clock.Now().Add(c.policy.GraceDuration)
	c.arm(timerGrace, c.policy.GraceDuration, false)
	c.notice(NoticeWarning, "", fmt.Sprintf(
		"Return to fullscreen within %d seconds or your assessment will be submitted.",
		clock.CeilSeconds(c.policy.GraceDuration)))
}

func (c *Controller) onTabSwitch(detect func() (violation.Pending, bool)) {
	if !c.working() {
		return
	}
	p, ok := detect()
	if !ok {
		return
	}
	c.session.TabSwitchCount = c.tracker.Count(model.ViolationTabSwitch)
	c.sendViolation(p)

	if c.session.Unlimited() {
		c.notice(NoticeWarning, "", "Leaving the assessment window is recorded.")
	} else {
		c.notice(NoticeWarning, "", fmt.Sprintf("Tab switch recorded (%d of %d allowed).",
			c.session.TabSwitchCount, c.session.MaxTabSwitches))
	}

	if c.session.Phase == model.PhaseActive && !c.fullscreen {
		c.enterGrace()
	}
}

func (c *Controller) sendViolation(p violation.Pending) {
	if c.counter == nil {
		return
	}
	attemptID := c.session.SessionID
	c.exec.Execute(func() {
		count, err := violation.Send(c.ctx, c.counter, attemptID, p)
		c.post(violationAckEvent{pending: p, count: count, err: err})
	})
}

func (c *Controller) onViolationAck(e violationAckEvent) {
	if e.err != nil {
		c.log.Warn().Err(e.err).
			Str("kind", string(e.pending.Kind)).
			Str("event_id", e.pending.EventID.String()).
			Msg("Violation increment failed, keeping local count")
		return
	}
	if !c.tracker.Acknowledge(e.pending, e.count) {
		return
	}

	switch e.pending.Kind {
	case model.ViolationTabSwitch:
		c.session.TabSwitchCount = e.count
		if c.tracker.Breached(model.ViolationTabSwitch) {
			c.beginSubmit(model.ReasonTabSwitch)
		}
	case model.ViolationFullscreenExit:
		c.session.FullscreenExitCount = e.count
	}
}

func (c *Controller) onManualSubmit(confirmation string) {
	if c.session.Phase != model.PhaseActive {
		c.notice(NoticeInfo, "", "Submission is only available while the assessment is active.")
		return
	}
	if confirmation != c.policy.SubmitConfirmation {
		c.notice(NoticeWarning, "", fmt.Sprintf("Type %s to confirm submission.", c.policy.SubmitConfirmation))
		return
	}
	c.beginSubmit(model.ReasonManual)
}

func (c *Controller) onAnswerEdited(e answerEditedEvent) {
	if c.session.Phase != model.PhaseActive || c.nav == nil || c.drafts == nil {
		return
	}
	entry, err := c.nav.Entry(e.index)
	if err != nil {
		c.log.Warn().Err(err).Int("index", e.index).Msg("Ignoring edit for unknown question")
		return
	}

	key := draft.Key{SessionID: c.session.SessionID, QuestionID: entry.QuestionID, Variant: e.variant}
	if err := c.drafts.Edit(c.ctx, key, e.content); err != nil {
		c.log.Warn().Err(err).Str("question_id", entry.QuestionID.String()).Msg("Draft write failed")
		return
	}

	c.editSeq++
	d, ok := c.dirty[key]
	if !ok {
		d = &dirtyDraft{kind: entry.Kind, index: e.index}
		c.dirty[key] = d
	}
	d.version = c.editSeq
}

func (c *Controller) onNavigate(e navigateEvent) {
	if !c.working() || c.nav == nil {
		return
	}

	target, ok := e.index, true
	switch {
	case e.step > 0:
		target, ok = c.nav.Next(e.kind)
	case e.step < 0:
		target, ok = c.nav.Previous(e.kind)
	}
	if !ok {
		return
	}

	c.savePoint(SaveOnNavigate)
	if err := c.nav.Visit(target); err != nil {
		c.log.Warn().Err(err).Int("index", target).Msg("Ignoring navigation to unknown question")
	}
}

type pushItem struct {
	key     draft.Key
	kind    model.QuestionKind
	index   int
	version uint64
}

// takeDirty marks every draft not already being pushed as in flight and returns them.
func (c *Controller) takeDirty() []pushItem {
	items := make([]pushItem, 0, len(c.dirty))
	for key, d := range c.dirty {
		if d.inflight {
			continue
		}
		d.inflight = true
		items = append(items, pushItem{key: key, kind: d.kind, index: d.index, version: d.version})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].index != items[j].index {
			return items[i].index < items[j].index
		}
		return items[i].key.Variant < items[j].key.Variant
	})
	return items
}

// savePoint pushes the current question's draft together with every earlier
// failed save.
func (c *Controller) savePoint(trigger SaveTrigger) {
	if c.drafts == nil {
		return
	}
	items := c.takeDirty()
	if len(items) == 0 {
		return
	}
	c.log.Debug().Str("trigger", string(trigger)).Int("drafts", len(items)).Msg("Save point")

	c.exec.Execute(func() {
		for _, it := range items {
			pushed, err := c.drafts.Push(c.ctx, it.kind, it.key)
			c.post(saveAckEvent{key: it.key, version: it.version, pushed: pushed, err: err})
		}
	})
}

func (c *Controller) onSaveAck(e saveAckEvent) {
	d, ok := c.dirty[e.key]
	if !ok {
		return
	}
	d.inflight = false
	if e.err != nil {
		c.log.Warn().Err(e.err).
			Str("question_id", e.key.QuestionID.String()).
			Msg("Save failed, retrying at next save point")
		return
	}
	if d.version == e.version {
		delete(c.dirty, e.key)
	}
	if e.pushed && c.nav != nil {
		_ = c.nav.MarkSaved(d.index)
	}
}

// beginSubmit is the only entry into Submitting. The first trigger wins and
// fixes the reason; later triggers are ignored.
func (c *Controller) beginSubmit(reason model.SubmissionReason) {
	if c.session.Phase.Ending() {
		c.log.Debug().Str("reason", string(reason)).Msg("Ignoring trigger, submission already started")
		return
	}

	c.session.SubmissionReason = reason
	c.setPhase(model.PhaseSubmitting)
	c.cancelAllTimers()
	c.log.Info().Str("reason", string(reason)).Msg("Submitting attempt")

	req := gateway.Request{
		SessionID:      c.session.SessionID,
		AssessmentID:   c.session.AssessmentID,
		Reason:         reason,
		ElapsedSeconds: c.elapsedSeconds(),
		ClientIP:       c.clientIP,
	}
	var items []pushItem
	if c.drafts != nil {
		items = c.takeDirty()
	}

	// The submission outlives Close; only the timeout bounds it.
	c.exec.Execute(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.policy.SubmitTimeout)
		defer cancel()

		for _, it := range items {
			if _, err := c.drafts.Push(ctx, it.kind, it.key); err != nil {
				c.log.Warn().Err(err).Str("question_id", it.key.QuestionID.String()).Msg("Final save failed")
			}
		}
		res, err := c.gateway.Submit(ctx, req)
		c.post(submitDoneEvent{result: res, err: err})
		if c.closed.Load() {
			c.Drain()
		}
	})
}

func (c *Controller) elapsedSeconds() int {
	if c.session.StartedAt == nil {
		return 0
	}
	used := c.clock.Now().Sub(*c.session.StartedAt)
	if used < 0 {
		used = 0
	}
	if used > c.session.Duration {
		used = c.session.Duration
	}
	return int(clock.CeilSeconds(used))
}

func (c *Controller) onSubmitDone(e submitDoneEvent) {
	if c.session.Phase != model.PhaseSubmitting {
		return
	}
	c.setPhase(model.PhaseTerminated)
	reason := c.session.SubmissionReason

	if e.err != nil {
		c.log.Error().Err(e.err).Str("reason", string(reason)).Msg("Submission failed, session closed")
	} else {
		c.log.Info().
			Str("reason", string(e.result.Reason)).
			Int("time_used_seconds", e.result.TimeUsedSeconds).
			Msg("Attempt submitted")
		if c.drafts != nil {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.policy.SubmitTimeout)
			defer cancel()
			if err := c.drafts.Local().Clear(ctx, c.session.SessionID); err != nil {
				c.log.Warn().Err(err).Msg("Clearing local drafts failed")
			}
		}
	}
	c.notice(NoticeTerminal, reason, reason.Message())
}
