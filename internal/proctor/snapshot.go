package proctor

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/navigator"
	"github.com/stemsi/exstem-proctor/internal/proctor/clock"
)

// Snapshot is a read-only view of the session for rendering.
type Snapshot struct {
	SessionID             uuid.UUID                `json:"sessionId"`
	Phase                 model.Phase              `json:"phase"`
	RemainingSeconds      int64                    `json:"remainingSeconds"`
	DeadlineKnown         bool                     `json:"deadlineKnown"`
	GraceRemainingSeconds int64                    `json:"graceRemainingSeconds,omitempty"`
	Fullscreen            bool                     `json:"fullscreen"`
	TabSwitchCount        int                      `json:"tabSwitchCount"`
	FullscreenExitCount   int                      `json:"fullscreenExitCount"`
	MaxTabSwitches        int                      `json:"maxTabSwitches"`
	SubmissionReason      model.SubmissionReason   `json:"submissionReason,omitempty"`
	CurrentIndex          int                      `json:"currentIndex"`
	Questions             []model.QuestionProgress `json:"questions"`
	Summary               navigator.Summary        `json:"summary"`
	PendingSaves          int                      `json:"pendingSaves"`
	Resumed               bool                     `json:"resumed"`
}

// NoticeKind classifies a notice.
type NoticeKind string

const (
	NoticeInfo     NoticeKind = "INFO"
	NoticeWarning  NoticeKind = "WARNING"
	NoticeTerminal NoticeKind = "TERMINAL"
)

// Notice is a message for the student. Terminal notices carry the submission reason.
type Notice struct {
	Kind    NoticeKind             `json:"kind"`
	Reason  model.SubmissionReason `json:"reason,omitempty"`
	Message string                 `json:"message"`
}

// Observer receives snapshots and notices from the event loop goroutine.
// Implementations must not block.
type Observer interface {
	OnSnapshot(Snapshot)
	OnNotice(Notice)
}

type nopObserver struct{}

func (nopObserver) OnSnapshot(Snapshot) {}
func (nopObserver) OnNotice(Notice)     {}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		SessionID:           c.session.SessionID,
		Phase:               c.session.Phase,
		Fullscreen:          c.fullscreen,
		TabSwitchCount:      c.session.TabSwitchCount,
		FullscreenExitCount: c.session.FullscreenExitCount,
		MaxTabSwitches:      c.session.MaxTabSwitches,
		SubmissionReason:    c.session.SubmissionReason,
		CurrentIndex:        -1,
		PendingSaves:        len(c.dirty),
		Resumed:             c.resumed,
	}

	if deadline, ok := c.session.Deadline(); ok {
		snap.DeadlineKnown = true
		snap.RemainingSeconds = clock.NewCountdown(c.clock, deadline).Seconds()
	}
	if c.session.Phase == model.PhaseViolationGrace {
		snap.GraceRemainingSeconds = clock.NewCountdown(c.clock, c.graceEnds).Seconds()
	}
	if c.nav != nil {
		snap.CurrentIndex = c.nav.Current()
		snap.Questions = c.nav.Entries()
		snap.Summary = c.nav.Summary()
	}
	return snap
}
