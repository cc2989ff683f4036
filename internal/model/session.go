package model

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the session controller's current discrete state.
type Phase string

const (
	PhasePreparing         Phase = "PREPARING"
	PhaseFullscreenPending Phase = "FULLSCREEN_PENDING"
	PhaseActive            Phase = "ACTIVE"
	PhaseViolationGrace    Phase = "VIOLATION_GRACE"
	PhaseSubmitting        Phase = "SUBMITTING"
	PhaseTerminated        Phase = "TERMINATED"
)

// Ending reports whether the phase is past the point of accepting triggers.
func (p Phase) Ending() bool {
	return p == PhaseSubmitting || p == PhaseTerminated
}

// SubmissionReason names the trigger that ended a session.
type SubmissionReason string

const (
	ReasonManual         SubmissionReason = "MANUAL"
	ReasonTimeUp         SubmissionReason = "TIME_UP"
	ReasonTabSwitch      SubmissionReason = "TAB_SWITCH_VIOLATION"
	ReasonFullscreenExit SubmissionReason = "FULLSCREEN_EXIT_VIOLATION"
)

// Valid reports whether r is one of the known reasons.
func (r SubmissionReason) Valid() bool {
	switch r {
	case ReasonManual, ReasonTimeUp, ReasonTabSwitch, ReasonFullscreenExit:
		return true
	}
	return false
}

// Message returns the literal notice shown to the student for a terminal trigger.
func (r SubmissionReason) Message() string {
	switch r {
	case ReasonTimeUp:
		return "Time is up. Your assessment has been submitted automatically."
	case ReasonTabSwitch:
		return "You switched tabs or windows too many times. Your assessment has been submitted."
	case ReasonFullscreenExit:
		return "You did not return to fullscreen in time. Your assessment has been submitted."
	case ReasonManual:
		return "You confirmed the submission. Your assessment has been submitted."
	default:
		return "Your assessment has ended."
	}
}

// UnlimitedTabSwitches disables the tab-switch threshold.
const UnlimitedTabSwitches = -1

// Session is one student's single attempt at one assessment, as seen by the controller.
type Session struct {
	SessionID           uuid.UUID        `json:"sessionId"`
	AssessmentID        uuid.UUID        `json:"assessmentId"`
	StudentID           int              `json:"studentId"`
	Phase               Phase            `json:"phase"`
	StartedAt           *time.Time       `json:"startedAt,omitempty"`
	Duration            time.Duration    `json:"-"`
	TabSwitchCount      int              `json:"tabSwitchCount"`
	FullscreenExitCount int              `json:"fullscreenExitCount"`
	MaxTabSwitches      int              `json:"maxTabSwitches"`
	SubmissionReason    SubmissionReason `json:"submissionReason,omitempty"`
}

// Deadline returns StartedAt + Duration. ok is false while the start time is unknown.
func (s *Session) Deadline() (deadline time.Time, ok bool) {
	if s.StartedAt == nil || s.Duration <= 0 {
		return time.Time{}, false
	}
	return s.StartedAt.Add(s.Duration), true
}

// TimeRemaining derives the remaining time from the deadline at now.
func (s *Session) TimeRemaining(now time.Time) (time.Duration, bool) {
	deadline, ok := s.Deadline()
	if !ok {
		return 0, false
	}
	return Remaining(deadline, now), true
}

// Remaining returns max(0, deadline - now).
func Remaining(deadline, now time.Time) time.Duration {
	left := deadline.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Unlimited reports whether the tab-switch threshold is disabled.
func (s *Session) Unlimited() bool {
	return s.MaxTabSwitches == UnlimitedTabSwitches
}
