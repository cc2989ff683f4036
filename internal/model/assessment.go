package model

import (
	"time"

	"github.com/google/uuid"
)

// Assessment represents a timed, proctored assessment.
type Assessment struct {
	ID                      uuid.UUID  `json:"id"`
	Title                   string     `json:"title"`
	ScheduledStart          *time.Time `json:"scheduledStart,omitempty"`
	DurationMinutes         int        `json:"durationMinutes"`
	EarlyStartBufferMinutes int        `json:"earlyStartBufferMinutes"`
	MaxTabSwitches          int        `json:"maxTabSwitches"`
	ShuffleQuestions        bool       `json:"shuffleQuestions"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// SessionConfig is what GET /assessment/:id returns to a student with an attempt.
// StartTime is the attempt's authoritative start; nil means not yet determinable.
type SessionConfig struct {
	AttemptID               uuid.UUID     `json:"attemptId"`
	AssessmentID            uuid.UUID     `json:"assessmentId"`
	StartTime               *time.Time    `json:"startTime"`
	ScheduledStart          *time.Time    `json:"scheduledStart,omitempty"`
	DurationSeconds         int           `json:"duration"`
	EarlyStartBufferSeconds int           `json:"earlyStartBuffer"`
	MaxTabSwitches          int           `json:"maxTabSwitches"`
	TabSwitchCount          int           `json:"tabSwitchCount"`
	FullscreenExitCount     int           `json:"fullscreenExitCount"`
	Status                  AttemptStatus `json:"status"`
}

// OpensAt returns the earliest moment the attempt may be worked on.
func (c *SessionConfig) OpensAt() (time.Time, bool) {
	if c.ScheduledStart == nil {
		return time.Time{}, false
	}
	return c.ScheduledStart.Add(-time.Duration(c.EarlyStartBufferSeconds) * time.Second), true
}
