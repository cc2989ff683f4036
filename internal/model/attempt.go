package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates server-side attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// Attempt is the authoritative server record of a session.
type Attempt struct {
	ID                  uuid.UUID         `json:"id"`
	AssessmentID        uuid.UUID         `json:"assessmentId"`
	StudentID           int               `json:"studentId"`
	StartedAt           time.Time         `json:"startedAt"`
	SubmittedAt         *time.Time        `json:"submittedAt,omitempty"`
	Status              AttemptStatus     `json:"status"`
	SubmissionReason    *SubmissionReason `json:"submissionReason,omitempty"`
	TimeUsedSeconds     *int              `json:"timeUsedSeconds,omitempty"`
	EndIP               *string           `json:"endIP,omitempty"`
	TabSwitchCount      int               `json:"tabSwitchCount"`
	FullscreenExitCount int               `json:"fullscreenExitCount"`
}

// SubmitRequest is the payload of POST /assessment/:id/submit.
type SubmitRequest struct {
	Reason          SubmissionReason `json:"reason" binding:"required,oneof=MANUAL TIME_UP TAB_SWITCH_VIOLATION FULLSCREEN_EXIT_VIOLATION"`
	TimeUsedSeconds int              `json:"timeUsedSeconds" binding:"min=0"`
	EndIP           string           `json:"endIP" binding:"max=64"`
	AttemptID       string           `json:"attemptId" binding:"required,uuid"`
}

// SubmitResult is the terminal record of an attempt. Repeated submits return the
// original with Replayed set.
type SubmitResult struct {
	AttemptID       uuid.UUID        `json:"attemptId"`
	Reason          SubmissionReason `json:"reason"`
	SubmittedAt     time.Time        `json:"submittedAt"`
	TimeUsedSeconds int              `json:"timeUsedSeconds"`
	Replayed        bool             `json:"-"`
}
