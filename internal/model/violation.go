package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationKind classifies an integrity event.
type ViolationKind string

const (
	ViolationTabSwitch      ViolationKind = "TAB_SWITCH"
	ViolationFullscreenExit ViolationKind = "FULLSCREEN_EXIT"
)

// ViolationRequest carries the idempotency key of one violation increment.
type ViolationRequest struct {
	EventID string `json:"eventId" binding:"required,uuid"`
}

// CounterResponse is the authoritative counter after an increment.
type CounterResponse struct {
	Count int `json:"count"`
}

// ViolationEvent is the audit row persisted for each counted violation.
type ViolationEvent struct {
	AttemptID  uuid.UUID     `json:"attemptId"`
	EventID    uuid.UUID     `json:"eventId"`
	Kind       ViolationKind `json:"kind"`
	Count      int           `json:"count"`
	RecordedAt time.Time     `json:"recordedAt"`
}
