package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal    Action = "signal"
	ActionLoadDraft Action = "load_draft"
	ActionPing      Action = "ping"
)

// RequestPayload is every client message. Signal is set for ActionSignal;
// QuestionID, Variant and Template for ActionLoadDraft.
type RequestPayload struct {
	Action     Action          `json:"action"`
	Signal     *proctor.Signal `json:"signal,omitempty"`
	QuestionID string          `json:"question_id,omitempty"`
	Variant    string          `json:"variant,omitempty"`
	Template   string          `json:"template,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot Event = "snapshot"
	EventNotice   Event = "notice"
	EventDraft    Event = "draft"
	EventError    Event = "error"
	EventPong     Event = "pong"
	EventClosed   Event = "closed"
)

type SnapshotResponse struct {
	Event    Event            `json:"event"`
	Snapshot proctor.Snapshot `json:"snapshot"`
}

type NoticeResponse struct {
	Event  Event          `json:"event"`
	Notice proctor.Notice `json:"notice"`
}

type DraftResponse struct {
	Event      Event        `json:"event"`
	QuestionID string       `json:"question_id"`
	Variant    string       `json:"variant"`
	Content    string       `json:"content"`
	Source     draft.Source `json:"source"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
