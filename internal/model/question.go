package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionKind partitions questions for navigation and persistence.
type QuestionKind string

const (
	QuestionKindQuiz     QuestionKind = "QUIZ"
	QuestionKindCode     QuestionKind = "CODE"
	QuestionKindFrontend QuestionKind = "FRONTEND"
)

// Question represents a single assessment question.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	AssessmentID uuid.UUID       `json:"assessmentId"`
	Kind         QuestionKind    `json:"kind"`
	Prompt       string          `json:"prompt"`
	Options      json.RawMessage `json:"options,omitempty"`
	Template     string          `json:"template,omitempty"`
	OrderNum     int             `json:"orderNum"`
}

// QuestionForStudent is a question as served to an attempt, tagged with its pre-shuffle position.
type QuestionForStudent struct {
	ID            uuid.UUID       `json:"id"`
	Kind          QuestionKind    `json:"kind"`
	Prompt        string          `json:"prompt"`
	Options       json.RawMessage `json:"options,omitempty"`
	Template      string          `json:"template,omitempty"`
	OriginalIndex int             `json:"originalIndex"`
}

// QuestionProgress is the controller's bookkeeping for one question of the shuffled set.
type QuestionProgress struct {
	QuestionID     uuid.UUID    `json:"questionId"`
	OriginalIndex  int          `json:"originalIndex"`
	Kind           QuestionKind `json:"kind"`
	Visited        bool         `json:"visited"`
	Saved          bool         `json:"saved"`
	CompletedFully bool         `json:"completedFully"`
}
