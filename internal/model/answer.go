package model

import (
	"time"

	"github.com/google/uuid"
)

// SaveAnswerRequest is the payload of the save-code, save-quiz-answer and save-frontend-code calls.
// Variant is the language for code questions and the fileset name for frontend questions.
type SaveAnswerRequest struct {
	QuestionID string `json:"questionId" binding:"required,uuid"`
	Variant    string `json:"variant" binding:"max=64,variant"`
	Content    string `json:"content" binding:"max=262144"`
}

// SavedAnswer is a Tier-2 (server acknowledged) answer.
type SavedAnswer struct {
	QuestionID uuid.UUID    `json:"questionId"`
	Kind       QuestionKind `json:"kind"`
	Variant    string       `json:"variant"`
	Content    string       `json:"content"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}
