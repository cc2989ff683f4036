package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptBridge binds one student's server-hosted proctoring session to the
// attempt and violation services in-process. It satisfies the loader, counter,
// answer store, submitter and IP lookup contracts the session controller uses.
type AttemptBridge struct {
	attempts   *AttemptService
	violations *ViolationService
	studentID  int
	clientIP   string
}

// NewAttemptBridge creates an AttemptBridge for the given student connection.
func NewAttemptBridge(attempts *AttemptService, violations *ViolationService, studentID int, clientIP string) *AttemptBridge {
	return &AttemptBridge{
		attempts:   attempts,
		violations: violations,
		studentID:  studentID,
		clientIP:   clientIP,
	}
}

func (b *AttemptBridge) LoadConfig(ctx context.Context, assessmentID uuid.UUID) (model.SessionConfig, error) {
	cfg, err := b.attempts.GetConfig(ctx, assessmentID, b.studentID)
	if err != nil {
		return model.SessionConfig{}, err
	}
	return *cfg, nil
}

func (b *AttemptBridge) LoadQuestions(ctx context.Context, assessmentID uuid.UUID) ([]model.QuestionForStudent, error) {
	return b.attempts.GetQuestions(ctx, assessmentID, b.studentID)
}

func (b *AttemptBridge) IncrementTabSwitch(ctx context.Context, attemptID, eventID uuid.UUID) (int, error) {
	return b.violations.Record(ctx, attemptID, b.studentID, model.ViolationTabSwitch, eventID)
}

func (b *AttemptBridge) IncrementFullscreenExit(ctx context.Context, attemptID, eventID uuid.UUID) (int, error) {
	return b.violations.Record(ctx, attemptID, b.studentID, model.ViolationFullscreenExit, eventID)
}

func (b *AttemptBridge) SaveCode(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error {
	return b.attempts.SaveAnswer(ctx, attemptID, b.studentID, model.QuestionKindCode, req)
}

func (b *AttemptBridge) SaveQuizAnswer(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error {
	return b.attempts.SaveAnswer(ctx, attemptID, b.studentID, model.QuestionKindQuiz, req)
}

func (b *AttemptBridge) SaveFrontendCode(ctx context.Context, attemptID uuid.UUID, req model.SaveAnswerRequest) error {
	return b.attempts.SaveAnswer(ctx, attemptID, b.studentID, model.QuestionKindFrontend, req)
}

func (b *AttemptBridge) LoadSaved(ctx context.Context, attemptID uuid.UUID) ([]model.SavedAnswer, error) {
	return b.attempts.GetAnswers(ctx, attemptID, b.studentID)
}

func (b *AttemptBridge) Submit(ctx context.Context, assessmentID uuid.UUID, req model.SubmitRequest) (model.SubmitResult, error) {
	res, err := b.attempts.Submit(ctx, assessmentID, b.studentID, req)
	if err != nil {
		return model.SubmitResult{}, err
	}
	return *res, nil
}

// PublicIP reports the address the connection came from.
func (b *AttemptBridge) PublicIP(context.Context) (string, error) {
	return b.clientIP, nil
}
