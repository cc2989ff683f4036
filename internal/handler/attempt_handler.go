package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// AttemptHandler handles the student-facing assessment attempt endpoints.
type AttemptHandler struct {
	attemptService   *service.AttemptService
	violationService *service.ViolationService
	log              zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	attemptService *service.AttemptService,
	violationService *service.ViolationService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		attemptService:   attemptService,
		violationService: violationService,
		log:              log.With().Str("component", "attempt_handler").Logger(),
	}
}

// Start godoc
// POST /api/v1/assessment/:id/start
// Creates the student's attempt (idempotent).
func (h *AttemptHandler) Start(c *gin.Context) {
	claims, assessmentID, ok := h.studentAndID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, attempt)
}

// GetConfig godoc
// GET /api/v1/assessment/:id
func (h *AttemptHandler) GetConfig(c *gin.Context) {
	claims, assessmentID, ok := h.studentAndID(c)
	if !ok {
		return
	}

	cfg, err := h.attemptService.GetConfig(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, cfg)
}

// GetQuestions godoc
// GET /api/v1/assessment/:id/questions
// Returns the questions in the attempt's shuffled order.
func (h *AttemptHandler) GetQuestions(c *gin.Context) {
	claims, assessmentID, ok := h.studentAndID(c)
	if !ok {
		return
	}

	questions, err := h.attemptService.GetQuestions(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if questions == nil {
		questions = []model.QuestionForStudent{}
	}

	response.Success(c, http.StatusOK, questions)
}

// Submit godoc
// POST /api/v1/assessment/:id/submit
// Finalizes the attempt; repeated submits return the original result.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims, assessmentID, ok := h.studentAndID(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attemptService.Submit(c.Request.Context(), assessmentID, claims.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	if res.Replayed {
		response.MarkReplayed(c)
	}
	response.Success(c, http.StatusOK, res)
}

// RecordTabSwitch godoc
// POST /api/v1/assessment-attempt/:id/tab-switch
func (h *AttemptHandler) RecordTabSwitch(c *gin.Context) {
	h.recordViolation(c, model.ViolationTabSwitch)
}

// RecordFullscreenExit godoc
// PATCH /api/v1/assessment-attempt/:id/fullscreen-exit
func (h *AttemptHandler) RecordFullscreenExit(c *gin.Context) {
	h.recordViolation(c, model.ViolationFullscreenExit)
}

func (h *AttemptHandler) recordViolation(c *gin.Context, kind model.ViolationKind) {
	claims, attemptID, ok := h.studentAndID(c)
	if !ok {
		return
	}

	var req model.ViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	eventID := uuid.MustParse(req.EventID)

	count, err := h.violationService.Record(c.Request.Context(), attemptID, claims.UserID, kind, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.CounterResponse{Count: count})
}

// SaveCode godoc
// POST /api/v1/assessment-attempt/:id/save-code
func (h *AttemptHandler) SaveCode(c *gin.Context) {
	h.saveAnswer(c, model.QuestionKindCode)
}

// SaveQuizAnswer godoc
// POST /api/v1/assessment-attempt/:id/save-quiz-answer
func (h *AttemptHandler) SaveQuizAnswer(c *gin.Context) {
	h.saveAnswer(c, model.QuestionKindQuiz)
}

// SaveFrontendCode godoc
// POST /api/v1/assessment-attempt/:id/save-frontend-code
func (h *AttemptHandler) SaveFrontendCode(c *gin.Context) {
	h.saveAnswer(c, model.QuestionKindFrontend)
}

func (h *AttemptHandler) saveAnswer(c *gin.Context, kind model.QuestionKind) {
	claims, attemptID, ok := h.studentAndID(c)
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, claims.UserID, kind, req); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// GetAnswers godoc
// GET /api/v1/assessment-attempt/:id/answers
// Returns the last saved value of every answer of the attempt.
func (h *AttemptHandler) GetAnswers(c *gin.Context) {
	claims, attemptID, ok := h.studentAndID(c)
	if !ok {
		return
	}

	answers, err := h.attemptService.GetAnswers(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if answers == nil {
		answers = []model.SavedAnswer{}
	}

	response.Success(c, http.StatusOK, answers)
}

func (h *AttemptHandler) studentAndID(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, id, true
}

// fail maps service errors onto API error codes.
func (h *AttemptHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAssessmentNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotFound)
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrAttemptForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrAttemptForbidden)
	case errors.Is(err, service.ErrAssessmentNotOpen):
		response.Fail(c, http.StatusConflict, response.ErrAssessmentNotOpen)
	case errors.Is(err, service.ErrAttemptSubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAttemptSubmitted)
	case errors.Is(err, service.ErrInvalidReason):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidReason)
	case errors.Is(err, service.ErrQuestionMismatch):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionMismatch)
	default:
		h.log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
