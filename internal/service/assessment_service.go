package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// AssessmentService serves the invigilator's read side of assessments.
type AssessmentService struct {
	assessmentRepo *repository.AssessmentRepository
	questionRepo   *repository.QuestionRepository
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(assessmentRepo *repository.AssessmentRepository, questionRepo *repository.QuestionRepository) *AssessmentService {
	return &AssessmentService{assessmentRepo: assessmentRepo, questionRepo: questionRepo}
}

// AssessmentDetail is an assessment together with its question count.
type AssessmentDetail struct {
	model.Assessment
	QuestionCount int `json:"questionCount"`
}

// GetByID retrieves an assessment by its UUID.
func (s *AssessmentService) GetByID(ctx context.Context, id uuid.UUID) (*AssessmentDetail, error) {
	a, err := s.assessmentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, err
	}

	kinds, err := s.questionRepo.KindsByAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AssessmentDetail{Assessment: *a, QuestionCount: len(kinds)}, nil
}

// List retrieves assessments with pagination.
func (s *AssessmentService) List(ctx context.Context, page, perPage int) ([]model.Assessment, *response.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	assessments, total, err := s.assessmentRepo.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	if assessments == nil {
		assessments = []model.Assessment{}
	}

	return assessments, &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}
