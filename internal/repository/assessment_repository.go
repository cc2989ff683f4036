package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AssessmentRepository handles assessment data access.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// GetByID retrieves an assessment by its UUID.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, scheduled_start, duration_minutes, early_start_buffer_minutes,
		        max_tab_switches, shuffle_questions, created_at, updated_at
		 FROM assessments WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.ScheduledStart, &a.DurationMinutes, &a.EarlyStartBufferMinutes,
		&a.MaxTabSwitches, &a.ShuffleQuestions, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List retrieves assessments ordered by creation time with pagination.
func (r *AssessmentRepository) List(ctx context.Context, limit, offset int) ([]model.Assessment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assessments`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, title, scheduled_start, duration_minutes, early_start_buffer_minutes,
		        max_tab_switches, shuffle_questions, created_at, updated_at
		 FROM assessments
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var assessments []model.Assessment
	for rows.Next() {
		var a model.Assessment
		if err := rows.Scan(&a.ID, &a.Title, &a.ScheduledStart, &a.DurationMinutes, &a.EarlyStartBufferMinutes,
			&a.MaxTabSwitches, &a.ShuffleQuestions, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, err
		}
		assessments = append(assessments, a)
	}
	return assessments, total, rows.Err()
}

// Create inserts a new assessment.
func (r *AssessmentRepository) Create(ctx context.Context, a *model.Assessment) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO assessments (title, scheduled_start, duration_minutes, early_start_buffer_minutes,
		                          max_tab_switches, shuffle_questions)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		a.Title, a.ScheduledStart, a.DurationMinutes, a.EarlyStartBufferMinutes,
		a.MaxTabSwitches, a.ShuffleQuestions,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}
