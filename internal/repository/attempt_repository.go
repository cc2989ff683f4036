package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRepository handles assessment attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, assessment_id, student_id, started_at, submitted_at, status,
	submission_reason, time_used_seconds, end_ip, tab_switch_count, fullscreen_exit_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.StartedAt, &a.SubmittedAt, &a.Status,
		&a.SubmissionReason, &a.TimeUsedSeconds, &a.EndIP, &a.TabSwitchCount, &a.FullscreenExitCount)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByAssessmentAndStudent retrieves the attempt of a specific assessment-student combination.
func (r *AttemptRepository) GetByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM assessment_attempts
		 WHERE assessment_id = $1 AND student_id = $2`, assessmentID, studentID,
	))
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM assessment_attempts WHERE id = $1`, id,
	))
}

// Create inserts a new attempt (student starts the assessment).
// Returns pgx.ErrNoRows when the student already has an attempt.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO assessment_attempts (assessment_id, student_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (assessment_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.AssessmentID, a.StudentID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
}

// Submit finalizes an in-progress attempt. Returns pgx.ErrNoRows when the
// attempt was already submitted; the original record stays untouched.
func (r *AttemptRepository) Submit(ctx context.Context, id uuid.UUID, reason model.SubmissionReason, timeUsed int, endIP string, at time.Time) (*model.SubmitResult, error) {
	res := &model.SubmitResult{}
	err := r.pool.QueryRow(ctx,
		`UPDATE assessment_attempts
		 SET status = $1, submission_reason = $2, time_used_seconds = $3, end_ip = NULLIF($4, ''), submitted_at = $5
		 WHERE id = $6 AND status = $7
		 RETURNING id, submission_reason, submitted_at, time_used_seconds`,
		model.AttemptStatusSubmitted, reason, timeUsed, endIP, at, id, model.AttemptStatusInProgress,
	).Scan(&res.AttemptID, &res.Reason, &res.SubmittedAt, &res.TimeUsedSeconds)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetQuestionOrder returns the persisted shuffled order of an attempt, or nil if none was stored.
func (r *AttemptRepository) GetQuestionOrder(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT question_order FROM assessment_attempts WHERE id = $1`, id,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var order []uuid.UUID
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListByAssessment retrieves every attempt of an assessment, newest first.
func (r *AttemptRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM assessment_attempts
		 WHERE assessment_id = $1
		 ORDER BY started_at DESC`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}
