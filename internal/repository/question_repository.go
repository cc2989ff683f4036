package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByAssessment retrieves all questions for a given assessment, ordered by order_num.
func (r *QuestionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, kind, prompt, options, template, order_num
		 FROM questions WHERE assessment_id = $1
		 ORDER BY order_num`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Kind, &q.Prompt, &q.Options, &q.Template, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// KindsByAssessment returns the kind of every question in the assessment.
func (r *QuestionRepository) KindsByAssessment(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]model.QuestionKind, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind FROM questions WHERE assessment_id = $1`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kinds := make(map[uuid.UUID]model.QuestionKind)
	for rows.Next() {
		var id uuid.UUID
		var kind model.QuestionKind
		if err := rows.Scan(&id, &kind); err != nil {
			return nil, err
		}
		kinds[id] = kind
	}
	return kinds, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (assessment_id, kind, prompt, options, template, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		q.AssessmentID, q.Kind, q.Prompt, q.Options, q.Template, q.OrderNum,
	).Scan(&q.ID)
}
