package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrAssessmentNotOpen  = errors.New("assessment is not open yet")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAttemptForbidden   = errors.New("attempt belongs to another student")
	ErrAttemptSubmitted   = errors.New("attempt already submitted")
	ErrInvalidReason      = errors.New("invalid submission reason")
	ErrQuestionMismatch   = errors.New("question does not belong to this attempt or kind")
)

// AttemptService handles assessment attempt business logic.
type AttemptService struct {
	attemptRepo    *repository.AttemptRepository
	assessmentRepo *repository.AssessmentRepository
	questionRepo   *repository.QuestionRepository
	answerRepo     *repository.AnswerRepository
	violations     *ViolationService
	rdb            *redis.Client
	now            func() time.Time
	log            zerolog.Logger

	// question kinds never change while an assessment runs
	kindsMu sync.RWMutex
	kinds   map[uuid.UUID]map[uuid.UUID]model.QuestionKind
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	assessmentRepo *repository.AssessmentRepository,
	questionRepo *repository.QuestionRepository,
	answerRepo *repository.AnswerRepository,
	violations *ViolationService,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo:    attemptRepo,
		assessmentRepo: assessmentRepo,
		questionRepo:   questionRepo,
		answerRepo:     answerRepo,
		violations:     violations,
		rdb:            rdb,
		now:            time.Now,
		log:            log.With().Str("component", "attempt_service").Logger(),
		kinds:          make(map[uuid.UUID]map[uuid.UUID]model.QuestionKind),
	}
}

func (s *AttemptService) getAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a, err := s.assessmentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return a, nil
}

// Start creates the student's attempt, or returns the existing one.
// Starting is refused before scheduledStart minus the early-start buffer.
func (s *AttemptService) Start(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.attemptRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}

	// Already started, possibly on another device: make sure the cache agrees.
	if existing != nil {
		s.cacheStart(ctx, existing)
		return existing, nil
	}

	if opens, ok := opensAt(assessment); ok && s.now().Before(opens) {
		return nil, ErrAssessmentNotOpen
	}

	attempt := &model.Attempt{
		AssessmentID: assessmentID,
		StudentID:    studentID,
		Status:       model.AttemptStatusInProgress,
	}
	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start detected
			existing, fetchErr := s.attemptRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheStart(ctx, attempt)

	questions, err := s.questionRepo.ListByAssessment(ctx, assessmentID)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Question order deferred to first fetch")
	} else {
		s.storeOrder(ctx, attempt.ID, shuffleOrder(attempt.ID, questions, assessment.ShuffleQuestions), true)
	}

	publishMonitorEvent(ctx, s.rdb, s.log, assessmentID.String(), monitorEvent{
		Type:      "attempt_started",
		AttemptID: attempt.ID.String(),
		StudentID: studentID,
		At:        attempt.StartedAt,
	})

	return attempt, nil
}

// GetConfig returns the session configuration of the student's attempt.
// Without an attempt the start time is nil, which keeps the controller preparing.
func (s *AttemptService) GetConfig(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.SessionConfig, error) {
	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	cfg := &model.SessionConfig{
		AssessmentID:            assessmentID,
		ScheduledStart:          assessment.ScheduledStart,
		DurationSeconds:         assessment.DurationMinutes * 60,
		EarlyStartBufferSeconds: assessment.EarlyStartBufferMinutes * 60,
		MaxTabSwitches:          assessment.MaxTabSwitches,
	}

	attempt, err := s.attemptRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cfg, nil
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	start, err := s.startTime(ctx, attempt)
	if err != nil {
		return nil, err
	}

	cfg.AttemptID = attempt.ID
	cfg.StartTime = &start
	cfg.Status = attempt.Status
	cfg.TabSwitchCount, cfg.FullscreenExitCount, err = s.violations.Counters(ctx, attempt)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Live counters unavailable, using persisted values")
		cfg.TabSwitchCount, cfg.FullscreenExitCount = attempt.TabSwitchCount, attempt.FullscreenExitCount
	}
	return cfg, nil
}

// GetQuestions returns the attempt's questions in its shuffled order, each tagged with its original index.
func (s *AttemptService) GetQuestions(ctx context.Context, assessmentID uuid.UUID, studentID int) ([]model.QuestionForStudent, error) {
	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.attemptRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	questions, err := s.questionRepo.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	order, err := s.loadOrder(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		order = shuffleOrder(attempt.ID, questions, assessment.ShuffleQuestions)
		s.storeOrder(ctx, attempt.ID, order, true)
	}

	return arrange(questions, order), nil
}

// Submit finalizes the attempt. Repeating a submit returns the original record.
func (s *AttemptService) Submit(ctx context.Context, assessmentID uuid.UUID, studentID int, req model.SubmitRequest) (*model.SubmitResult, error) {
	if !req.Reason.Valid() {
		return nil, ErrInvalidReason
	}

	attemptID, err := uuid.Parse(req.AttemptID)
	if err != nil {
		return nil, ErrAttemptNotFound
	}

	attempt, err := s.OwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if attempt.AssessmentID != assessmentID {
		return nil, ErrAttemptForbidden
	}

	assessment, err := s.getAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	timeUsed := min(max(req.TimeUsedSeconds, 0), assessment.DurationMinutes*60)

	res, err := s.attemptRepo.Submit(ctx, attemptID, req.Reason, timeUsed, req.EndIP, s.now())
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("submit attempt: %w", err)
		}
		// Already submitted: hand back the original outcome.
		current, fetchErr := s.attemptRepo.GetByID(ctx, attemptID)
		if fetchErr != nil {
			return nil, fmt.Errorf("load submitted attempt: %w", fetchErr)
		}
		res := submittedResult(current)
		res.Replayed = true
		return res, nil
	}

	if err := s.violations.Close(ctx, attemptID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to close live counters")
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("reason", string(res.Reason)).
		Int("time_used_seconds", res.TimeUsedSeconds).
		Msg("Attempt submitted")

	publishMonitorEvent(ctx, s.rdb, s.log, assessmentID.String(), monitorEvent{
		Type:      "attempt_submitted",
		AttemptID: attemptID.String(),
		StudentID: studentID,
		Reason:    string(res.Reason),
		At:        res.SubmittedAt,
	})

	return res, nil
}

// OwnedAttempt loads an attempt and checks it belongs to the student.
func (s *AttemptService) OwnedAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.Attempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrAttemptForbidden
	}
	return attempt, nil
}

type answerPayload struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id"`
	Variant    string `json:"variant"`
	Kind       string `json:"kind"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

// SaveAnswer stores a Tier-2 answer in the Redis fast lane and queues it for PostgreSQL.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, kind model.QuestionKind, req model.SaveAnswerRequest) error {
	attempt, err := s.OwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	if attempt.Status == model.AttemptStatusSubmitted {
		return ErrAttemptSubmitted
	}

	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return ErrQuestionMismatch
	}
	kinds, err := s.questionKinds(ctx, attempt.AssessmentID)
	if err != nil {
		return err
	}
	if kinds[questionID] != kind {
		return ErrQuestionMismatch
	}

	now := s.now()
	saved, _ := json.Marshal(model.SavedAnswer{
		QuestionID: questionID,
		Kind:       kind,
		Variant:    req.Variant,
		Content:    req.Content,
		UpdatedAt:  now,
	})
	payload, _ := json.Marshal(answerPayload{
		AttemptID:  attemptID.String(),
		QuestionID: questionID.String(),
		Variant:    req.Variant,
		Kind:       string(kind),
		Content:    req.Content,
		Timestamp:  now.UnixMilli(),
	})

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String()), answerField(questionID, req.Variant), saved)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// GetAnswers returns the last saved value of every answer. Values still in the
// Redis fast lane take precedence over persisted rows.
func (s *AttemptService) GetAnswers(ctx context.Context, attemptID uuid.UUID, studentID int) ([]model.SavedAnswer, error) {
	if _, err := s.OwnedAttempt(ctx, attemptID, studentID); err != nil {
		return nil, err
	}

	persisted, err := s.answerRepo.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	cached, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Answer cache unavailable, serving persisted answers")
		cached = nil
	}

	return mergeAnswers(persisted, cached), nil
}

func (s *AttemptService) questionKinds(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]model.QuestionKind, error) {
	s.kindsMu.RLock()
	kinds, ok := s.kinds[assessmentID]
	s.kindsMu.RUnlock()
	if ok {
		return kinds, nil
	}

	kinds, err := s.questionRepo.KindsByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("load question kinds: %w", err)
	}

	s.kindsMu.Lock()
	s.kinds[assessmentID] = kinds
	s.kindsMu.Unlock()
	return kinds, nil
}

func (s *AttemptService) cacheStart(ctx context.Context, attempt *model.Attempt) {
	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())
	if err := s.rdb.Set(ctx, startKey, attempt.StartedAt.UnixMilli(), 0).Err(); err != nil {
		// The fallback in startTime will handle it.
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to cache start time")
	}
}

// startTime reads the cached start time, self-healing the cache from the attempt row on a miss.
func (s *AttemptService) startTime(ctx context.Context, attempt *model.Attempt) (time.Time, error) {
	startKey := config.CacheKey.AttemptStartKey(attempt.ID.String())

	val, err := s.rdb.Get(ctx, startKey).Result()
	if err == redis.Nil {
		s.cacheStart(ctx, attempt)
		return attempt.StartedAt, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis error getting start time: %w", err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time format in cache: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

type questionOrderPayload struct {
	AttemptID string   `json:"attempt_id"`
	Order     []string `json:"order"`
}

func (s *AttemptService) storeOrder(ctx context.Context, attemptID uuid.UUID, order []uuid.UUID, persist bool) {
	raw, _ := json.Marshal(order)

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AttemptQuestionOrderKey(attemptID.String()), raw, 0)
	if persist {
		ids := make([]string, len(order))
		for i, id := range order {
			ids[i] = id.String()
		}
		payload, _ := json.Marshal(questionOrderPayload{AttemptID: attemptID.String(), Order: ids})
		pipe.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to store question order")
	}
}

// loadOrder reads the attempt's order from Redis, then PostgreSQL.
func (s *AttemptService) loadOrder(ctx context.Context, attemptID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.AttemptQuestionOrderKey(attemptID.String())).Bytes()
	if err == nil {
		var order []uuid.UUID
		if jsonErr := json.Unmarshal(raw, &order); jsonErr == nil {
			return order, nil
		}
	} else if err != redis.Nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Question order cache unavailable")
	}

	order, err := s.attemptRepo.GetQuestionOrder(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load question order: %w", err)
	}
	if len(order) > 0 {
		s.storeOrder(ctx, attemptID, order, false)
	}
	return order, nil
}

func opensAt(a *model.Assessment) (time.Time, bool) {
	if a.ScheduledStart == nil {
		return time.Time{}, false
	}
	return a.ScheduledStart.Add(-time.Duration(a.EarlyStartBufferMinutes) * time.Minute), true
}

// shuffleOrder derives the attempt's question order. The permutation is seeded
// by the attempt id so a lost cache entry regenerates the same order.
func shuffleOrder(attemptID uuid.UUID, questions []model.Question, shuffle bool) []uuid.UUID {
	order := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	if !shuffle {
		return order
	}

	rng := rand.New(rand.NewPCG(binary.BigEndian.Uint64(attemptID[:8]), binary.BigEndian.Uint64(attemptID[8:])))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

// arrange lays out questions (sorted by order_num) in the given order. Questions
// missing from order keep their relative position at the end.
func arrange(questions []model.Question, order []uuid.UUID) []model.QuestionForStudent {
	index := make(map[uuid.UUID]int, len(questions))
	for i, q := range questions {
		index[q.ID] = i
	}

	out := make([]model.QuestionForStudent, 0, len(questions))
	placed := make(map[uuid.UUID]bool, len(questions))
	add := func(i int) {
		q := questions[i]
		placed[q.ID] = true
		out = append(out, model.QuestionForStudent{
			ID:            q.ID,
			Kind:          q.Kind,
			Prompt:        q.Prompt,
			Options:       q.Options,
			Template:      q.Template,
			OriginalIndex: i,
		})
	}

	for _, id := range order {
		if i, ok := index[id]; ok && !placed[id] {
			add(i)
		}
	}
	for i, q := range questions {
		if !placed[q.ID] {
			add(i)
		}
	}
	return out
}

func answerField(questionID uuid.UUID, variant string) string {
	return questionID.String() + ":" + variant
}

func mergeAnswers(persisted []model.SavedAnswer, cached map[string]string) []model.SavedAnswer {
	byField := make(map[string]model.SavedAnswer, len(persisted)+len(cached))
	order := make([]string, 0, len(persisted)+len(cached))

	for _, a := range persisted {
		f := answerField(a.QuestionID, a.Variant)
		if _, seen := byField[f]; !seen {
			order = append(order, f)
		}
		byField[f] = a
	}
	for _, f := range slices.Sorted(maps.Keys(cached)) {
		raw := cached[f]
		var a model.SavedAnswer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		prev, seen := byField[f]
		if !seen {
			order = append(order, f)
		} else if prev.UpdatedAt.After(a.UpdatedAt) {
			continue
		}
		byField[f] = a
	}

	out := make([]model.SavedAnswer, 0, len(order))
	for _, f := range order {
		out = append(out, byField[f])
	}
	return out
}

func submittedResult(a *model.Attempt) *model.SubmitResult {
	res := &model.SubmitResult{AttemptID: a.ID}
	if a.SubmissionReason != nil {
		res.Reason = *a.SubmissionReason
	}
	if a.SubmittedAt != nil {
		res.SubmittedAt = *a.SubmittedAt
	}
	if a.TimeUsedSeconds != nil {
		res.TimeUsedSeconds = *a.TimeUsedSeconds
	}
	return res
}
