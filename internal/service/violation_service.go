package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Counter hash fields.
const (
	fieldTabSwitch      = "tab_switch"
	fieldFullscreenExit = "fullscreen_exit"
	fieldStudentID      = "student_id"
	fieldAssessmentID   = "assessment_id"
	fieldSubmitted      = "submitted"
)

// incrementScript counts one violation event at most once.
// KEYS[1] counters hash, KEYS[2] event idempotency key.
// ARGV[1] counter field, ARGV[2] ttl seconds.
// Returns {count, fresh}; count is -1 once the attempt is submitted.
var incrementScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'submitted') == '1' then
  return {-1, 0}
end
local prior = redis.call('GET', KEYS[2])
if prior then
  return {tonumber(prior), 0}
end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('SET', KEYS[2], n, 'EX', tonumber(ARGV[2]))
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
return {n, 1}
`)

// AttemptLookup loads the persisted attempt row used to seed live counters.
type AttemptLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
}

// ViolationService keeps the authoritative violation counters of running attempts in Redis.
type ViolationService struct {
	rdb      *redis.Client
	attempts AttemptLookup
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewViolationService creates a new ViolationService.
func NewViolationService(rdb *redis.Client, attempts AttemptLookup, ttl time.Duration, log zerolog.Logger) *ViolationService {
	return &ViolationService{
		rdb:      rdb,
		attempts: attempts,
		ttl:      ttl,
		now:      time.Now,
		log:      log.With().Str("component", "violation_service").Logger(),
	}
}

type violationPayload struct {
	AttemptID string `json:"attempt_id"`
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// Record counts one violation of kind for the attempt. Replaying the same
// eventID returns the count assigned the first time without incrementing.
func (s *ViolationService) Record(ctx context.Context, attemptID uuid.UUID, studentID int, kind model.ViolationKind, eventID uuid.UUID) (int, error) {
	field, err := counterField(kind)
	if err != nil {
		return 0, err
	}

	live, err := s.ensureCounters(ctx, attemptID)
	if err != nil {
		return 0, err
	}
	if live[fieldStudentID] != strconv.Itoa(studentID) {
		return 0, ErrAttemptForbidden
	}

	countersKey := config.CacheKey.AttemptCountersKey(attemptID.String())
	eventKey := config.CacheKey.ViolationEventKey(attemptID.String(), eventID.String())
	res, err := incrementScript.Run(ctx, s.rdb, []string{countersKey, eventKey}, field, int(s.ttl.Seconds())).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", field, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("increment %s: unexpected reply %v", field, res)
	}

	count, fresh := int(res[0]), res[1] == 1
	if count < 0 {
		return 0, ErrAttemptSubmitted
	}
	if !fresh {
		return count, nil
	}

	now := s.now()
	payload, _ := json.Marshal(violationPayload{
		AttemptID: attemptID.String(),
		EventID:   eventID.String(),
		Kind:      string(kind),
		Count:     count,
		Timestamp: now.UnixMilli(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to queue violation event")
	}

	publishMonitorEvent(ctx, s.rdb, s.log, live[fieldAssessmentID], monitorEvent{
		Type:      "violation",
		AttemptID: attemptID.String(),
		StudentID: studentID,
		Kind:      string(kind),
		Count:     count,
		At:        now,
	})

	return count, nil
}

// Counters returns the live counters of an attempt, falling back to the persisted row.
func (s *ViolationService) Counters(ctx context.Context, attempt *model.Attempt) (tabSwitches, fullscreenExits int, err error) {
	fields, err := s.rdb.HMGet(ctx, config.CacheKey.AttemptCountersKey(attempt.ID.String()), fieldTabSwitch, fieldFullscreenExit).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read counters: %w", err)
	}

	tabSwitches = max(attempt.TabSwitchCount, parseCounter(fields[0]))
	fullscreenExits = max(attempt.FullscreenExitCount, parseCounter(fields[1]))
	return tabSwitches, fullscreenExits, nil
}

// Close rejects every further increment for the attempt.
func (s *ViolationService) Close(ctx context.Context, attemptID uuid.UUID) error {
	key := config.CacheKey.AttemptCountersKey(attemptID.String())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldSubmitted, "1")
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// ensureCounters seeds the live hash from the attempt row when it is missing
// and returns its current fields.
func (s *ViolationService) ensureCounters(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.AttemptCountersKey(attemptID.String())

	live, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	if live[fieldStudentID] != "" {
		return live, nil
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, fieldStudentID, strconv.Itoa(attempt.StudentID))
	pipe.HSetNX(ctx, key, fieldAssessmentID, attempt.AssessmentID.String())
	pipe.HSetNX(ctx, key, fieldTabSwitch, attempt.TabSwitchCount)
	pipe.HSetNX(ctx, key, fieldFullscreenExit, attempt.FullscreenExitCount)
	if attempt.Status == model.AttemptStatusSubmitted {
		pipe.HSet(ctx, key, fieldSubmitted, "1")
	}
	pipe.Expire(ctx, key, s.ttl)
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("seed counters: %w", err)
	}
	return all.Val(), nil
}

func counterField(kind model.ViolationKind) (string, error) {
	switch kind {
	case model.ViolationTabSwitch:
		return fieldTabSwitch, nil
	case model.ViolationFullscreenExit:
		return fieldFullscreenExit, nil
	}
	return "", fmt.Errorf("unknown violation kind %q", kind)
}

func parseCounter(v interface{}) int {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return 0
	}
	return n
}
