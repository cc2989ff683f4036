package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// monitorEvent is one message on an assessment's live monitor channel.
type monitorEvent struct {
	Type      string    `json:"type"`
	AttemptID string    `json:"attempt_id"`
	StudentID int       `json:"student_id"`
	Kind      string    `json:"kind,omitempty"`
	Count     int       `json:"count,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// publishMonitorEvent is best-effort: a missing subscriber or a Redis hiccup never fails the caller.
func publishMonitorEvent(ctx context.Context, rdb *redis.Client, log zerolog.Logger, assessmentID string, ev monitorEvent) {
	if assessmentID == "" {
		return
	}
	payload, _ := json.Marshal(ev)
	if err := rdb.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID), payload).Err(); err != nil {
		log.Warn().Err(err).Str("assessment_id", assessmentID).Msg("Failed to publish monitor event")
	}
}

// MonitorService orchestrates live proctoring feed business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	attemptRepo *repository.AttemptRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, attemptRepo *repository.AttemptRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo, attemptRepo: attemptRepo}
}

// AttemptProgress is one row of the monitor snapshot.
type AttemptProgress struct {
	AttemptID           uuid.UUID               `json:"attempt_id"`
	StudentID           int                     `json:"student_id"`
	Status              model.AttemptStatus     `json:"status"`
	StartedAt           time.Time               `json:"started_at"`
	SubmittedAt         *time.Time              `json:"submitted_at,omitempty"`
	SubmissionReason    *model.SubmissionReason `json:"submission_reason,omitempty"`
	SavedCount          int64                   `json:"saved_count"`
	TabSwitchCount      int                     `json:"tab_switch_count"`
	FullscreenExitCount int                     `json:"fullscreen_exit_count"`
}

// ProgressSnapshot summarises every attempt of an assessment.
type ProgressSnapshot struct {
	Attempts        []AttemptProgress `json:"attempts"`
	TotalInProgress int               `json:"total_in_progress"`
	TotalSubmitted  int               `json:"total_submitted"`
	TotalViolations int               `json:"total_violations"`
}

// GetProgress returns per-attempt saved counts and violation counters.
// Saved counts and live counters are fetched in parallel; live counters are best-effort.
func (s *MonitorService) GetProgress(ctx context.Context, assessmentID uuid.UUID) (*ProgressSnapshot, error) {
	attempts, err := s.attemptRepo.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(attempts))
	for i, a := range attempts {
		ids[i] = a.ID
	}

	var (
		savedCounts map[uuid.UUID]int64
		live        map[uuid.UUID]map[string]string
		savedErr    error
		liveErr     error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		savedCounts, savedErr = s.monitorRepo.GetSavedCounts(ctx, assessmentID)
	}()
	go func() {
		defer wg.Done()
		live, liveErr = s.monitorRepo.GetLiveCounters(ctx, ids)
	}()
	wg.Wait()

	if savedErr != nil {
		return nil, savedErr
	}
	if liveErr != nil {
		live = nil
	}

	snapshot := &ProgressSnapshot{Attempts: make([]AttemptProgress, 0, len(attempts))}
	for _, a := range attempts {
		p := AttemptProgress{
			AttemptID:           a.ID,
			StudentID:           a.StudentID,
			Status:              a.Status,
			StartedAt:           a.StartedAt,
			SubmittedAt:         a.SubmittedAt,
			SubmissionReason:    a.SubmissionReason,
			SavedCount:          savedCounts[a.ID],
			TabSwitchCount:      a.TabSwitchCount,
			FullscreenExitCount: a.FullscreenExitCount,
		}
		if fields, ok := live[a.ID]; ok {
			p.TabSwitchCount = max(p.TabSwitchCount, atoi(fields[fieldTabSwitch]))
			p.FullscreenExitCount = max(p.FullscreenExitCount, atoi(fields[fieldFullscreenExit]))
		}

		if a.Status == model.AttemptStatusSubmitted {
			snapshot.TotalSubmitted++
		} else {
			snapshot.TotalInProgress++
		}
		snapshot.TotalViolations += p.TabSwitchCount + p.FullscreenExitCount
		snapshot.Attempts = append(snapshot.Attempts, p)
	}
	return snapshot, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
