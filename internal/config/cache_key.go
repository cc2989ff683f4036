package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptStartKey returns the cache key for an attempt's authoritative start time
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

// AttemptQuestionOrderKey returns the cache key for an attempt's shuffled question order
func (r *CacheKeyStruct) AttemptQuestionOrderKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:question_order", attemptID)
}

// AttemptAnswersKey returns the cache key for an attempt's Tier-2 saved answers
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptDraftsKey returns the cache key for an attempt's Tier-1 drafts
func (r *CacheKeyStruct) AttemptDraftsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:drafts", attemptID)
}

// AttemptHeartbeatKey returns the cache key holding the controller's last tick
func (r *CacheKeyStruct) AttemptHeartbeatKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:heartbeat", attemptID)
}

// AttemptCountersKey returns the cache key of an attempt's authoritative violation counters
func (r *CacheKeyStruct) AttemptCountersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:counters", attemptID)
}

// ViolationEventKey returns the idempotency key for one violation increment
func (r *CacheKeyStruct) ViolationEventKey(attemptID, eventID string) string {
	return fmt.Sprintf("attempt:%s:violation:%s", attemptID, eventID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel name for an assessment monitor
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
