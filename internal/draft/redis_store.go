package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// RedisStore keeps drafts in a per-session hash, one field per question/variant.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a RedisStore. Keys expire ttl after their last write; zero disables expiry.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, key Key, content string) error {
	hashKey := config.CacheKey.AttemptDraftsKey(key.SessionID.String())

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hashKey, key.Field(), content)
	if s.ttl > 0 {
		pipe.Expire(ctx, hashKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset draft: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key Key) (string, error) {
	content, err := s.rdb.HGet(ctx, config.CacheKey.AttemptDraftsKey(key.SessionID.String()), key.Field()).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget draft: %w", err)
	}
	return content, nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	return s.rdb.HDel(ctx, config.CacheKey.AttemptDraftsKey(key.SessionID.String()), key.Field()).Err()
}

func (s *RedisStore) Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	return s.rdb.Set(ctx, config.CacheKey.AttemptHeartbeatKey(sessionID.String()), at.UnixMilli(), s.ttl).Err()
}

func (s *RedisStore) LastSeen(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	ms, err := s.rdb.Get(ctx, config.CacheKey.AttemptHeartbeatKey(sessionID.String())).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get heartbeat: %w", err)
	}
	return time.UnixMilli(ms), nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID uuid.UUID) error {
	id := sessionID.String()
	return s.rdb.Del(ctx, config.CacheKey.AttemptDraftsKey(id), config.CacheKey.AttemptHeartbeatKey(id)).Err()
}
