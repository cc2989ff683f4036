package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// MonitorRepository provides data access for the live proctoring feed.
// It combines PostgreSQL (persisted rows) and Redis (live counters).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// GetSavedCounts returns the number of saved answers per attempt of the given assessment.
func (r *MonitorRepository) GetSavedCounts(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aa.attempt_id, COUNT(DISTINCT aa.question_id)
		 FROM attempt_answers aa
		 JOIN assessment_attempts at ON at.id = aa.attempt_id
		 WHERE at.assessment_id = $1
		 GROUP BY aa.attempt_id`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// GetLiveCounters reads the Redis-held violation counters of the given attempts.
// Attempts without a live hash are omitted.
func (r *MonitorRepository) GetLiveCounters(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]map[string]string, error) {
	pipe := r.rdb.Pipeline()
	cmds := make(map[uuid.UUID]*redis.MapStringStringCmd, len(attemptIDs))
	for _, id := range attemptIDs {
		cmds[id] = pipe.HGetAll(ctx, config.CacheKey.AttemptCountersKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	result := make(map[uuid.UUID]map[string]string, len(cmds))
	for id, cmd := range cmds {
		if fields, err := cmd.Result(); err == nil && len(fields) > 0 {
			result[id] = fields
		}
	}
	return result, nil
}
