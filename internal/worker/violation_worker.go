package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWorker persists counted violation events and raises the attempt
// counters to the highest count seen.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

type violationPayload struct {
	AttemptID string `json:"attempt_id"`
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type violationRow struct {
	attemptID uuid.UUID
	eventID   uuid.UUID
	payload   *violationPayload
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]*violationPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				continue // Shutdown is handled at the top of the loop
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload violationPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON can never succeed. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// parseBatch drops events whose ids cannot be parsed.
func (w *ViolationWorker) parseBatch(batch []*violationPayload) []violationRow {
	rows := make([]violationRow, 0, len(batch))
	for _, p := range batch {
		attemptID, err := uuid.Parse(p.AttemptID)
		if err != nil {
			w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping violation event with invalid attempt id")
			continue
		}
		eventID, err := uuid.Parse(p.EventID)
		if err != nil {
			w.log.Error().Str("event_id", p.EventID).Msg("Dropping violation event with invalid event id")
			continue
		}
		rows = append(rows, violationRow{attemptID: attemptID, eventID: eventID, payload: p})
	}
	return rows
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*violationPayload) {
	rows := w.parseBatch(batch)
	if len(rows) == 0 {
		return
	}

	if err := w.bulkInsert(ctx, rows); err != nil {
		w.log.Warn().Err(err).Int("count", len(rows)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, rows)
	}
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, rows []violationRow) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	copyRows := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		copyRows = append(copyRows, []interface{}{
			r.attemptID, r.eventID, r.payload.Kind, r.payload.Count, time.UnixMilli(r.payload.Timestamp),
		})
	}

	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"violation_events"},
		[]string{"attempt_id", "event_id", "kind", "count", "recorded_at"},
		pgx.CopyFromRows(copyRows),
	); err != nil {
		return err
	}

	if err := raiseCounters(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// raiseCounters lifts each attempt's counters to the highest count in the batch.
func raiseCounters(ctx context.Context, q execer, rows []violationRow) error {
	attemptIDs := make([]uuid.UUID, 0, len(rows))
	kinds := make([]string, 0, len(rows))
	counts := make([]int32, 0, len(rows))
	for _, r := range rows {
		attemptIDs = append(attemptIDs, r.attemptID)
		kinds = append(kinds, r.payload.Kind)
		counts = append(counts, int32(r.payload.Count))
	}

	_, err := q.Exec(ctx, `
		UPDATE assessment_attempts AS a
		SET tab_switch_count      = GREATEST(a.tab_switch_count, t.tab_switch),
		    fullscreen_exit_count = GREATEST(a.fullscreen_exit_count, t.fullscreen_exit)
		FROM (
			SELECT u.attempt_id,
			       COALESCE(MAX(u.count) FILTER (WHERE u.kind = 'TAB_SWITCH'), 0)      AS tab_switch,
			       COALESCE(MAX(u.count) FILTER (WHERE u.kind = 'FULLSCREEN_EXIT'), 0) AS fullscreen_exit
			FROM UNNEST($1::uuid[], $2::text[], $3::int[]) AS u (attempt_id, kind, count)
			GROUP BY u.attempt_id
		) AS t
		WHERE a.id = t.attempt_id`,
		attemptIDs, kinds, counts,
	)
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, rows []violationRow) {
	requeueList := make([]*violationPayload, 0)

	for _, r := range rows {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO violation_events (attempt_id, event_id, kind, count, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (attempt_id, event_id) DO NOTHING`,
			r.attemptID, r.eventID, r.payload.Kind, r.payload.Count, time.UnixMilli(r.payload.Timestamp),
		)
		if err == nil {
			err = raiseCounters(ctx, w.pool, []violationRow{r})
		}
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", r.payload.AttemptID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, r.payload)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []*violationPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off so a database outage does not spin the loop.
	time.Sleep(2 * time.Second)
}

func (w *ViolationWorker) shutdown(buffer []*violationPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
