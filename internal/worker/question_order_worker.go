package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const (
	QuestionOrderBatchSize    = 50
	QuestionOrderBatchTimeout = 2 * time.Second
)

// QuestionOrderWorker persists each attempt's shuffled question order.
type QuestionOrderWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewQuestionOrderWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *QuestionOrderWorker {
	return &QuestionOrderWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "question_order_worker").Logger(),
	}
}

type questionOrderPayload struct {
	AttemptID string   `json:"attempt_id"`
	Order     []string `json:"order"`
}

func (w *QuestionOrderWorker) Start(ctx context.Context) {
	w.log.Info().Msg("QuestionOrderWorker started")

	batch := make([]*questionOrderPayload, 0, QuestionOrderBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= QuestionOrderBatchSize || time.Since(lastFlush) >= QuestionOrderBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistQuestionOrderQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p questionOrderPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

func (w *QuestionOrderWorker) flushSafe(ctx context.Context, batch []*questionOrderPayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkUpdate(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk question order update failed, using fallback")

		for _, p := range batch {
			if err := w.persistSingle(ctx, p); err != nil {
				if _, parseErr := uuid.Parse(p.AttemptID); parseErr != nil {
					w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping question order with invalid attempt id")
					continue
				}
				w.log.Error().Err(err).Msg("persistSingle failed, requeueing")
				raw, _ := json.Marshal(p)
				w.rdb.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, raw)
			}
		}
	}
}

// bulkUpdate stores the order only where none was stored yet; the order is
// derived from the attempt id, so the first write is as good as any.
func (w *QuestionOrderWorker) bulkUpdate(ctx context.Context, batch []*questionOrderPayload) error {
	n := len(batch)

	attemptIDs := make([]uuid.UUID, 0, n)
	ordersBytes := make([][]byte, 0, n)

	for _, p := range batch {
		id, err := uuid.Parse(p.AttemptID)
		if err != nil {
			return err
		}

		ob, _ := json.Marshal(p.Order)

		attemptIDs = append(attemptIDs, id)
		ordersBytes = append(ordersBytes, ob)
	}

	query := `
		UPDATE assessment_attempts AS a
		SET question_order = t.qo
		FROM (
			SELECT u.attempt_id, u.qo
			FROM UNNEST(
				$1::uuid[],
				$2::jsonb[]
			) AS u (attempt_id, qo)
		) AS t
		WHERE a.id = t.attempt_id
		  AND a.question_order IS NULL
	`

	_, err := w.pool.Exec(ctx, query, attemptIDs, ordersBytes)
	return err
}

func (w *QuestionOrderWorker) persistSingle(ctx context.Context, p *questionOrderPayload) error {
	id, err := uuid.Parse(p.AttemptID)
	if err != nil {
		return err
	}

	ob, _ := json.Marshal(p.Order)

	_, err = w.pool.Exec(ctx,
		`UPDATE assessment_attempts
		 SET question_order = $1
		 WHERE id = $2 AND question_order IS NULL`,
		ob, id,
	)

	return err
}
