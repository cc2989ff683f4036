package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// SystemHandler reports service health and persist queue backlog.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemStatus struct {
	Status     string           `json:"status"`
	Uptime     string           `json:"uptime"`
	Goroutines int              `json:"goroutines"`
	Deps       database.Health  `json:"deps"`
	Queues     map[string]int64 `json:"queues"`
}

// Health godoc
// GET /health
// 200 when Postgres and Redis answer, 503 otherwise. Queue lengths show how far
// the persist workers are behind.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status := systemStatus{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Deps:       database.Check(ctx, h.pool, h.rdb),
		Queues:     make(map[string]int64, 3),
	}

	queues := []string{
		config.WorkerKey.PersistAnswersQueue,
		config.WorkerKey.PersistViolationsQueue,
		config.WorkerKey.PersistQuestionOrderQueue,
	}
	pipe := h.rdb.Pipeline()
	lens := make([]*redis.IntCmd, len(queues))
	for i, q := range queues {
		lens[i] = pipe.LLen(ctx, q)
	}
	if _, err := pipe.Exec(ctx); err == nil {
		for i, q := range queues {
			status.Queues[q] = lens[i].Val()
		}
	}

	if !status.Deps.OK() {
		status.Status = "degraded"
		h.log.Warn().Str("postgres", status.Deps.Postgres).Str("redis", status.Deps.Redis).Msg("Health check failed")
		response.Success(c, http.StatusServiceUnavailable, status)
		return
	}
	response.Success(c, http.StatusOK, status)
}
