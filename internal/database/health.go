package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Health is the dependency status reported by GET /health.
type Health struct {
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

// OK reports whether every dependency answered.
func (h Health) OK() bool {
	return h.Postgres == "ok" && h.Redis == "ok"
}

// Check pings both stores with a short timeout.
func Check(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) Health {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	h := Health{Postgres: "ok", Redis: "ok"}
	if err := pool.Ping(ctx); err != nil {
		h.Postgres = err.Error()
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		h.Redis = err.Error()
	}
	return h
}
