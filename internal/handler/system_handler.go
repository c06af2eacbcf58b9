package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/response"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports dependency health and worker queue depth.
type SystemHandler struct {
	base
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		base:      base{log: log.With().Str("component", "system_handler").Logger()},
		pool:      pool,
		rdb:       rdb,
		startTime: time.Now(),
	}
}

type healthReport struct {
	Status     string `json:"status"`
	Postgres   string `json:"postgres"`
	Redis      string `json:"redis"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`

	QueueEvents int64 `json:"queue_events"`
	QueueGrades int64 `json:"queue_grades"`
}

// Health godoc
// GET /health
// Answers 503 when PostgreSQL or Redis is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := healthReport{
		Status:     "ok",
		Postgres:   "ok",
		Redis:      "ok",
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
		report.Status, report.Postgres = "degraded", "unreachable"
	}

	pipe := h.rdb.Pipeline()
	eventsCmd := pipe.LLen(ctx, config.WorkerKey.PersistEventsQueue)
	gradesCmd := pipe.LLen(ctx, config.WorkerKey.PushGradesQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Redis health check failed")
		report.Status, report.Redis = "degraded", "unreachable"
	} else {
		report.QueueEvents, _ = eventsCmd.Result()
		report.QueueGrades, _ = gradesCmd.Result()
	}

	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, report)
}
