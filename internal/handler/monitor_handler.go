package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second
)

// MonitorHandler streams a quiz's attempt events to instructors over SSE.
type MonitorHandler struct {
	base
	rdb      *redis.Client
	attempts *service.AttemptService
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, attempts *service.AttemptService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		base:     base{log: log.With().Str("component", "monitor_handler").Logger()},
		rdb:      rdb,
		attempts: attempts,
	}
}

// MonitorQuizSSE godoc
// GET /api/v1/manage/quizzes/:quiz_id/monitor
// Sends a snapshot of every attempt, then forwards attempt_started, attempt_ended,
// attempt_viewed and question_manually_graded events as they are published.
func (h *MonitorHandler) MonitorQuizSSE(c *gin.Context) {
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	snapCtx, cancel := context.WithTimeout(reqCtx, snapshotTimeout)
	attempts, err := h.attempts.ListAttempts(snapCtx, quizID, 0, model.AttemptFilterAll)
	cancel()
	if err != nil {
		h.failWithError(c, "monitor snapshot", err)
		return
	}

	// Subscribe before the snapshot goes out so no event falls in between.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.QuizEventsChannel(quizID))
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	h.sendSnapshot(c, quizID, attempts)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	h.log.Info().Int64("quiz_id", quizID).Msg("Instructor attached to quiz monitor")
	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Int64("quiz_id", quizID).Msg("Instructor detached from quiz monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward the published JSON untouched.
			writeSSEData(c, []byte(msg.Payload))

		case <-keepAlive.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, quizID int64, attempts []model.AttemptSummary) {
	open, finished, abandoned := 0, 0, 0
	for _, a := range attempts {
		switch {
		case a.State.IsOpen():
			open++
		case a.State == model.AttemptStateFinished:
			finished++
		case a.State == model.AttemptStateAbandoned:
			abandoned++
		}
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}

	c.SSEvent("message", gin.H{
		"type": "snapshot",
		"data": gin.H{
			"quiz_id": quizID,
			"stats": gin.H{
				"open":      open,
				"finished":  finished,
				"abandoned": abandoned,
			},
			"attempts": attempts,
		},
	})
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
