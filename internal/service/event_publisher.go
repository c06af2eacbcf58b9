package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// EventPublisher fans audit events out to the quiz monitor channel and queues them
// for persistence by the event worker.
type EventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(rdb *redis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Emit publishes ev. Failures are logged and never reach the caller.
func (p *EventPublisher) Emit(ctx context.Context, ev model.AttemptEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.QuizEventsChannel(ev.QuizID), raw)
	pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().
			Err(err).
			Str("type", string(ev.Type)).
			Int64("attempt_id", ev.AttemptID).
			Msg("Failed to publish event")
	}
}
