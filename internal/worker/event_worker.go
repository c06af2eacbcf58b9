package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

const (
	EventBatchSize    = 100
	EventBatchTimeout = 2 * time.Second
	EventPollTimeout  = 1 * time.Second
)

// EventStore persists audit events.
type EventStore interface {
	InsertEvents(ctx context.Context, events []model.AttemptEvent) error
	InsertEvent(ctx context.Context, ev model.AttemptEvent) error
}

// EventWorker drains the persist queue filled by the event publisher into attempt_events.
type EventWorker struct {
	store EventStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(store EventStore, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "event_worker").Logger(),
	}
}

// Start runs the worker loop until ctx is cancelled, flushing in batches.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("EventWorker started")

	batch := make([]model.AttemptEvent, 0, EventBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= EventBatchSize || time.Since(lastFlush) >= EventBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, EventPollTimeout, config.WorkerKey.PersistEventsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var ev model.AttemptEvent
			if err := json.Unmarshal([]byte(item[1]), &ev); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, ev)
		}
	}
}

// flushSafe writes the batch, falling back to row-by-row inserts and requeueing
// what still fails.
func (w *EventWorker) flushSafe(ctx context.Context, batch []model.AttemptEvent) {
	if len(batch) == 0 {
		return
	}

	err := w.store.InsertEvents(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("size", len(batch)).Msg("Bulk event insert failed, using fallback")

	for _, ev := range batch {
		if err := w.store.InsertEvent(ctx, ev); err != nil {
			w.log.Error().Err(err).Int64("attempt_id", ev.AttemptID).Msg("InsertEvent failed, requeueing")
			raw, _ := json.Marshal(ev)
			w.rdb.RPush(ctx, config.WorkerKey.PersistEventsQueue, raw)
		}
	}
}
