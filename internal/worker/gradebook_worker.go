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

// GradebookStore copies stored grades into the gradebook.
type GradebookStore interface {
	SyncGrades(ctx context.Context, entries []model.GradebookEntry) error
}

// GradebookWorker consumes push_grades_queue and syncs each user's quiz grade into
// the course gradebook.
type GradebookWorker struct {
	store      GradebookStore
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewGradebookWorker creates a new GradebookWorker.
func NewGradebookWorker(store GradebookStore, rdb *redis.Client, log zerolog.Logger) *GradebookWorker {
	return &GradebookWorker{
		store:      store,
		rdb:        rdb,
		log:        log.With().Str("component", "gradebook_worker").Logger(),
		retryDelay: 5 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *GradebookWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *GradebookWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PushGradesQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	entry, ok := w.decode(result[1])
	if !ok {
		return
	}
	if err := w.store.SyncGrades(ctx, []model.GradebookEntry{entry}); err != nil {
		w.log.Error().Err(err).
			Int64("quiz_id", entry.QuizID).
			Int64("user_id", entry.UserID).
			Msg("Sync error, retrying")
		w.rdb.RPush(ctx, config.WorkerKey.PushGradesQueue, result[1])

		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

func (w *GradebookWorker) decode(raw string) (model.GradebookEntry, bool) {
	var entry model.GradebookEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return entry, false
	}
	return entry, true
}

// drain syncs what is left in the queue before shutdown in a single batch.
func (w *GradebookWorker) drain(ctx context.Context) {
	var raws []string
	var entries []model.GradebookEntry
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PushGradesQueue).Result()
		if err != nil {
			break
		}
		if entry, ok := w.decode(raw); ok {
			raws = append(raws, raw)
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return
	}

	if err := w.store.SyncGrades(ctx, entries); err != nil {
		w.log.Error().Err(err).Int("count", len(entries)).Msg("Drain sync error, requeueing")
		values := make([]any, len(raws))
		for i, r := range raws {
			values[i] = r
		}
		w.rdb.RPush(ctx, config.WorkerKey.PushGradesQueue, values...)
		return
	}
	w.log.Info().Int("count", len(entries)).Msg("Drained remaining items")
}
