package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/groupquiz-backend/internal/config"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// GradebookQueue notifies the gradebook sync worker through a Redis list.
type GradebookQueue struct {
	rdb *redis.Client
}

// NewGradebookQueue creates a new GradebookQueue.
func NewGradebookQueue(rdb *redis.Client) *GradebookQueue {
	return &GradebookQueue{rdb: rdb}
}

// PushGrades queues one notification per entry.
func (q *GradebookQueue) PushGrades(ctx context.Context, entries []model.GradebookEntry) error {
	values := make([]any, len(entries))
	for i, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode gradebook entry: %w", err)
		}
		values[i] = raw
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PushGradesQueue, values...).Err(); err != nil {
		return model.Storage("queue gradebook push", err)
	}
	return nil
}
