package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// EventRepository persists audit events.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// InsertEvents writes a batch of events in one statement.
func (r *EventRepository) InsertEvents(ctx context.Context, events []model.AttemptEvent) error {
	n := len(events)
	types := make([]string, n)
	quizIDs := make([]int64, n)
	attemptIDs := make([]int64, n)
	groupIDs := make([]int64, n)
	userIDs := make([]int64, n)
	slots := make([]*int, n)
	createdAts := make([]time.Time, n)
	for i, ev := range events {
		types[i] = string(ev.Type)
		quizIDs[i] = ev.QuizID
		attemptIDs[i] = ev.AttemptID
		groupIDs[i] = ev.GroupID
		userIDs[i] = ev.UserID
		slots[i] = ev.Slot
		createdAts[i] = ev.CreatedAt
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_events (event_type, quiz_id, attempt_id, group_id, user_id, slot, created_at)
		 SELECT u.event_type, u.quiz_id, u.attempt_id, u.group_id, u.user_id, u.slot, u.created_at
		 FROM UNNEST(
			$1::text[],
			$2::bigint[],
			$3::bigint[],
			$4::bigint[],
			$5::bigint[],
			$6::int[],
			$7::timestamptz[]
		 ) AS u (event_type, quiz_id, attempt_id, group_id, user_id, slot, created_at)`,
		types, quizIDs, attemptIDs, groupIDs, userIDs, slots, createdAts)
	if err != nil {
		return model.Storage("insert events", err)
	}
	return nil
}

// InsertEvent writes a single event.
func (r *EventRepository) InsertEvent(ctx context.Context, ev model.AttemptEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_events (event_type, quiz_id, attempt_id, group_id, user_id, slot, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(ev.Type), ev.QuizID, ev.AttemptID, ev.GroupID, ev.UserID, ev.Slot, ev.CreatedAt)
	if err != nil {
		return model.Storage("insert event", err)
	}
	return nil
}
