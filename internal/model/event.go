package model

import "time"

// EventType names an audit event.
type EventType string

const (
	EventAttemptStarted         EventType = "attempt_started"
	EventAttemptEnded           EventType = "attempt_ended"
	EventAttemptViewed          EventType = "attempt_viewed"
	EventQuestionManuallyGraded EventType = "question_manually_graded"
)

// AttemptEvent is a fire-and-forget audit record.
type AttemptEvent struct {
	Type      EventType `json:"type"`
	QuizID    int64     `json:"quiz_id"`
	AttemptID int64     `json:"attempt_id"`
	GroupID   int64     `json:"group_id"`
	UserID    int64     `json:"user_id"`
	Slot      *int      `json:"slot,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
