package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QuestionType identifies how a question is answered and marked.
type QuestionType string

const (
	QuestionTypeMultiChoice QuestionType = "multichoice"
	QuestionTypeShortAnswer QuestionType = "shortanswer"
	QuestionTypeEssay       QuestionType = "essay"
)

// Question is a bank question placed into quiz slots.
type Question struct {
	ID            int64           `json:"id"`
	QType         QuestionType    `json:"qtype"`
	QuestionText  string          `json:"question_text"`
	Options       json.RawMessage `json:"options"`
	CorrectAnswer string          `json:"-"`
	DefaultMark   float64         `json:"default_mark"`
}

// QuestionState is the engine-side state of one slot.
type QuestionState string

const (
	QuestionStateTodo     QuestionState = "todo"
	QuestionStateComplete QuestionState = "complete"
	QuestionStateFinished QuestionState = "finished"
)

// QuestionAttempt is the engine record of a question inside a usage.
type QuestionAttempt struct {
	UsageID    uuid.UUID       `json:"usage_id"`
	Slot       int             `json:"slot"`
	QuestionID int64           `json:"question_id"`
	MaxMark    float64         `json:"max_mark"`
	Sequence   int             `json:"sequence"`
	Response   json.RawMessage `json:"response,omitempty"`
	Mark       *float64        `json:"mark"`
	Manual     bool            `json:"manual"`
	Comment    string          `json:"comment,omitempty"`
	State      QuestionState   `json:"state"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SlotUpdate is a rendered slot sent to a polling client.
type SlotUpdate struct {
	Slot     int    `json:"slot"`
	Sequence int    `json:"sequence"`
	HTML     string `json:"html"`
}
