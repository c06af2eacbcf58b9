package model

import "encoding/json"

// SaveAnswerRequest is the payload for answering one slot.
type SaveAnswerRequest struct {
	Slot   int             `json:"slot" binding:"required,min=1"`
	Answer json.RawMessage `json:"answer" binding:"required"`
}

// PollRequest carries the last sequence the client saw per slot.
type PollRequest struct {
	Seen map[int]int `json:"seen"`
}

// ManualGradeRequest is the payload for grading one slot by hand.
type ManualGradeRequest struct {
	Mark    *float64 `json:"mark" binding:"required"`
	Comment string   `json:"comment" binding:"max=4000"`
}

// SetGradeRequest changes the maximum grade of a quiz.
type SetGradeRequest struct {
	Grade float64 `json:"grade" binding:"gte=0,lte=10000"`
}

// RegradeQuizRequest controls the whole-quiz regrade.
type RegradeQuizRequest struct {
	RegradeAttempts bool `json:"regrade_attempts"`
}

// ListAttemptsQuery filters the instructor attempt listing.
type ListAttemptsQuery struct {
	GroupID int64  `form:"group_id" binding:"omitempty,min=1"`
	Filter  string `form:"filter" binding:"omitempty,oneof=all open closed"`
}
