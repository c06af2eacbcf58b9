package model

import (
	"fmt"
	"time"
)

// GradingMethod selects how several finished attempts combine into one grade.
type GradingMethod int

const (
	GradeMethodFirst   GradingMethod = 1
	GradeMethodLast    GradingMethod = 2
	GradeMethodAverage GradingMethod = 3
	GradeMethodHighest GradingMethod = 4
)

// Valid reports whether m is one of the four known methods.
func (m GradingMethod) Valid() bool {
	return m >= GradeMethodFirst && m <= GradeMethodHighest
}

func (m GradingMethod) String() string {
	switch m {
	case GradeMethodFirst:
		return "first"
	case GradeMethodLast:
		return "last"
	case GradeMethodAverage:
		return "average"
	case GradeMethodHighest:
		return "highest"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseGradingMethod maps a method name to its value.
func ParseGradingMethod(s string) (GradingMethod, error) {
	switch s {
	case "first":
		return GradeMethodFirst, nil
	case "last":
		return GradeMethodLast, nil
	case "average":
		return GradeMethodAverage, nil
	case "highest":
		return GradeMethodHighest, nil
	}
	return 0, fmt.Errorf("grading method %q: %w", s, ErrInvalidGradingMethod)
}

// QuizOpenState is the schedule state of a quiz at a point in time.
type QuizOpenState string

const (
	QuizUnopen QuizOpenState = "unopen"
	QuizOpen   QuizOpenState = "open"
	QuizClosed QuizOpenState = "closed"
)

// QuizDefinition is the read-only quiz configuration the attempt core works against.
type QuizDefinition struct {
	ID          int64         `json:"id"`
	CourseID    int64         `json:"course_id"`
	Name        string        `json:"name"`
	Grade       float64       `json:"grade"`
	GradeMethod GradingMethod `json:"grade_method"`
	TimeOpen    *time.Time    `json:"time_open,omitempty"`
	TimeClose   *time.Time    `json:"time_close,omitempty"`
	// TimeLimit of zero means no limit.
	TimeLimit  time.Duration `json:"time_limit"`
	GroupingID int64         `json:"grouping_id"`
	Review     ReviewOptions `json:"review"`
}

// OpenCloseState reports whether the quiz is not yet open, open, or closed at now.
func (q *QuizDefinition) OpenCloseState(now time.Time) QuizOpenState {
	if q.TimeOpen != nil && now.Before(*q.TimeOpen) {
		return QuizUnopen
	}
	if q.TimeClose != nil && !now.Before(*q.TimeClose) {
		return QuizClosed
	}
	return QuizOpen
}

// HasGrade reports whether the quiz contributes to the gradebook.
func (q *QuizDefinition) HasGrade() bool {
	return q.Grade > 0
}
