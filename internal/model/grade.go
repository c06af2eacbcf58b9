package model

import "time"

// UserGrade is the stored quiz grade of one group member.
type UserGrade struct {
	QuizID       int64     `json:"quiz_id"`
	UserID       int64     `json:"user_id"`
	Grade        float64   `json:"grade"`
	TimeModified time.Time `json:"time_modified"`
}

// GradebookEntry tells the gradebook sync worker that a user's quiz grade changed.
// The worker copies the stored grade, so entries carry no value.
type GradebookEntry struct {
	QuizID int64 `json:"quiz_id"`
	UserID int64 `json:"user_id"`
}

// Group is a course group, optionally listed with its members.
type Group struct {
	ID       int64   `json:"id"`
	CourseID int64   `json:"course_id"`
	Name     string  `json:"name"`
	Members  []int64 `json:"members,omitempty"`
}
