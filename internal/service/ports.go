package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// AttemptStore persists group attempts. Implementations return model.ErrAttemptNotFound,
// model.ErrNoOpenAttemptSlot, or a *model.StorageError.
type AttemptStore interface {
	GetByID(ctx context.Context, id int64) (*model.GroupAttempt, error)
	// FindOpen returns the open attempt of a group. When storage holds several, the
	// most recently modified one wins.
	FindOpen(ctx context.Context, quizID, groupID int64) (*model.GroupAttempt, error)
	// Save inserts the attempt when its ID is zero, assigning the ID, and updates it otherwise.
	Save(ctx context.Context, a *model.GroupAttempt) error
	Touch(ctx context.Context, id int64, now time.Time) error
	// MarkFinished applies a.State, a.TimeFinish and a.UserStop only if the stored row
	// is still open. It reports whether this call performed the transition.
	MarkFinished(ctx context.Context, a *model.GroupAttempt) (bool, error)
	MarkAbandoned(ctx context.Context, a *model.GroupAttempt) (bool, error)
	UpdateSumGrades(ctx context.Context, id int64, sum float64) error
	// List returns attempts ordered by (time_start, id). groupID zero lists every group.
	List(ctx context.Context, quizID, groupID int64, filter model.AttemptFilter) ([]model.AttemptSummary, error)
	// ListFinished returns finished attempts ordered by (time_finish, id).
	ListFinished(ctx context.Context, quizID, groupID int64) ([]model.GroupAttempt, error)
}

// QuestionEngine owns question usages: answers, marks and rendering.
type QuestionEngine interface {
	// StartUsage snapshots questions into a new usage and returns its slot layout.
	StartUsage(ctx context.Context, questions []model.Question) (uuid.UUID, []int, error)
	// ProcessAnswer stores an answer and returns the slot's new sequence counter.
	ProcessAnswer(ctx context.Context, usageID uuid.UUID, slot int, answer json.RawMessage) (int, error)
	// FinishAll finalises every slot. Calling it twice is harmless.
	FinishAll(ctx context.Context, usageID uuid.UUID) error
	QuestionAttempts(ctx context.Context, usageID uuid.UUID) ([]model.QuestionAttempt, error)
	Sequences(ctx context.Context, usageID uuid.UUID) (map[int]int, error)
	RegradeAll(ctx context.Context, usageID uuid.UUID) error
	ManualGrade(ctx context.Context, usageID uuid.UUID, slot int, mark float64, comment string) error
	Render(ctx context.Context, usageID uuid.UUID, slot int, opts model.DisplayOptions) (string, error)
}

// QuizStore reads quiz configuration.
type QuizStore interface {
	GetQuiz(ctx context.Context, id int64) (*model.QuizDefinition, error)
	Questions(ctx context.Context, quizID int64) ([]model.Question, error)
}

// MembershipService answers group membership questions.
type MembershipService interface {
	GroupsOfUser(ctx context.Context, userID, groupingID int64) ([]int64, error)
	MembersOfGroup(ctx context.Context, groupID int64) ([]int64, error)
	GroupsInGrouping(ctx context.Context, groupingID int64) ([]model.Group, error)
}

// GradeTx is the set of grade writes that must commit together.
type GradeTx interface {
	// LockGroup serialises grade writes for one group until the transaction ends.
	LockGroup(ctx context.Context, quizID, groupID int64) error
	UpsertGrades(ctx context.Context, grades []model.UserGrade) error
	DeleteGrades(ctx context.Context, quizID int64, userIDs []int64) error
	// RescaleGrades multiplies stored user grades and returns the affected users.
	RescaleGrades(ctx context.Context, quizID int64, factor float64) ([]int64, error)
	RescaleAttemptGrades(ctx context.Context, quizID int64, factor float64) error
	SetQuizGrade(ctx context.Context, quizID int64, grade float64) error
}

// GradeStore runs fn in one transaction; any error from fn rolls everything back.
type GradeStore interface {
	WithinTx(ctx context.Context, fn func(tx GradeTx) error) error
	Grades(ctx context.Context, quizID int64, userIDs []int64) (map[int64]float64, error)
}

// Gradebook receives grade change notifications for the host gradebook.
type Gradebook interface {
	PushGrades(ctx context.Context, entries []model.GradebookEntry) error
}

// EventSink records audit events. Emit never fails the caller.
type EventSink interface {
	Emit(ctx context.Context, ev model.AttemptEvent)
}

// SlotCache caches rendered slot fragments by (attempt, slot, sequence).
type SlotCache interface {
	Get(ctx context.Context, attemptID int64, slot, sequence int) (string, bool, error)
	Set(ctx context.Context, attemptID int64, slot, sequence int, html string) error
}
