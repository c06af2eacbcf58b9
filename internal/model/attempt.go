package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates group attempt states. The numeric values are persisted.
type AttemptState int

const (
	AttemptStateNotStarted AttemptState = 0
	AttemptStateInProgress AttemptState = 10
	AttemptStateAbandoned  AttemptState = 20
	AttemptStateFinished   AttemptState = 30
)

// SystemUserStop is stored as the closing user when the system closes an attempt.
const SystemUserStop int64 = -1

func (s AttemptState) String() string {
	switch s {
	case AttemptStateNotStarted:
		return "notstarted"
	case AttemptStateInProgress:
		return "inprogress"
	case AttemptStateAbandoned:
		return "abandoned"
	case AttemptStateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsOpen reports whether the attempt can still change.
func (s AttemptState) IsOpen() bool {
	return s == AttemptStateNotStarted || s == AttemptStateInProgress
}

// MarshalText renders the state name in JSON payloads.
func (s AttemptState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// GroupAttempt is one attempt at a quiz shared by every member of a group.
type GroupAttempt struct {
	ID           int64        `json:"id"`
	QuizID       int64        `json:"quiz_id"`
	GroupID      int64        `json:"forgroupid"`
	UsageID      uuid.UUID    `json:"usage_id"`
	State        AttemptState `json:"state"`
	Layout       []int        `json:"layout"`
	TimeStart    time.Time    `json:"time_start"`
	TimeFinish   *time.Time   `json:"time_finish,omitempty"`
	TimeModified time.Time    `json:"time_modified"`
	SumGrades    float64      `json:"sum_grades"`
	UserStart    int64        `json:"user_start"`
	UserStop     *int64       `json:"user_stop,omitempty"`
}

// NewGroupAttempt builds an in-progress attempt over the given slot layout.
// The caller persists it; ID stays zero until then.
func NewGroupAttempt(quizID, groupID int64, usageID uuid.UUID, layout []int, userID int64, now time.Time) *GroupAttempt {
	return &GroupAttempt{
		QuizID:       quizID,
		GroupID:      groupID,
		UsageID:      usageID,
		State:        AttemptStateInProgress,
		Layout:       slices.Clone(layout),
		TimeStart:    now,
		TimeModified: now,
		UserStart:    userID,
	}
}

// HasSlot reports whether slot belongs to the attempt layout.
func (a *GroupAttempt) HasSlot(slot int) bool {
	return slices.Contains(a.Layout, slot)
}

// CanSaveAnswer checks that slot exists and the attempt accepts answers.
func (a *GroupAttempt) CanSaveAnswer(slot int) error {
	if a.State != AttemptStateInProgress {
		return fmt.Errorf("save answer in state %s: %w", a.State, ErrInvalidState)
	}
	if !a.HasSlot(slot) {
		return fmt.Errorf("slot %d: %w", slot, ErrSlotNotInLayout)
	}
	return nil
}

// Finish moves the attempt to Finished. Finishing a finished attempt changes nothing
// and reports false. closedBy is the user closing it; timeout stores SystemUserStop.
func (a *GroupAttempt) Finish(now time.Time, closedBy int64, timeout bool) (bool, error) {
	switch a.State {
	case AttemptStateFinished:
		return false, nil
	case AttemptStateAbandoned:
		return false, fmt.Errorf("close abandoned attempt %d: %w", a.ID, ErrInvalidState)
	}

	stop := closedBy
	if timeout {
		stop = SystemUserStop
	}
	finish := now
	a.State = AttemptStateFinished
	a.TimeFinish = &finish
	a.TimeModified = now
	a.UserStop = &stop
	return true, nil
}

// Abandon moves an open attempt to Abandoned.
func (a *GroupAttempt) Abandon(now time.Time, by int64) error {
	if !a.State.IsOpen() {
		return fmt.Errorf("abandon attempt %d in state %s: %w", a.ID, a.State, ErrInvalidState)
	}
	a.State = AttemptStateAbandoned
	a.TimeModified = now
	a.UserStop = &by
	return nil
}

// TimeLeftKind classifies the remaining time of an attempt.
type TimeLeftKind int

const (
	TimeLeftUnlimited TimeLeftKind = iota
	TimeLeftRemaining
	TimeLeftExpired
)

// TimeLeft is the result of GroupAttempt.TimeLeft.
type TimeLeft struct {
	Kind      TimeLeftKind
	Remaining time.Duration
}

// Expired reports whether no time is left.
func (t TimeLeft) Expired() bool { return t.Kind == TimeLeftExpired }

// Seconds returns the remaining whole seconds, or nil when unlimited.
func (t TimeLeft) Seconds() *int64 {
	switch t.Kind {
	case TimeLeftUnlimited:
		return nil
	case TimeLeftExpired:
		zero := int64(0)
		return &zero
	default:
		s := int64(t.Remaining / time.Second)
		return &s
	}
}

// TimeLeft computes the time remaining under the quiz's time limit and close date.
// The earliest configured deadline wins.
func (a *GroupAttempt) TimeLeft(now time.Time, quiz *QuizDefinition) TimeLeft {
	var deadline *time.Time
	if quiz.TimeLimit > 0 {
		d := a.TimeStart.Add(quiz.TimeLimit)
		deadline = &d
	}
	if quiz.TimeClose != nil && (deadline == nil || quiz.TimeClose.Before(*deadline)) {
		d := *quiz.TimeClose
		deadline = &d
	}
	if deadline == nil {
		return TimeLeft{Kind: TimeLeftUnlimited}
	}

	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return TimeLeft{Kind: TimeLeftExpired}
	}
	return TimeLeft{Kind: TimeLeftRemaining, Remaining: remaining}
}

// AttemptFilter narrows attempt listings.
type AttemptFilter string

const (
	AttemptFilterAll    AttemptFilter = "all"
	AttemptFilterOpen   AttemptFilter = "open"
	AttemptFilterClosed AttemptFilter = "closed"
)

// AttemptSummary is an attempt row joined with its group name for listings.
type AttemptSummary struct {
	GroupAttempt
	GroupName string `json:"group_name"`
}
