package model

import "time"

// ReviewPhase is the moment, relative to the attempt and quiz schedule, at which a
// review is requested. Values match the bits stored in ReviewOptions.
type ReviewPhase int

const (
	ReviewDuring           ReviewPhase = 0x10000
	ReviewImmediatelyAfter ReviewPhase = 0x01000
	ReviewLaterWhileOpen   ReviewPhase = 0x00100
	ReviewAfterClose       ReviewPhase = 0x00010
)

func (p ReviewPhase) String() string {
	switch p {
	case ReviewDuring:
		return "during"
	case ReviewImmediatelyAfter:
		return "immediately_after"
	case ReviewLaterWhileOpen:
		return "later_while_open"
	case ReviewAfterClose:
		return "after_close"
	default:
		return "unknown"
	}
}

// ReviewOptions holds one phase bitmask per reviewable field.
type ReviewOptions struct {
	Attempt          int `json:"attempt"`
	Correctness      int `json:"correctness"`
	Marks            int `json:"marks"`
	SpecificFeedback int `json:"specific_feedback"`
	GeneralFeedback  int `json:"general_feedback"`
	RightAnswer      int `json:"right_answer"`
	OverallFeedback  int `json:"overall_feedback"`
	ManualComment    int `json:"manual_comment"`
}

// Role is the caller's role as asserted by the host token.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// Visibility of a review field.
type Visibility int

const (
	Hidden Visibility = iota
	Visible
	Editable
)

// MarksDisplay controls how much of the mark is shown.
type MarksDisplay int

const (
	MarksHidden MarksDisplay = iota
	MarksMaxOnly
	MarksMarkAndMax
)

// DisplayOptions tells the renderer which parts of an attempt a viewer may see.
type DisplayOptions struct {
	Attempt          Visibility   `json:"attempt"`
	Correctness      Visibility   `json:"correctness"`
	Marks            MarksDisplay `json:"marks"`
	SpecificFeedback Visibility   `json:"specific_feedback"`
	GeneralFeedback  Visibility   `json:"general_feedback"`
	RightAnswer      Visibility   `json:"right_answer"`
	OverallFeedback  Visibility   `json:"overall_feedback"`
	ManualComment    Visibility   `json:"manual_comment"`
	History          Visibility   `json:"history"`
	ReadOnly         bool         `json:"readonly"`
}

// AnyVisible reports whether the viewer may see anything of the attempt.
func (d DisplayOptions) AnyVisible() bool {
	return d.Attempt != Hidden
}

// ReviewDisplayOptions is a pure mapping from role, phase and quiz review settings to
// display options. Instructors always get the full editing view.
func ReviewDisplayOptions(role Role, phase ReviewPhase, opts ReviewOptions) DisplayOptions {
	if role == RoleInstructor {
		return DisplayOptions{
			Attempt:          Visible,
			Correctness:      Visible,
			Marks:            MarksMarkAndMax,
			SpecificFeedback: Visible,
			GeneralFeedback:  Visible,
			RightAnswer:      Visible,
			OverallFeedback:  Visible,
			ManualComment:    Editable,
			History:          Visible,
		}
	}

	show := func(mask int) Visibility {
		if mask&int(phase) != 0 {
			return Visible
		}
		return Hidden
	}

	d := DisplayOptions{
		Attempt:          show(opts.Attempt),
		Correctness:      show(opts.Correctness),
		SpecificFeedback: show(opts.SpecificFeedback),
		GeneralFeedback:  show(opts.GeneralFeedback),
		RightAnswer:      show(opts.RightAnswer),
		OverallFeedback:  show(opts.OverallFeedback),
		ManualComment:    show(opts.ManualComment),
		ReadOnly:         true,
	}
	if opts.Marks&int(phase) != 0 {
		d.Marks = MarksMarkAndMax
	}
	return d
}

// ReviewPhaseFor picks the review phase for an attempt. immediateFor is the window
// after finishing during which ReviewImmediatelyAfter applies.
func ReviewPhaseFor(a *GroupAttempt, quiz *QuizDefinition, now time.Time, immediateFor time.Duration) ReviewPhase {
	if a.State.IsOpen() {
		return ReviewDuring
	}
	if a.TimeFinish != nil && now.Sub(*a.TimeFinish) < immediateFor {
		return ReviewImmediatelyAfter
	}
	if quiz.TimeClose == nil || now.Before(*quiz.TimeClose) {
		return ReviewLaterWhileOpen
	}
	return ReviewAfterClose
}

// AttemptDisplayOptions is what a group member sees while answering.
func AttemptDisplayOptions() DisplayOptions {
	return DisplayOptions{
		Attempt: Visible,
		Marks:   MarksMaxOnly,
	}
}
