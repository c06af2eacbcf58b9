package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// AttemptConfig tunes polling and review timing.
type AttemptConfig struct {
	PollInterval       time.Duration
	PollJitter         time.Duration
	ReviewImmediateFor time.Duration
}

// AttemptService drives the group attempt lifecycle for students and instructors.
type AttemptService struct {
	attempts AttemptStore
	quizzes  QuizStore
	engine   QuestionEngine
	resolver *GroupResolver
	grader   *GradeEngine
	events   EventSink
	cache    SlotCache
	cfg      AttemptConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attempts AttemptStore,
	quizzes QuizStore,
	engine QuestionEngine,
	resolver *GroupResolver,
	grader *GradeEngine,
	events EventSink,
	cache SlotCache,
	cfg AttemptConfig,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		quizzes:  quizzes,
		engine:   engine,
		resolver: resolver,
		grader:   grader,
		events:   events,
		cache:    cache,
		cfg:      cfg,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
	}
}

// AttemptContext is a user's view of a quiz: their group and its open attempt, if any.
type AttemptContext struct {
	Quiz    *model.QuizDefinition
	GroupID int64
	Attempt *model.GroupAttempt
}

// ResolveAndLoadOpenAttempt resolves the user's group and loads its open attempt.
// Attempt is nil when the group has none.
func (s *AttemptService) ResolveAndLoadOpenAttempt(ctx context.Context, quizID, userID int64) (*AttemptContext, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	groupID, err := s.resolver.Resolve(ctx, quiz, userID)
	if err != nil {
		return nil, err
	}

	ac := &AttemptContext{Quiz: quiz, GroupID: groupID}
	a, err := s.attempts.FindOpen(ctx, quiz.ID, groupID)
	switch {
	case errors.Is(err, model.ErrAttemptNotFound):
	case err != nil:
		return nil, fmt.Errorf("find open attempt: %w", err)
	default:
		ac.Attempt = a
	}
	return ac, nil
}

// AttemptStatus is returned by the attempt summary and start endpoints.
type AttemptStatus struct {
	QuizID          int64               `json:"quiz_id"`
	GroupID         int64               `json:"group_id"`
	QuizState       model.QuizOpenState `json:"quiz_state"`
	Attempt         *model.GroupAttempt `json:"attempt"`
	TimeLeftSeconds *int64              `json:"time_left_seconds"`
	Created         bool                `json:"created,omitempty"`
}

func (s *AttemptService) status(ac *AttemptContext, now time.Time) *AttemptStatus {
	st := &AttemptStatus{
		QuizID:    ac.Quiz.ID,
		GroupID:   ac.GroupID,
		QuizState: ac.Quiz.OpenCloseState(now),
		Attempt:   ac.Attempt,
	}
	if ac.Attempt != nil && ac.Attempt.State.IsOpen() {
		st.TimeLeftSeconds = ac.Attempt.TimeLeft(now, ac.Quiz).Seconds()
	}
	return st
}

// CurrentAttempt reports the user's open attempt, closing it first if it ran out of time.
func (s *AttemptService) CurrentAttempt(ctx context.Context, quizID, userID int64) (*AttemptStatus, error) {
	ac, err := s.ResolveAndLoadOpenAttempt(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if ac.Attempt != nil {
		if _, closed := s.expireIfDue(ctx, ac.Attempt, ac.Quiz, userID, now); closed {
			ac.Attempt = nil
		}
	}
	return s.status(ac, now), nil
}

// StartOrContinueAttempt returns the group's open attempt, creating one when none exists.
// Concurrent starts by members of the same group all end up with the same attempt.
func (s *AttemptService) StartOrContinueAttempt(ctx context.Context, quizID, userID int64) (*AttemptStatus, error) {
	ac, err := s.ResolveAndLoadOpenAttempt(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if ac.Attempt != nil {
		if _, closed := s.expireIfDue(ctx, ac.Attempt, ac.Quiz, userID, now); !closed {
			return s.status(ac, now), nil
		}
		ac.Attempt = nil
	}

	switch ac.Quiz.OpenCloseState(now) {
	case model.QuizUnopen:
		return nil, model.ErrQuizNotOpen
	case model.QuizClosed:
		return nil, model.ErrQuizClosed
	}

	questions, err := s.quizzes.Questions(ctx, ac.Quiz.ID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, model.ErrNoQuestions
	}

	usageID, layout, err := s.engine.StartUsage(ctx, questions)
	if err != nil {
		return nil, fmt.Errorf("start question usage: %w", err)
	}

	a := model.NewGroupAttempt(ac.Quiz.ID, ac.GroupID, usageID, layout, userID, now)
	if err := s.attempts.Save(ctx, a); err != nil {
		if errors.Is(err, model.ErrNoOpenAttemptSlot) {
			// Another member started first.
			existing, fetchErr := s.attempts.FindOpen(ctx, ac.Quiz.ID, ac.GroupID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			s.log.Debug().
				Int64("attempt_id", existing.ID).
				Str("orphan_usage_id", usageID.String()).
				Msg("Concurrent start, joined existing attempt")
			ac.Attempt = existing
			return s.status(ac, now), nil
		}
		return nil, fmt.Errorf("save attempt: %w", err)
	}

	s.events.Emit(ctx, model.AttemptEvent{
		Type:      model.EventAttemptStarted,
		QuizID:    a.QuizID,
		AttemptID: a.ID,
		GroupID:   a.GroupID,
		UserID:    userID,
		CreatedAt: now,
	})
	s.log.Info().Int64("quiz_id", a.QuizID).Int64("group_id", a.GroupID).Int64("attempt_id", a.ID).Msg("Attempt started")

	ac.Attempt = a
	st := s.status(ac, now)
	st.Created = true
	return st, nil
}

// Attempt status values reported to polling and saving clients.
const (
	StatusRunning       = "running"
	StatusAttemptClosed = "attemptclosed"
)

// SaveResult is returned after an answer save.
type SaveResult struct {
	Status    string `json:"status"`
	AttemptID int64  `json:"attempt_id"`
	Slot      int    `json:"slot,omitempty"`
	Sequence  int    `json:"sequence,omitempty"`
}

// SaveAnswer stores one slot answer on the group's open attempt. When the attempt has
// run out of time it is closed instead and the result reports StatusAttemptClosed, as
// it does when a teammate already closed the attempt.
func (s *AttemptService) SaveAnswer(ctx context.Context, quizID, userID int64, slot int, answer json.RawMessage) (*SaveResult, error) {
	ac, err := s.ResolveAndLoadOpenAttempt(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	a := ac.Attempt
	if a == nil {
		latest, err := s.latestAttempt(ctx, ac.Quiz.ID, ac.GroupID)
		if err != nil {
			return nil, err
		}
		return &SaveResult{Status: StatusAttemptClosed, AttemptID: latest.ID}, nil
	}

	now := s.now()
	if _, closed := s.expireIfDue(ctx, a, ac.Quiz, userID, now); closed {
		return &SaveResult{Status: StatusAttemptClosed, AttemptID: a.ID}, nil
	}
	if err := a.CanSaveAnswer(slot); err != nil {
		return nil, err
	}

	seq, err := s.engine.ProcessAnswer(ctx, a.UsageID, slot, answer)
	if errors.Is(err, model.ErrInvalidState) {
		// Another member closed the attempt after it was loaded.
		return &SaveResult{Status: StatusAttemptClosed, AttemptID: a.ID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("process answer: %w", err)
	}
	if err := s.attempts.Touch(ctx, a.ID, now); err != nil {
		return nil, fmt.Errorf("touch attempt: %w", err)
	}

	return &SaveResult{Status: StatusRunning, AttemptID: a.ID, Slot: slot, Sequence: seq}, nil
}

// SubmitAndClose finishes the group's open attempt on behalf of userID. When the
// group has no open attempt, a repeated or late submit gets the latest finished one.
func (s *AttemptService) SubmitAndClose(ctx context.Context, quizID, userID int64) (*model.GroupAttempt, error) {
	ac, err := s.ResolveAndLoadOpenAttempt(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	if ac.Attempt == nil {
		finished, err := s.attempts.ListFinished(ctx, ac.Quiz.ID, ac.GroupID)
		if err != nil {
			return nil, fmt.Errorf("list finished attempts: %w", err)
		}
		if len(finished) == 0 {
			return nil, model.ErrAttemptNotFound
		}
		return &finished[len(finished)-1], nil
	}
	return s.close(ctx, ac.Attempt, ac.Quiz, userID, false)
}

// close finalises the attempt. Exactly one concurrent caller wins the state
// transition; only the winner grades and emits attempt_ended, the others return the
// stored attempt.
func (s *AttemptService) close(ctx context.Context, a *model.GroupAttempt, quiz *model.QuizDefinition, actor int64, timeout bool) (*model.GroupAttempt, error) {
	switch a.State {
	case model.AttemptStateFinished:
		return a, nil
	case model.AttemptStateAbandoned:
		return nil, fmt.Errorf("close attempt %d: %w", a.ID, model.ErrInvalidState)
	}

	if err := s.engine.FinishAll(ctx, a.UsageID); err != nil {
		return nil, fmt.Errorf("finish question usage: %w", err)
	}

	now := s.now()
	closed := *a
	if _, err := closed.Finish(now, actor, timeout); err != nil {
		return nil, err
	}
	won, err := s.attempts.MarkFinished(ctx, &closed)
	if err != nil {
		return nil, fmt.Errorf("mark finished: %w", err)
	}
	if !won {
		stored, err := s.attempts.GetByID(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("reload attempt: %w", err)
		}
		if stored.State == model.AttemptStateAbandoned {
			return nil, fmt.Errorf("close attempt %d: %w", a.ID, model.ErrInvalidState)
		}
		return stored, nil
	}

	if err := s.grader.RecalculateAndPersistGrade(ctx, &closed, quiz); err != nil {
		s.log.Error().Err(err).Int64("attempt_id", closed.ID).Msg("Failed to grade closed attempt")
	}

	s.events.Emit(ctx, model.AttemptEvent{
		Type:      model.EventAttemptEnded,
		QuizID:    closed.QuizID,
		AttemptID: closed.ID,
		GroupID:   closed.GroupID,
		UserID:    actor,
		CreatedAt: now,
	})
	s.log.Info().
		Int64("attempt_id", closed.ID).
		Bool("timeout", timeout).
		Float64("sumgrades", closed.SumGrades).
		Msg("Attempt closed")
	return &closed, nil
}

// expireIfDue closes an open attempt whose time ran out or whose quiz has closed.
// Close failures are logged; the attempt is still reported as closed to the caller.
func (s *AttemptService) expireIfDue(ctx context.Context, a *model.GroupAttempt, quiz *model.QuizDefinition, actor int64, now time.Time) (*model.GroupAttempt, bool) {
	if !a.State.IsOpen() {
		return a, false
	}
	if !a.TimeLeft(now, quiz).Expired() && quiz.OpenCloseState(now) != model.QuizClosed {
		return a, false
	}

	closed, err := s.close(ctx, a, quiz, actor, true)
	if err != nil {
		s.log.Error().Err(err).Int64("attempt_id", a.ID).Msg("Failed to close expired attempt")
		return a, true
	}
	return closed, true
}

// PollResult is the reply to a poll.
type PollResult struct {
	Status          string             `json:"status"`
	AttemptID       int64              `json:"attempt_id"`
	TimeLeftSeconds *int64             `json:"time_left_seconds,omitempty"`
	Slots           []model.SlotUpdate `json:"slots"`
	NextPollMillis  int64              `json:"next_poll_ms"`
}

// PollStatus returns the slots that changed since the client's last seen sequences.
// A slot missing from seen, or whose stored sequence is greater, is sent rendered.
func (s *AttemptService) PollStatus(ctx context.Context, quizID, userID int64, seen map[int]int) (*PollResult, error) {
	ac, err := s.ResolveAndLoadOpenAttempt(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	res := &PollResult{Slots: []model.SlotUpdate{}, NextPollMillis: s.nextPoll()}

	a := ac.Attempt
	if a == nil {
		latest, err := s.latestAttempt(ctx, ac.Quiz.ID, ac.GroupID)
		if err != nil {
			return nil, err
		}
		res.Status = StatusAttemptClosed
		res.AttemptID = latest.ID
		return res, nil
	}

	now := s.now()
	res.AttemptID = a.ID
	if _, closed := s.expireIfDue(ctx, a, ac.Quiz, userID, now); closed {
		res.Status = StatusAttemptClosed
		return res, nil
	}

	res.Status = StatusRunning
	res.TimeLeftSeconds = a.TimeLeft(now, ac.Quiz).Seconds()

	seqs, err := s.engine.Sequences(ctx, a.UsageID)
	if err != nil {
		return nil, fmt.Errorf("load sequences: %w", err)
	}
	for _, slot := range a.Layout {
		cur := seqs[slot]
		if last, ok := seen[slot]; ok && cur <= last {
			continue
		}
		html, err := s.renderSlot(ctx, a, slot, cur)
		if err != nil {
			return nil, err
		}
		res.Slots = append(res.Slots, model.SlotUpdate{Slot: slot, Sequence: cur, HTML: html})
	}
	return res, nil
}

func (s *AttemptService) latestAttempt(ctx context.Context, quizID, groupID int64) (*model.GroupAttempt, error) {
	all, err := s.attempts.List(ctx, quizID, groupID, model.AttemptFilterClosed)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	if len(all) == 0 {
		return nil, model.ErrAttemptNotFound
	}
	return &all[len(all)-1].GroupAttempt, nil
}

// renderSlot renders the in-progress view of a slot, going through the slot cache.
// Cache failures only cost a render.
func (s *AttemptService) renderSlot(ctx context.Context, a *model.GroupAttempt, slot, seq int) (string, error) {
	html, ok, err := s.cache.Get(ctx, a.ID, slot, seq)
	if err != nil {
		s.log.Warn().Err(err).Int64("attempt_id", a.ID).Int("slot", slot).Msg("Render cache read failed")
	}
	if ok {
		return html, nil
	}

	html, err = s.engine.Render(ctx, a.UsageID, slot, model.AttemptDisplayOptions())
	if err != nil {
		return "", fmt.Errorf("render slot %d: %w", slot, err)
	}
	if err := s.cache.Set(ctx, a.ID, slot, seq, html); err != nil {
		s.log.Warn().Err(err).Int64("attempt_id", a.ID).Int("slot", slot).Msg("Render cache write failed")
	}
	return html, nil
}

// nextPoll returns the poll interval with a random offset in [-jitter, +jitter].
func (s *AttemptService) nextPoll() int64 {
	next := s.cfg.PollInterval
	if j := s.cfg.PollJitter; j > 0 {
		next += time.Duration(rand.Int64N(int64(2*j)+1)) - j
	}
	return next.Milliseconds()
}

// ReviewSlot is one question as shown on the review page.
type ReviewSlot struct {
	Slot    int      `json:"slot"`
	HTML    string   `json:"html"`
	Mark    *float64 `json:"mark,omitempty"`
	MaxMark *float64 `json:"max_mark,omitempty"`
	Comment string   `json:"comment,omitempty"`
}

// ReviewView is the review page of one attempt.
type ReviewView struct {
	Attempt  *model.GroupAttempt  `json:"attempt"`
	Phase    string               `json:"phase"`
	Options  model.DisplayOptions `json:"options"`
	Grade    *float64             `json:"grade,omitempty"`
	MaxGrade float64              `json:"max_grade"`
	Slots    []ReviewSlot         `json:"slots"`
}

// GetReviewView renders an attempt for review. Students may only review their own
// group's attempts, and only when the quiz review settings allow it.
func (s *AttemptService) GetReviewView(ctx context.Context, quizID, attemptID, userID int64, role model.Role) (*ReviewView, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.QuizID != quiz.ID {
		return nil, model.ErrAttemptNotFound
	}

	if role != model.RoleInstructor {
		groupID, err := s.resolver.Resolve(ctx, quiz, userID)
		if err != nil {
			return nil, err
		}
		if groupID != a.GroupID {
			return nil, model.ErrReviewNotAllowed
		}
	}

	now := s.now()
	a, _ = s.expireIfDue(ctx, a, quiz, userID, now)

	phase := model.ReviewPhaseFor(a, quiz, now, s.cfg.ReviewImmediateFor)
	opts := model.ReviewDisplayOptions(role, phase, quiz.Review)
	if !opts.AnyVisible() {
		return nil, model.ErrReviewNotAllowed
	}

	qas, err := s.engine.QuestionAttempts(ctx, a.UsageID)
	if err != nil {
		return nil, fmt.Errorf("load question attempts: %w", err)
	}

	view := &ReviewView{
		Attempt:  a,
		Phase:    phase.String(),
		Options:  opts,
		MaxGrade: quiz.Grade,
		Slots:    make([]ReviewSlot, 0, len(qas)),
	}
	if opts.Marks == model.MarksMarkAndMax && a.State == model.AttemptStateFinished {
		grade := a.SumGrades
		view.Grade = &grade
	}

	for _, qa := range qas {
		html, err := s.engine.Render(ctx, a.UsageID, qa.Slot, opts)
		if err != nil {
			return nil, fmt.Errorf("render slot %d: %w", qa.Slot, err)
		}
		rs := ReviewSlot{Slot: qa.Slot, HTML: html}
		if opts.Marks != model.MarksHidden {
			maxMark := qa.MaxMark
			rs.MaxMark = &maxMark
		}
		if opts.Marks == model.MarksMarkAndMax {
			rs.Mark = qa.Mark
		}
		if opts.ManualComment != model.Hidden {
			rs.Comment = qa.Comment
		}
		view.Slots = append(view.Slots, rs)
	}

	s.events.Emit(ctx, model.AttemptEvent{
		Type:      model.EventAttemptViewed,
		QuizID:    a.QuizID,
		AttemptID: a.ID,
		GroupID:   a.GroupID,
		UserID:    userID,
		CreatedAt: now,
	})
	return view, nil
}

// loadQuizAttempt fetches an attempt and checks that it belongs to the quiz.
func (s *AttemptService) loadQuizAttempt(ctx context.Context, quizID, attemptID int64) (*model.QuizDefinition, *model.GroupAttempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if a.QuizID != quiz.ID {
		return nil, nil, model.ErrAttemptNotFound
	}
	return quiz, a, nil
}

// ManualGrade sets the mark and comment of one slot of a finished attempt and
// refreshes the group's grades.
func (s *AttemptService) ManualGrade(ctx context.Context, quizID, attemptID int64, slot int, mark float64, comment string, graderID int64) (*model.GroupAttempt, error) {
	quiz, a, err := s.loadQuizAttempt(ctx, quizID, attemptID)
	if err != nil {
		return nil, err
	}
	if a.State != model.AttemptStateFinished {
		return nil, fmt.Errorf("grade attempt %d in state %s: %w", a.ID, a.State, model.ErrInvalidState)
	}
	if !a.HasSlot(slot) {
		return nil, model.ErrSlotNotInLayout
	}

	if err := s.engine.ManualGrade(ctx, a.UsageID, slot, mark, comment); err != nil {
		return nil, fmt.Errorf("manual grade: %w", err)
	}

	s.events.Emit(ctx, model.AttemptEvent{
		Type:      model.EventQuestionManuallyGraded,
		QuizID:    a.QuizID,
		AttemptID: a.ID,
		GroupID:   a.GroupID,
		UserID:    graderID,
		Slot:      &slot,
		CreatedAt: s.now(),
	})

	if err := s.grader.RecalculateAndPersistGrade(ctx, a, quiz); err != nil {
		return nil, err
	}
	return a, nil
}

// Abandon moves an open attempt to Abandoned. Abandoned attempts never count towards grades.
func (s *AttemptService) Abandon(ctx context.Context, quizID, attemptID, by int64) (*model.GroupAttempt, error) {
	_, a, err := s.loadQuizAttempt(ctx, quizID, attemptID)
	if err != nil {
		return nil, err
	}

	abandoned := *a
	if err := abandoned.Abandon(s.now(), by); err != nil {
		return nil, err
	}
	won, err := s.attempts.MarkAbandoned(ctx, &abandoned)
	if err != nil {
		return nil, fmt.Errorf("mark abandoned: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("abandon attempt %d: %w", a.ID, model.ErrInvalidState)
	}

	s.log.Info().Int64("attempt_id", a.ID).Int64("by", by).Msg("Attempt abandoned")
	return &abandoned, nil
}

// OwnAttempts lists the attempts of the caller's group with the caller's grade.
type OwnAttempts struct {
	GroupID  int64                  `json:"group_id"`
	Attempts []model.AttemptSummary `json:"attempts"`
	Grade    *float64               `json:"grade"`
	MaxGrade float64                `json:"max_grade"`
}

// ListOwnAttempts returns the attempts of the user's group.
func (s *AttemptService) ListOwnAttempts(ctx context.Context, quizID, userID int64) (*OwnAttempts, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	groupID, err := s.resolver.Resolve(ctx, quiz, userID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.List(ctx, quiz.ID, groupID, model.AttemptFilterAll)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	grade, err := s.grader.UserGrade(ctx, quiz.ID, userID)
	if err != nil {
		return nil, err
	}
	return &OwnAttempts{GroupID: groupID, Attempts: attempts, Grade: grade, MaxGrade: quiz.Grade}, nil
}

// ListAttempts lists every attempt of a quiz, optionally narrowed to one group.
func (s *AttemptService) ListAttempts(ctx context.Context, quizID, groupID int64, filter model.AttemptFilter) ([]model.AttemptSummary, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		filter = model.AttemptFilterAll
	}
	attempts, err := s.attempts.List(ctx, quiz.ID, groupID, filter)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}
