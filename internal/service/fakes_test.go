package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// ─── AttemptStore ───────────────────────────────────────────────────────────

type fakeAttemptStore struct {
	mu     sync.Mutex
	rows   map[int64]model.GroupAttempt
	nextID int64
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{rows: map[int64]model.GroupAttempt{}, nextID: 1}
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id int64) (*model.GroupAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, model.ErrAttemptNotFound
	}
	return &a, nil
}

func (f *fakeAttemptStore) FindOpen(_ context.Context, quizID, groupID int64) (*model.GroupAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.GroupAttempt
	for _, a := range f.rows {
		if a.QuizID != quizID || a.GroupID != groupID || !a.State.IsOpen() {
			continue
		}
		if best == nil || a.TimeModified.After(best.TimeModified) || (a.TimeModified.Equal(best.TimeModified) && a.ID > best.ID) {
			a := a
			best = &a
		}
	}
	if best == nil {
		return nil, model.ErrAttemptNotFound
	}
	return best, nil
}

func (f *fakeAttemptStore) Save(_ context.Context, a *model.GroupAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		for _, r := range f.rows {
			if r.QuizID == a.QuizID && r.GroupID == a.GroupID && r.State.IsOpen() {
				return model.ErrNoOpenAttemptSlot
			}
		}
		a.ID = f.nextID
		f.nextID++
	}
	f.rows[a.ID] = *a
	return nil
}

func (f *fakeAttemptStore) Touch(_ context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if ok && a.State.IsOpen() && now.After(a.TimeModified) {
		a.TimeModified = now
		f.rows[id] = a
	}
	return nil
}

func (f *fakeAttemptStore) transition(a *model.GroupAttempt) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[a.ID]
	if !ok || !cur.State.IsOpen() {
		return false
	}
	cur.State = a.State
	cur.TimeFinish = a.TimeFinish
	cur.TimeModified = a.TimeModified
	cur.UserStop = a.UserStop
	f.rows[a.ID] = cur
	return true
}

func (f *fakeAttemptStore) MarkFinished(_ context.Context, a *model.GroupAttempt) (bool, error) {
	return f.transition(a), nil
}

func (f *fakeAttemptStore) MarkAbandoned(_ context.Context, a *model.GroupAttempt) (bool, error) {
	return f.transition(a), nil
}

func (f *fakeAttemptStore) UpdateSumGrades(_ context.Context, id int64, sum float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return model.ErrAttemptNotFound
	}
	a.SumGrades = sum
	f.rows[id] = a
	return nil
}

func (f *fakeAttemptStore) List(_ context.Context, quizID, groupID int64, filter model.AttemptFilter) ([]model.AttemptSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AttemptSummary
	for _, a := range f.rows {
		if a.QuizID != quizID || (groupID != 0 && a.GroupID != groupID) {
			continue
		}
		if filter == model.AttemptFilterOpen && !a.State.IsOpen() || filter == model.AttemptFilterClosed && a.State.IsOpen() {
			continue
		}
		out = append(out, model.AttemptSummary{GroupAttempt: a, GroupName: fmt.Sprintf("Group %d", a.GroupID)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TimeStart.Equal(out[j].TimeStart) {
			return out[i].TimeStart.Before(out[j].TimeStart)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeAttemptStore) ListFinished(_ context.Context, quizID, groupID int64) ([]model.GroupAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GroupAttempt
	for _, a := range f.rows {
		if a.QuizID == quizID && a.GroupID == groupID && a.State == model.AttemptStateFinished {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TimeFinish.Equal(*out[j].TimeFinish) {
			return out[i].TimeFinish.Before(*out[j].TimeFinish)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// put stores a finished attempt with a fixed grade, bypassing the engine.
func (f *fakeAttemptStore) put(quizID, groupID int64, sum float64, finishedAt time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	stop := int64(1)
	f.rows[id] = model.GroupAttempt{
		ID: id, QuizID: quizID, GroupID: groupID, UsageID: uuid.New(),
		State: model.AttemptStateFinished, Layout: []int{1},
		TimeStart: finishedAt.Add(-time.Minute), TimeFinish: &finishedAt, TimeModified: finishedAt,
		SumGrades: sum, UserStart: 1, UserStop: &stop,
	}
	return id
}

// ─── QuestionEngine ─────────────────────────────────────────────────────────

type fakeUsage struct {
	slots    map[int]*model.QuestionAttempt
	answers  map[int]string
	correct  map[int]string
	finished bool
}

type fakeEngine struct {
	mu       sync.Mutex
	usages   map[uuid.UUID]*fakeUsage
	renders  int
	regrades int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{usages: map[uuid.UUID]*fakeUsage{}}
}

func (e *fakeEngine) StartUsage(_ context.Context, questions []model.Question) (uuid.UUID, []int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := uuid.New()
	u := &fakeUsage{slots: map[int]*model.QuestionAttempt{}, answers: map[int]string{}, correct: map[int]string{}}
	layout := make([]int, len(questions))
	for i, q := range questions {
		slot := i + 1
		layout[i] = slot
		u.slots[slot] = &model.QuestionAttempt{UsageID: id, Slot: slot, QuestionID: q.ID, MaxMark: q.DefaultMark, State: model.QuestionStateTodo}
		u.correct[slot] = q.CorrectAnswer
	}
	e.usages[id] = u
	return id, layout, nil
}

func (e *fakeEngine) ProcessAnswer(_ context.Context, usageID uuid.UUID, slot int, answer json.RawMessage) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.usages[usageID]
	if u.finished {
		return 0, model.ErrInvalidState
	}
	var given string
	if err := json.Unmarshal(answer, &given); err != nil {
		return 0, err
	}
	qa := u.slots[slot]
	qa.Sequence++
	u.answers[slot] = given
	mark := 0.0
	if given == u.correct[slot] {
		mark = qa.MaxMark
	}
	qa.Mark = &mark
	qa.State = model.QuestionStateComplete
	return qa.Sequence, nil
}

func (e *fakeEngine) FinishAll(_ context.Context, usageID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.usages[usageID]
	if u.finished {
		return nil
	}
	u.finished = true
	for _, qa := range u.slots {
		qa.State = model.QuestionStateFinished
		qa.Sequence++
	}
	return nil
}

func (e *fakeEngine) QuestionAttempts(_ context.Context, usageID uuid.UUID) ([]model.QuestionAttempt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.usages[usageID]
	if !ok {
		return nil, nil
	}
	out := make([]model.QuestionAttempt, 0, len(u.slots))
	for _, qa := range u.slots {
		out = append(out, *qa)
	}
	slices.SortFunc(out, func(a, b model.QuestionAttempt) int { return a.Slot - b.Slot })
	return out, nil
}

func (e *fakeEngine) Sequences(_ context.Context, usageID uuid.UUID) (map[int]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[int]int{}
	for slot, qa := range e.usages[usageID].slots {
		out[slot] = qa.Sequence
	}
	return out, nil
}

func (e *fakeEngine) RegradeAll(_ context.Context, usageID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regrades++
	u, ok := e.usages[usageID]
	if !ok {
		return nil
	}
	for slot, qa := range u.slots {
		if qa.Manual || qa.Mark == nil {
			continue
		}
		mark := 0.0
		if u.answers[slot] == u.correct[slot] {
			mark = qa.MaxMark
		}
		qa.Mark = &mark
	}
	return nil
}

// setCorrect changes the accepted answer of one slot, as an edited question would.
func (e *fakeEngine) setCorrect(usageID uuid.UUID, slot int, answer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usages[usageID].correct[slot] = answer
}

func (e *fakeEngine) ManualGrade(_ context.Context, usageID uuid.UUID, slot int, mark float64, comment string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	qa := e.usages[usageID].slots[slot]
	if mark < 0 || mark > qa.MaxMark {
		return model.ErrMarkOutOfRange
	}
	qa.Mark = &mark
	qa.Manual = true
	qa.Comment = comment
	qa.Sequence++
	return nil
}

func (e *fakeEngine) Render(_ context.Context, usageID uuid.UUID, slot int, _ model.DisplayOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renders++
	u := e.usages[usageID]
	return fmt.Sprintf("<div data-slot=%d>%s</div>", slot, u.answers[slot]), nil
}

// ─── QuizStore / MembershipService ─────────────────────────────────────────

type fakeQuizStore struct {
	quizzes   map[int64]*model.QuizDefinition
	questions map[int64][]model.Question
}

func (f *fakeQuizStore) GetQuiz(_ context.Context, id int64) (*model.QuizDefinition, error) {
	q, ok := f.quizzes[id]
	if !ok {
		return nil, model.ErrQuizNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeQuizStore) Questions(_ context.Context, quizID int64) ([]model.Question, error) {
	return f.questions[quizID], nil
}

type fakeMembers struct {
	groups    map[int64][]int64 // group -> members
	groupings map[int64][]int64 // grouping -> groups
}

func (f *fakeMembers) GroupsOfUser(_ context.Context, userID, groupingID int64) ([]int64, error) {
	var out []int64
	for _, gid := range f.groupings[groupingID] {
		if slices.Contains(f.groups[gid], userID) {
			out = append(out, gid)
		}
	}
	return out, nil
}

func (f *fakeMembers) MembersOfGroup(_ context.Context, groupID int64) ([]int64, error) {
	return f.groups[groupID], nil
}

func (f *fakeMembers) GroupsInGrouping(_ context.Context, groupingID int64) ([]model.Group, error) {
	var out []model.Group
	for _, gid := range f.groupings[groupingID] {
		out = append(out, model.Group{ID: gid, Name: fmt.Sprintf("Group %d", gid)})
	}
	return out, nil
}

// ─── GradeStore / Gradebook ─────────────────────────────────────────────────

type gradeKey struct{ quiz, user int64 }

type fakeGradeStore struct {
	mu         sync.Mutex
	grades     map[gradeKey]float64
	quizGrades map[int64]float64
	attempts   *fakeAttemptStore
	failUpsert bool
	commits    atomic.Int32
	lastOps    []string
}

func newFakeGradeStore(attempts *fakeAttemptStore) *fakeGradeStore {
	return &fakeGradeStore{grades: map[gradeKey]float64{}, quizGrades: map[int64]float64{}, attempts: attempts}
}

type fakeGradeTx struct {
	grades     map[gradeKey]float64
	quizGrades map[int64]float64
	attemptMul map[int64]float64
	failUpsert bool
	ops        []string
}

func (t *fakeGradeTx) LockGroup(_ context.Context, quizID, groupID int64) error {
	t.ops = append(t.ops, fmt.Sprintf("lock %d/%d", quizID, groupID))
	return nil
}

func (t *fakeGradeTx) UpsertGrades(_ context.Context, grades []model.UserGrade) error {
	t.ops = append(t.ops, "upsert")
	for _, g := range grades {
		t.grades[gradeKey{g.QuizID, g.UserID}] = g.Grade
	}
	if t.failUpsert {
		return errors.New("upsert failed")
	}
	return nil
}

func (t *fakeGradeTx) DeleteGrades(_ context.Context, quizID int64, userIDs []int64) error {
	t.ops = append(t.ops, "delete")
	for _, u := range userIDs {
		delete(t.grades, gradeKey{quizID, u})
	}
	return nil
}

func (t *fakeGradeTx) RescaleGrades(_ context.Context, quizID int64, factor float64) ([]int64, error) {
	var users []int64
	for k, v := range t.grades {
		if k.quiz == quizID {
			t.grades[k] = v * factor
			users = append(users, k.user)
		}
	}
	slices.Sort(users)
	return users, nil
}

func (t *fakeGradeTx) RescaleAttemptGrades(_ context.Context, quizID int64, factor float64) error {
	t.attemptMul[quizID] = factor
	return nil
}

func (t *fakeGradeTx) SetQuizGrade(_ context.Context, quizID int64, grade float64) error {
	t.quizGrades[quizID] = grade
	return nil
}

func (f *fakeGradeStore) WithinTx(_ context.Context, fn func(tx GradeTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeGradeTx{
		grades:     map[gradeKey]float64{},
		quizGrades: map[int64]float64{},
		attemptMul: map[int64]float64{},
		failUpsert: f.failUpsert,
	}
	for k, v := range f.grades {
		tx.grades[k] = v
	}
	for k, v := range f.quizGrades {
		tx.quizGrades[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	f.grades = tx.grades
	f.quizGrades = tx.quizGrades
	f.lastOps = tx.ops
	for quizID, factor := range tx.attemptMul {
		f.attempts.mu.Lock()
		for id, a := range f.attempts.rows {
			if a.QuizID == quizID {
				a.SumGrades *= factor
				f.attempts.rows[id] = a
			}
		}
		f.attempts.mu.Unlock()
	}
	f.commits.Add(1)
	return nil
}

func (f *fakeGradeStore) Grades(_ context.Context, quizID int64, userIDs []int64) (map[int64]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int64]float64{}
	for _, u := range userIDs {
		if v, ok := f.grades[gradeKey{quizID, u}]; ok {
			out[u] = v
		}
	}
	return out, nil
}

func (f *fakeGradeStore) grade(quizID, userID int64) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.grades[gradeKey{quizID, userID}]
	return v, ok
}

type fakeGradebook struct {
	mu      sync.Mutex
	entries []model.GradebookEntry
	err     error
	onPush  func()
}

func (f *fakeGradebook) PushGrades(_ context.Context, entries []model.GradebookEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onPush != nil {
		f.onPush()
	}
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entries...)
	return nil
}

// ─── EventSink / SlotCache ──────────────────────────────────────────────────

type fakeEvents struct {
	mu     sync.Mutex
	events []model.AttemptEvent
}

func (f *fakeEvents) Emit(_ context.Context, ev model.AttemptEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeEvents) count(t model.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string]string
}

func (f *fakeCache) key(attemptID int64, slot, seq int) string {
	return fmt.Sprintf("%d:%d:%d", attemptID, slot, seq)
}

func (f *fakeCache) Get(_ context.Context, attemptID int64, slot, seq int) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[f.key(attemptID, slot, seq)]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, attemptID int64, slot, seq int, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[f.key(attemptID, slot, seq)] = html
	return nil
}

// ─── Fixture ────────────────────────────────────────────────────────────────

const (
	testQuizID     int64 = 100
	testGroupingID int64 = 7
	groupA         int64 = 11
	groupB         int64 = 12
	alice          int64 = 1
	bob            int64 = 2
	carol          int64 = 3
	instructorID   int64 = 50
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	attempts  *fakeAttemptStore
	engine    *fakeEngine
	quizzes   *fakeQuizStore
	members   *fakeMembers
	grades    *fakeGradeStore
	gradebook *fakeGradebook
	events    *fakeEvents
	cache     *fakeCache
	grader    *GradeEngine
	svc       *AttemptService
	clock     time.Time
}

// newFixture builds a quiz with two 10-mark questions. Alice and Bob are in group A,
// Carol in group B.
func newFixture() *fixture {
	f := &fixture{
		attempts: newFakeAttemptStore(),
		engine:   newFakeEngine(),
		quizzes: &fakeQuizStore{
			quizzes: map[int64]*model.QuizDefinition{
				testQuizID: {
					ID:          testQuizID,
					Name:        "Group quiz",
					Grade:       100,
					GradeMethod: model.GradeMethodHighest,
					GroupingID:  testGroupingID,
				},
			},
			questions: map[int64][]model.Question{
				testQuizID: {
					{ID: 1, QType: model.QuestionTypeShortAnswer, CorrectAnswer: "paris", DefaultMark: 10},
					{ID: 2, QType: model.QuestionTypeShortAnswer, CorrectAnswer: "4", DefaultMark: 10},
				},
			},
		},
		members: &fakeMembers{
			groups:    map[int64][]int64{groupA: {alice, bob}, groupB: {carol}},
			groupings: map[int64][]int64{testGroupingID: {groupA, groupB}},
		},
		gradebook: &fakeGradebook{},
		events:    &fakeEvents{},
		cache:     &fakeCache{items: map[string]string{}},
		clock:     baseTime,
	}
	f.grades = newFakeGradeStore(f.attempts)

	log := zerolog.Nop()
	resolver := NewGroupResolver(f.members)
	f.grader = NewGradeEngine(f.attempts, f.quizzes, f.engine, f.members, f.grades, f.gradebook, log)
	f.grader.now = f.now
	f.svc = NewAttemptService(f.attempts, f.quizzes, f.engine, resolver, f.grader, f.events, f.cache, AttemptConfig{
		PollInterval:       3 * time.Second,
		PollJitter:         500 * time.Millisecond,
		ReviewImmediateFor: 2 * time.Minute,
	}, log)
	f.svc.now = f.now
	return f
}

func (f *fixture) now() time.Time { return f.clock }

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) quiz() *model.QuizDefinition { return f.quizzes.quizzes[testQuizID] }
