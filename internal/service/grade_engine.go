package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"golang.org/x/sync/errgroup"
)

// regradeConcurrency bounds how many groups are regraded at once.
const regradeConcurrency = 4

// GradeEngine computes attempt grades and the per-member quiz grades derived from them.
type GradeEngine struct {
	attempts  AttemptStore
	quizzes   QuizStore
	engine    QuestionEngine
	members   MembershipService
	grades    GradeStore
	gradebook Gradebook
	log       zerolog.Logger
	now       func() time.Time
}

// NewGradeEngine creates a new GradeEngine.
func NewGradeEngine(
	attempts AttemptStore,
	quizzes QuizStore,
	engine QuestionEngine,
	members MembershipService,
	grades GradeStore,
	gradebook Gradebook,
	log zerolog.Logger,
) *GradeEngine {
	return &GradeEngine{
		attempts:  attempts,
		quizzes:   quizzes,
		engine:    engine,
		members:   members,
		grades:    grades,
		gradebook: gradebook,
		log:       log.With().Str("component", "grade_engine").Logger(),
		now:       time.Now,
	}
}

// ScaleMarks returns (achieved / max) * quizGrade. Unmarked slots count as zero and a
// zero maximum yields zero.
func ScaleMarks(qas []model.QuestionAttempt, quizGrade float64) float64 {
	var achieved, maxSum float64
	for _, qa := range qas {
		maxSum += qa.MaxMark
		if qa.Mark != nil {
			achieved += *qa.Mark
		}
	}
	if maxSum == 0 {
		return 0
	}
	return achieved / maxSum * quizGrade
}

// CalculateAttemptGrade returns the scaled grade of an attempt from its current marks.
func (g *GradeEngine) CalculateAttemptGrade(ctx context.Context, a *model.GroupAttempt, quiz *model.QuizDefinition) (float64, error) {
	qas, err := g.engine.QuestionAttempts(ctx, a.UsageID)
	if err != nil {
		return 0, fmt.Errorf("load question attempts: %w", err)
	}
	return ScaleMarks(qas, quiz.Grade), nil
}

// ApplyGradingMethod aggregates grades given in attempt order.
func ApplyGradingMethod(method model.GradingMethod, grades []float64) (float64, error) {
	if !method.Valid() {
		return 0, fmt.Errorf("apply %s: %w", method, model.ErrInvalidGradingMethod)
	}
	if len(grades) == 0 {
		return 0, model.ErrNoGrades
	}

	switch method {
	case model.GradeMethodFirst:
		return grades[0], nil
	case model.GradeMethodLast:
		return grades[len(grades)-1], nil
	case model.GradeMethodAverage:
		var sum float64
		for _, v := range grades {
			sum += v
		}
		return sum / float64(len(grades)), nil
	default:
		best := grades[0]
		for _, v := range grades[1:] {
			if v > best {
				best = v
			}
		}
		return best, nil
	}
}

// selectForMethod keeps the attempts that count under method. finished must be
// ordered by (time_finish, id).
func selectForMethod(method model.GradingMethod, finished []model.GroupAttempt) []model.GroupAttempt {
	if len(finished) == 0 {
		return nil
	}
	switch method {
	case model.GradeMethodFirst:
		return finished[:1]
	case model.GradeMethodLast:
		return finished[len(finished)-1:]
	default:
		return finished
	}
}

// groupAggregate returns the group's grade and false when it has no finished attempt.
func (g *GradeEngine) groupAggregate(ctx context.Context, quiz *model.QuizDefinition, groupID int64) (float64, bool, error) {
	finished, err := g.attempts.ListFinished(ctx, quiz.ID, groupID)
	if err != nil {
		return 0, false, fmt.Errorf("list finished attempts: %w", err)
	}
	selected := selectForMethod(quiz.GradeMethod, finished)
	if len(selected) == 0 {
		return 0, false, nil
	}

	sums := make([]float64, len(selected))
	for i := range selected {
		sums[i] = selected[i].SumGrades
	}
	grade, err := ApplyGradingMethod(quiz.GradeMethod, sums)
	if err != nil {
		return 0, false, err
	}
	return grade, true, nil
}

// SaveGroupGrade recomputes the group's aggregate and stores it for every current
// member in one transaction that holds the group's grade lock. Members who also
// belong to other groups of the grouping keep the highest of those groups' grades.
// The gradebook is notified only after the grades have committed.
func (g *GradeEngine) SaveGroupGrade(ctx context.Context, quiz *model.QuizDefinition, groupID int64) error {
	var entries []model.GradebookEntry
	err := g.grades.WithinTx(ctx, func(tx GradeTx) error {
		if err := tx.LockGroup(ctx, quiz.ID, groupID); err != nil {
			return fmt.Errorf("lock group: %w", err)
		}
		upserts, deletes, pending, err := g.memberGrades(ctx, quiz, groupID)
		if err != nil {
			return err
		}
		if len(upserts) > 0 {
			if err := tx.UpsertGrades(ctx, upserts); err != nil {
				return fmt.Errorf("upsert grades: %w", err)
			}
		}
		if len(deletes) > 0 {
			if err := tx.DeleteGrades(ctx, quiz.ID, deletes); err != nil {
				return fmt.Errorf("delete grades: %w", err)
			}
		}
		entries = pending
		return nil
	})
	if err != nil {
		return err
	}
	return g.push(ctx, entries)
}

// memberGrades works out each member's grade from the finished attempts of the group
// and of any other group the member belongs to. Members with no grade are returned
// for deletion.
func (g *GradeEngine) memberGrades(ctx context.Context, quiz *model.QuizDefinition, groupID int64) ([]model.UserGrade, []int64, []model.GradebookEntry, error) {
	aggregates := map[int64]*float64{}
	aggregate := func(gid int64) (*float64, error) {
		if v, ok := aggregates[gid]; ok {
			return v, nil
		}
		grade, ok, err := g.groupAggregate(ctx, quiz, gid)
		if err != nil {
			return nil, err
		}
		var v *float64
		if ok {
			v = &grade
		}
		aggregates[gid] = v
		return v, nil
	}

	if _, err := aggregate(groupID); err != nil {
		return nil, nil, nil, err
	}

	members, err := g.members.MembersOfGroup(ctx, groupID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("members of group: %w", err)
	}

	now := g.now()
	var upserts []model.UserGrade
	var deletes []int64
	entries := make([]model.GradebookEntry, 0, len(members))

	for _, userID := range members {
		best := aggregates[groupID]

		groups, err := g.members.GroupsOfUser(ctx, userID, quiz.GroupingID)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("groups of user: %w", err)
		}
		for _, other := range groups {
			if other == groupID {
				continue
			}
			v, err := aggregate(other)
			if err != nil {
				return nil, nil, nil, err
			}
			if v != nil && (best == nil || *v > *best) {
				g.log.Warn().
					Int64("quiz_id", quiz.ID).
					Int64("user_id", userID).
					Int64("group_id", groupID).
					Int64("other_group_id", other).
					Msg("User graded through several groups, keeping the highest grade")
				best = v
			}
		}

		if best == nil {
			deletes = append(deletes, userID)
		} else {
			upserts = append(upserts, model.UserGrade{QuizID: quiz.ID, UserID: userID, Grade: *best, TimeModified: now})
		}
		entries = append(entries, model.GradebookEntry{QuizID: quiz.ID, UserID: userID})
	}
	return upserts, deletes, entries, nil
}

// push notifies the gradebook of committed grade changes. The worker re-reads the
// stored grade, so a repeated notification is harmless.
func (g *GradeEngine) push(ctx context.Context, entries []model.GradebookEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := g.gradebook.PushGrades(ctx, entries); err != nil {
		return fmt.Errorf("push gradebook: %w", err)
	}
	return nil
}

// RecalculateAndPersistGrade stores the attempt's scaled grade and refreshes the
// group's member grades.
func (g *GradeEngine) RecalculateAndPersistGrade(ctx context.Context, a *model.GroupAttempt, quiz *model.QuizDefinition) error {
	grade, err := g.CalculateAttemptGrade(ctx, a, quiz)
	if err != nil {
		return err
	}
	if err := g.attempts.UpdateSumGrades(ctx, a.ID, grade); err != nil {
		return fmt.Errorf("update sumgrades: %w", err)
	}
	a.SumGrades = grade

	if a.State != model.AttemptStateFinished {
		return nil
	}
	if err := g.SaveGroupGrade(ctx, quiz, a.GroupID); err != nil {
		return fmt.Errorf("save group grade: %w", err)
	}
	return nil
}

// ProcessAttemptRegrade re-marks every question of the attempt and stores the new
// sumgrades. State and timestamps are left alone.
func (g *GradeEngine) ProcessAttemptRegrade(ctx context.Context, a *model.GroupAttempt, quiz *model.QuizDefinition) error {
	if err := g.engine.RegradeAll(ctx, a.UsageID); err != nil {
		return fmt.Errorf("regrade usage: %w", err)
	}
	grade, err := g.CalculateAttemptGrade(ctx, a, quiz)
	if err != nil {
		return err
	}
	if err := g.attempts.UpdateSumGrades(ctx, a.ID, grade); err != nil {
		return fmt.Errorf("update sumgrades: %w", err)
	}
	a.SumGrades = grade
	return nil
}

// RegradeAttempt regrades one attempt of a quiz and refreshes its group's grades.
func (g *GradeEngine) RegradeAttempt(ctx context.Context, quizID, attemptID int64) (*model.GroupAttempt, error) {
	quiz, err := g.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	a, err := g.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.QuizID != quiz.ID {
		return nil, model.ErrAttemptNotFound
	}

	if err := g.ProcessAttemptRegrade(ctx, a, quiz); err != nil {
		return nil, err
	}
	if a.State == model.AttemptStateFinished {
		if err := g.SaveGroupGrade(ctx, quiz, a.GroupID); err != nil {
			return nil, fmt.Errorf("save group grade: %w", err)
		}
	}

	g.log.Info().Int64("quiz_id", quiz.ID).Int64("attempt_id", a.ID).Float64("sumgrades", a.SumGrades).Msg("Attempt regraded")
	return a, nil
}

// RegradeSummary reports the outcome of a whole-quiz regrade.
type RegradeSummary struct {
	Groups   int `json:"groups"`
	Attempts int `json:"attempts"`
}

// RegradeQuiz recomputes the grades of every group in the quiz grouping. With
// regradeAttempts set, each finished attempt is re-marked by the question engine first.
func (g *GradeEngine) RegradeQuiz(ctx context.Context, quizID int64, regradeAttempts bool) (*RegradeSummary, error) {
	quiz, err := g.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return g.recomputeQuiz(ctx, quiz, func(ctx context.Context, a *model.GroupAttempt) error {
		if regradeAttempts {
			return g.ProcessAttemptRegrade(ctx, a, quiz)
		}
		return nil
	})
}

// recomputeQuiz applies perAttempt to every finished attempt, group by group in
// parallel, then saves the group grades once all attempts are settled.
func (g *GradeEngine) recomputeQuiz(ctx context.Context, quiz *model.QuizDefinition, perAttempt func(context.Context, *model.GroupAttempt) error) (*RegradeSummary, error) {
	groups, err := g.members.GroupsInGrouping(ctx, quiz.GroupingID)
	if err != nil {
		return nil, fmt.Errorf("groups in grouping: %w", err)
	}

	counts := make([]int, len(groups))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(regradeConcurrency)
	for i, grp := range groups {
		eg.Go(func() error {
			finished, err := g.attempts.ListFinished(egCtx, quiz.ID, grp.ID)
			if err != nil {
				return fmt.Errorf("list finished attempts of group %d: %w", grp.ID, err)
			}
			for j := range finished {
				if err := perAttempt(egCtx, &finished[j]); err != nil {
					return fmt.Errorf("attempt %d: %w", finished[j].ID, err)
				}
			}
			counts[i] = len(finished)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	summary := &RegradeSummary{Groups: len(groups)}
	for i, grp := range groups {
		summary.Attempts += counts[i]
		if err := g.SaveGroupGrade(ctx, quiz, grp.ID); err != nil {
			return nil, fmt.Errorf("save grade of group %d: %w", grp.ID, err)
		}
	}

	g.log.Info().
		Int64("quiz_id", quiz.ID).
		Int("groups", summary.Groups).
		Int("attempts", summary.Attempts).
		Msg("Quiz grades recomputed")
	return summary, nil
}

// SetMaxGrade changes the quiz's maximum grade. Stored grades are rescaled by
// new/old in one transaction; when the old maximum was below one every attempt is
// recomputed from its marks instead.
func (g *GradeEngine) SetMaxGrade(ctx context.Context, quizID int64, newGrade float64) error {
	quiz, err := g.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	oldGrade := quiz.Grade
	if oldGrade == newGrade {
		return nil
	}

	if oldGrade < 1 {
		if err := g.grades.WithinTx(ctx, func(tx GradeTx) error {
			return tx.SetQuizGrade(ctx, quiz.ID, newGrade)
		}); err != nil {
			return fmt.Errorf("set quiz grade: %w", err)
		}
		quiz.Grade = newGrade
		_, err := g.recomputeQuiz(ctx, quiz, func(ctx context.Context, a *model.GroupAttempt) error {
			grade, err := g.CalculateAttemptGrade(ctx, a, quiz)
			if err != nil {
				return err
			}
			a.SumGrades = grade
			return g.attempts.UpdateSumGrades(ctx, a.ID, grade)
		})
		return err
	}

	factor := newGrade / oldGrade
	var users []int64
	err = g.grades.WithinTx(ctx, func(tx GradeTx) error {
		if err := tx.SetQuizGrade(ctx, quiz.ID, newGrade); err != nil {
			return fmt.Errorf("set quiz grade: %w", err)
		}
		if err := tx.RescaleAttemptGrades(ctx, quiz.ID, factor); err != nil {
			return fmt.Errorf("rescale attempts: %w", err)
		}
		rescaled, err := tx.RescaleGrades(ctx, quiz.ID, factor)
		if err != nil {
			return fmt.Errorf("rescale grades: %w", err)
		}
		users = rescaled
		return nil
	})
	if err != nil {
		return err
	}

	entries := make([]model.GradebookEntry, len(users))
	for i, u := range users {
		entries[i] = model.GradebookEntry{QuizID: quiz.ID, UserID: u}
	}
	return g.push(ctx, entries)
}

// UserGrade returns the caller's stored quiz grade, or nil when none exists.
func (g *GradeEngine) UserGrade(ctx context.Context, quizID, userID int64) (*float64, error) {
	grades, err := g.grades.Grades(ctx, quizID, []int64{userID})
	if err != nil {
		return nil, fmt.Errorf("load grades: %w", err)
	}
	v, ok := grades[userID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}
