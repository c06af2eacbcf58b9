package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// QuizRepository handles quiz configuration data access.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// GetQuiz retrieves a quiz with its review settings.
func (r *QuizRepository) GetQuiz(ctx context.Context, id int64) (*model.QuizDefinition, error) {
	q := &model.QuizDefinition{}
	var method int
	var limitSeconds int64
	var groupingID *int64
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, name, grade, grade_method, time_open, time_close,
		        time_limit_seconds, grouping_id,
		        review_attempt, review_correctness, review_marks, review_specific_feedback,
		        review_general_feedback, review_right_answer, review_overall_feedback,
		        review_manual_comment
		 FROM quizzes WHERE id = $1`, id,
	).Scan(
		&q.ID, &q.CourseID, &q.Name, &q.Grade, &method, &q.TimeOpen, &q.TimeClose,
		&limitSeconds, &groupingID,
		&q.Review.Attempt, &q.Review.Correctness, &q.Review.Marks, &q.Review.SpecificFeedback,
		&q.Review.GeneralFeedback, &q.Review.RightAnswer, &q.Review.OverallFeedback,
		&q.Review.ManualComment,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrQuizNotFound
	}
	if err != nil {
		return nil, model.Storage("get quiz", err)
	}

	q.GradeMethod = model.GradingMethod(method)
	q.TimeLimit = time.Duration(limitSeconds) * time.Second
	if groupingID != nil {
		q.GroupingID = *groupingID
	}
	return q, nil
}

// Questions retrieves the quiz's questions in slot order.
func (r *QuizRepository) Questions(ctx context.Context, quizID int64) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.qtype, q.question_text, q.options, q.correct_answer, q.default_mark
		 FROM quiz_slots s
		 JOIN questions q ON q.id = s.question_id
		 WHERE s.quiz_id = $1
		 ORDER BY s.order_num`, quizID,
	)
	if err != nil {
		return nil, model.Storage("list questions", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.QType, &q.QuestionText, &q.Options, &q.CorrectAnswer, &q.DefaultMark); err != nil {
			return nil, model.Storage("scan question", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("list questions", err)
	}
	return questions, nil
}
