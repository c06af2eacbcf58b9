package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/service"
)

// GradeRepository stores per-member quiz grades.
type GradeRepository struct {
	pool *pgxpool.Pool
}

// NewGradeRepository creates a new GradeRepository.
func NewGradeRepository(pool *pgxpool.Pool) *GradeRepository {
	return &GradeRepository{pool: pool}
}

// WithinTx runs fn inside a transaction, committing only when fn succeeds.
func (r *GradeRepository) WithinTx(ctx context.Context, fn func(tx service.GradeTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Storage("begin grade tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&gradeTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Storage("commit grade tx", err)
	}
	return nil
}

// Grades returns the stored grades of the given users.
func (r *GradeRepository) Grades(ctx context.Context, quizID int64, userIDs []int64) (map[int64]float64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, grade FROM group_quiz_grades
		 WHERE quiz_id = $1 AND user_id = ANY($2)`, quizID, userIDs)
	if err != nil {
		return nil, model.Storage("load grades", err)
	}
	defer rows.Close()

	grades := make(map[int64]float64, len(userIDs))
	for rows.Next() {
		var userID int64
		var grade float64
		if err := rows.Scan(&userID, &grade); err != nil {
			return nil, model.Storage("scan grade", err)
		}
		grades[userID] = grade
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("load grades", err)
	}
	return grades, nil
}

type gradeTx struct {
	tx pgx.Tx
}

func (t *gradeTx) LockGroup(ctx context.Context, quizID, groupID int64) error {
	_, err := t.tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('group_grade:' || $1::text || ':' || $2::text, 0))`,
		quizID, groupID)
	if err != nil {
		return model.Storage("lock group grades", err)
	}
	return nil
}

func (t *gradeTx) UpsertGrades(ctx context.Context, grades []model.UserGrade) error {
	n := len(grades)
	quizIDs := make([]int64, n)
	userIDs := make([]int64, n)
	values := make([]float64, n)
	for i, g := range grades {
		quizIDs[i] = g.QuizID
		userIDs[i] = g.UserID
		values[i] = g.Grade
	}
	modified := grades[0].TimeModified

	_, err := t.tx.Exec(ctx,
		`INSERT INTO group_quiz_grades (quiz_id, user_id, grade, time_modified)
		 SELECT u.quiz_id, u.user_id, u.grade, $4
		 FROM UNNEST($1::bigint[], $2::bigint[], $3::float8[]) AS u (quiz_id, user_id, grade)
		 ON CONFLICT (quiz_id, user_id)
		 DO UPDATE SET grade = EXCLUDED.grade, time_modified = EXCLUDED.time_modified`,
		quizIDs, userIDs, values, modified)
	if err != nil {
		return model.Storage("upsert grades", err)
	}
	return nil
}

func (t *gradeTx) DeleteGrades(ctx context.Context, quizID int64, userIDs []int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM group_quiz_grades WHERE quiz_id = $1 AND user_id = ANY($2)`, quizID, userIDs)
	if err != nil {
		return model.Storage("delete grades", err)
	}
	return nil
}

func (t *gradeTx) RescaleGrades(ctx context.Context, quizID int64, factor float64) ([]int64, error) {
	rows, err := t.tx.Query(ctx,
		`UPDATE group_quiz_grades
		 SET grade = grade * $2, time_modified = NOW()
		 WHERE quiz_id = $1
		 RETURNING user_id`, quizID, factor)
	if err != nil {
		return nil, model.Storage("rescale grades", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, model.Storage("rescale grades", err)
	}
	return users, nil
}

func (t *gradeTx) RescaleAttemptGrades(ctx context.Context, quizID int64, factor float64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE group_attempts SET sum_grades = sum_grades * $2 WHERE quiz_id = $1`, quizID, factor)
	if err != nil {
		return model.Storage("rescale attempt grades", err)
	}
	return nil
}

func (t *gradeTx) SetQuizGrade(ctx context.Context, quizID int64, grade float64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE quizzes SET grade = $2 WHERE id = $1`, quizID, grade)
	if err != nil {
		return model.Storage("set quiz grade", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set grade of quiz %d: %w", quizID, model.ErrQuizNotFound)
	}
	return nil
}
