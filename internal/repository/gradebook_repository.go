package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// GradebookRepository mirrors stored quiz grades into the course gradebook.
type GradebookRepository struct {
	pool *pgxpool.Pool
}

// NewGradebookRepository creates a new GradebookRepository.
func NewGradebookRepository(pool *pgxpool.Pool) *GradebookRepository {
	return &GradebookRepository{pool: pool}
}

// SyncGrades copies the current group_quiz_grades value of each entry into the
// gradebook. A member without a stored grade gets a NULL raw grade.
func (r *GradebookRepository) SyncGrades(ctx context.Context, entries []model.GradebookEntry) error {
	n := len(entries)
	quizIDs := make([]int64, n)
	userIDs := make([]int64, n)
	for i, e := range entries {
		quizIDs[i] = e.QuizID
		userIDs[i] = e.UserID
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO gradebook_grades (quiz_id, user_id, raw_grade, updated_at)
		 SELECT DISTINCT ON (u.quiz_id, u.user_id) u.quiz_id, u.user_id, g.grade, NOW()
		 FROM UNNEST($1::bigint[], $2::bigint[]) AS u (quiz_id, user_id)
		 LEFT JOIN group_quiz_grades g ON g.quiz_id = u.quiz_id AND g.user_id = u.user_id
		 ON CONFLICT (quiz_id, user_id)
		 DO UPDATE SET raw_grade = EXCLUDED.raw_grade, updated_at = EXCLUDED.updated_at`,
		quizIDs, userIDs)
	if err != nil {
		return model.Storage("sync gradebook", err)
	}
	return nil
}
