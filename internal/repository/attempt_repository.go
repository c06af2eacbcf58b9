package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

const attemptColumns = `a.id, a.quiz_id, a.group_id, a.usage_id, a.state, a.layout,
	a.time_start, a.time_finish, a.time_modified, a.sum_grades, a.user_start, a.user_stop`

// openStates is the SQL list of states that count as open.
const openStates = `(0, 10)`

// AttemptRepository handles group attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool, log zerolog.Logger) *AttemptRepository {
	return &AttemptRepository{
		pool: pool,
		log:  log.With().Str("component", "attempt_repository").Logger(),
	}
}

func scanAttempt(row pgx.Row, a *model.GroupAttempt, extra ...any) error {
	var state int
	dest := append([]any{
		&a.ID, &a.QuizID, &a.GroupID, &a.UsageID, &state, &a.Layout,
		&a.TimeStart, &a.TimeFinish, &a.TimeModified, &a.SumGrades, &a.UserStart, &a.UserStop,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	a.State = model.AttemptState(state)
	return nil
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id int64) (*model.GroupAttempt, error) {
	a := &model.GroupAttempt{}
	err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM group_attempts a WHERE a.id = $1`, id), a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAttemptNotFound
	}
	if err != nil {
		return nil, model.Storage("get attempt", err)
	}
	return a, nil
}

// FindOpen returns the open attempt of a group. The partial unique index makes a
// second open row impossible; if one shows up anyway the most recently modified
// attempt is used and the rest are logged.
func (r *AttemptRepository) FindOpen(ctx context.Context, quizID, groupID int64) (*model.GroupAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM group_attempts a
		 WHERE a.quiz_id = $1 AND a.group_id = $2 AND a.state IN `+openStates+`
		 ORDER BY a.time_modified DESC, a.id DESC`, quizID, groupID)
	if err != nil {
		return nil, model.Storage("find open attempt", err)
	}
	defer rows.Close()

	var found *model.GroupAttempt
	var surplus []int64
	for rows.Next() {
		a := &model.GroupAttempt{}
		if err := scanAttempt(rows, a); err != nil {
			return nil, model.Storage("scan open attempt", err)
		}
		if found == nil {
			found = a
		} else {
			surplus = append(surplus, a.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("find open attempt", err)
	}
	if found == nil {
		return nil, model.ErrAttemptNotFound
	}
	if len(surplus) > 0 {
		r.log.Warn().
			Int64("quiz_id", quizID).
			Int64("group_id", groupID).
			Int64("using_attempt_id", found.ID).
			Ints64("surplus_attempt_ids", surplus).
			Msg("Several open attempts for one group")
	}
	return found, nil
}

// Save inserts a new attempt or updates an existing one by id.
func (r *AttemptRepository) Save(ctx context.Context, a *model.GroupAttempt) error {
	if a.ID == 0 {
		return r.create(ctx, a)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE group_attempts
		 SET state = $2, layout = $3, time_finish = $4, time_modified = $5,
		     sum_grades = $6, user_stop = $7
		 WHERE id = $1`,
		a.ID, int(a.State), a.Layout, a.TimeFinish, a.TimeModified, a.SumGrades, a.UserStop)
	if err != nil {
		return model.Storage("update attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAttemptNotFound
	}
	return nil
}

// create inserts a new attempt. Losing the race against another open attempt of the
// same group yields model.ErrNoOpenAttemptSlot.
func (r *AttemptRepository) create(ctx context.Context, a *model.GroupAttempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO group_attempts
		   (quiz_id, group_id, usage_id, state, layout, time_start, time_finish, time_modified, sum_grades, user_start, user_stop)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (quiz_id, group_id) WHERE state IN `+openStates+` DO NOTHING
		 RETURNING id`,
		a.QuizID, a.GroupID, a.UsageID, int(a.State), a.Layout,
		a.TimeStart, a.TimeFinish, a.TimeModified, a.SumGrades, a.UserStart, a.UserStop,
	).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNoOpenAttemptSlot
	}
	if err != nil {
		return model.Storage("insert attempt", err)
	}
	return nil
}

// Touch bumps time_modified of an open attempt. It never moves backwards.
func (r *AttemptRepository) Touch(ctx context.Context, id int64, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE group_attempts
		 SET time_modified = GREATEST(time_modified, $2)
		 WHERE id = $1 AND state IN `+openStates, id, now)
	if err != nil {
		return model.Storage("touch attempt", err)
	}
	return nil
}

// MarkFinished performs the open to finished transition if nobody else did.
func (r *AttemptRepository) MarkFinished(ctx context.Context, a *model.GroupAttempt) (bool, error) {
	return r.transition(ctx, "mark finished", a)
}

// MarkAbandoned performs the open to abandoned transition if nobody else did.
func (r *AttemptRepository) MarkAbandoned(ctx context.Context, a *model.GroupAttempt) (bool, error) {
	return r.transition(ctx, "mark abandoned", a)
}

func (r *AttemptRepository) transition(ctx context.Context, op string, a *model.GroupAttempt) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE group_attempts
		 SET state = $2, time_finish = $3, time_modified = $4, user_stop = $5
		 WHERE id = $1 AND state IN `+openStates,
		a.ID, int(a.State), a.TimeFinish, a.TimeModified, a.UserStop)
	if err != nil {
		return false, model.Storage(op, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSumGrades stores the scaled grade of an attempt.
func (r *AttemptRepository) UpdateSumGrades(ctx context.Context, id int64, sum float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE group_attempts SET sum_grades = $2 WHERE id = $1`, id, sum)
	if err != nil {
		return model.Storage("update sumgrades", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAttemptNotFound
	}
	return nil
}

// List retrieves attempts of a quiz with their group names, ordered by start time.
func (r *AttemptRepository) List(ctx context.Context, quizID, groupID int64, filter model.AttemptFilter) ([]model.AttemptSummary, error) {
	query := `SELECT ` + attemptColumns + `, g.name
		FROM group_attempts a
		JOIN course_groups g ON g.id = a.group_id
		WHERE a.quiz_id = $1`
	args := []any{quizID}

	if groupID != 0 {
		args = append(args, groupID)
		query += fmt.Sprintf(" AND a.group_id = $%d", len(args))
	}
	switch filter {
	case model.AttemptFilterOpen:
		query += " AND a.state IN " + openStates
	case model.AttemptFilterClosed:
		query += " AND a.state NOT IN " + openStates
	}
	query += " ORDER BY a.time_start, a.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, model.Storage("list attempts", err)
	}
	defer rows.Close()

	attempts := []model.AttemptSummary{}
	for rows.Next() {
		var s model.AttemptSummary
		if err := scanAttempt(rows, &s.GroupAttempt, &s.GroupName); err != nil {
			return nil, model.Storage("scan attempt", err)
		}
		attempts = append(attempts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("list attempts", err)
	}
	return attempts, nil
}

// ListFinished retrieves the finished attempts of a group in finishing order.
func (r *AttemptRepository) ListFinished(ctx context.Context, quizID, groupID int64) ([]model.GroupAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM group_attempts a
		 WHERE a.quiz_id = $1 AND a.group_id = $2 AND a.state = $3
		 ORDER BY a.time_finish, a.id`,
		quizID, groupID, int(model.AttemptStateFinished))
	if err != nil {
		return nil, model.Storage("list finished attempts", err)
	}
	defer rows.Close()

	var attempts []model.GroupAttempt
	for rows.Next() {
		var a model.GroupAttempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, model.Storage("scan attempt", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("list finished attempts", err)
	}
	return attempts, nil
}
