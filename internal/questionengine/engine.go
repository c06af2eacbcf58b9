// Package questionengine stores question usages in PostgreSQL: the per-slot answers,
// sequence counters and marks behind a group attempt, plus their HTML rendering.
package questionengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/model"
)

// Engine is the PostgreSQL-backed question engine.
type Engine struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New creates a new Engine.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Engine {
	return &Engine{
		pool: pool,
		log:  log.With().Str("component", "question_engine").Logger(),
	}
}

// slotRow is a question attempt joined with its question.
type slotRow struct {
	qa model.QuestionAttempt
	q  model.Question
}

const slotColumns = `qa.usage_id, qa.slot, qa.question_id, qa.max_mark, qa.sequence, qa.response,
	qa.mark, qa.manual, qa.comment, qa.state, qa.updated_at,
	q.qtype, q.question_text, q.options, q.correct_answer, q.default_mark`

func scanSlot(row pgx.Row) (*slotRow, error) {
	var r slotRow
	var comment *string
	err := row.Scan(
		&r.qa.UsageID, &r.qa.Slot, &r.qa.QuestionID, &r.qa.MaxMark, &r.qa.Sequence, &r.qa.Response,
		&r.qa.Mark, &r.qa.Manual, &comment, &r.qa.State, &r.qa.UpdatedAt,
		&r.q.QType, &r.q.QuestionText, &r.q.Options, &r.q.CorrectAnswer, &r.q.DefaultMark,
	)
	if err != nil {
		return nil, err
	}
	r.q.ID = r.qa.QuestionID
	if comment != nil {
		r.qa.Comment = *comment
	}
	return &r, nil
}

func (e *Engine) loadSlot(ctx context.Context, usageID uuid.UUID, slot int) (*slotRow, error) {
	r, err := scanSlot(e.pool.QueryRow(ctx,
		`SELECT `+slotColumns+`
		 FROM question_attempts qa
		 JOIN questions q ON q.id = qa.question_id
		 WHERE qa.usage_id = $1 AND qa.slot = $2`, usageID, slot))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrSlotNotInLayout
	}
	if err != nil {
		return nil, model.Storage("load slot", err)
	}
	return r, nil
}

func (e *Engine) loadSlots(ctx context.Context, usageID uuid.UUID) ([]*slotRow, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT `+slotColumns+`
		 FROM question_attempts qa
		 JOIN questions q ON q.id = qa.question_id
		 WHERE qa.usage_id = $1
		 ORDER BY qa.slot`, usageID)
	if err != nil {
		return nil, model.Storage("load slots", err)
	}
	defer rows.Close()

	var out []*slotRow
	for rows.Next() {
		r, err := scanSlot(rows)
		if err != nil {
			return nil, model.Storage("scan slot", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("load slots", err)
	}
	return out, nil
}

// StartUsage snapshots the questions into a new usage, one slot per question
// numbered from 1 in the given order.
func (e *Engine) StartUsage(ctx context.Context, questions []model.Question) (uuid.UUID, []int, error) {
	usageID := uuid.New()
	n := len(questions)
	slots := make([]int, n)
	questionIDs := make([]int64, n)
	maxMarks := make([]float64, n)
	for i, q := range questions {
		slots[i] = i + 1
		questionIDs[i] = q.ID
		maxMarks[i] = q.DefaultMark
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, nil, model.Storage("begin usage tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO question_usages (id) VALUES ($1)`, usageID); err != nil {
		return uuid.Nil, nil, model.Storage("insert usage", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO question_attempts (usage_id, slot, question_id, max_mark)
		 SELECT $1, u.slot, u.question_id, u.max_mark
		 FROM UNNEST($2::int[], $3::bigint[], $4::float8[]) AS u (slot, question_id, max_mark)`,
		usageID, slots, questionIDs, maxMarks)
	if err != nil {
		return uuid.Nil, nil, model.Storage("insert question attempts", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, nil, model.Storage("commit usage tx", err)
	}
	return usageID, slots, nil
}

// ProcessAnswer stores and auto-marks an answer. The sequence counter is bumped in
// the same statement, so concurrent saves on one slot each get a distinct value.
func (e *Engine) ProcessAnswer(ctx context.Context, usageID uuid.UUID, slot int, answer json.RawMessage) (int, error) {
	r, err := e.loadSlot(ctx, usageID, slot)
	if err != nil {
		return 0, err
	}
	if err := validateResponse(&r.q, answer); err != nil {
		return 0, err
	}
	mark, err := AutoMark(&r.q, answer, r.qa.MaxMark)
	if err != nil {
		return 0, err
	}

	var seq int
	err = e.pool.QueryRow(ctx,
		`UPDATE question_attempts
		 SET sequence = sequence + 1, response = $3, mark = $4, manual = FALSE,
		     state = $5, updated_at = NOW()
		 WHERE usage_id = $1 AND slot = $2 AND state <> $6
		 RETURNING sequence`,
		usageID, slot, answer, mark, model.QuestionStateComplete, model.QuestionStateFinished,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("slot %d already finished: %w", slot, model.ErrInvalidState)
	}
	if err != nil {
		return 0, model.Storage("save answer", err)
	}
	return seq, nil
}

// FinishAll finalises every unfinished slot of the usage.
func (e *Engine) FinishAll(ctx context.Context, usageID uuid.UUID) error {
	_, err := e.pool.Exec(ctx,
		`UPDATE question_attempts
		 SET state = $2, sequence = sequence + 1, updated_at = NOW()
		 WHERE usage_id = $1 AND state <> $2`,
		usageID, model.QuestionStateFinished)
	if err != nil {
		return model.Storage("finish usage", err)
	}
	return nil
}

// QuestionAttempts returns every slot of the usage in slot order.
func (e *Engine) QuestionAttempts(ctx context.Context, usageID uuid.UUID) ([]model.QuestionAttempt, error) {
	rows, err := e.loadSlots(ctx, usageID)
	if err != nil {
		return nil, err
	}
	out := make([]model.QuestionAttempt, len(rows))
	for i, r := range rows {
		out[i] = r.qa
	}
	return out, nil
}

// Sequences returns the sequence counter of each slot.
func (e *Engine) Sequences(ctx context.Context, usageID uuid.UUID) (map[int]int, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT slot, sequence FROM question_attempts WHERE usage_id = $1`, usageID)
	if err != nil {
		return nil, model.Storage("load sequences", err)
	}
	defer rows.Close()

	seqs := map[int]int{}
	for rows.Next() {
		var slot, seq int
		if err := rows.Scan(&slot, &seq); err != nil {
			return nil, model.Storage("scan sequence", err)
		}
		seqs[slot] = seq
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("load sequences", err)
	}
	return seqs, nil
}

// RegradeAll re-marks every automatically graded slot against the current question
// data. Manually graded slots keep their mark.
func (e *Engine) RegradeAll(ctx context.Context, usageID uuid.UUID) error {
	rows, err := e.loadSlots(ctx, usageID)
	if err != nil {
		return err
	}

	var slots []int
	var marks []*float64
	for _, r := range rows {
		if r.qa.Manual {
			continue
		}
		mark, err := AutoMark(&r.q, r.qa.Response, r.qa.MaxMark)
		if err != nil {
			e.log.Warn().Err(err).Str("usage_id", usageID.String()).Int("slot", r.qa.Slot).Msg("Regrade skipped slot")
			continue
		}
		slots = append(slots, r.qa.Slot)
		marks = append(marks, mark)
	}
	if len(slots) == 0 {
		return nil
	}

	_, err = e.pool.Exec(ctx,
		`UPDATE question_attempts AS qa
		 SET mark = u.mark, updated_at = NOW()
		 FROM UNNEST($2::int[], $3::float8[]) AS u (slot, mark)
		 WHERE qa.usage_id = $1 AND qa.slot = u.slot`,
		usageID, slots, marks)
	if err != nil {
		return model.Storage("regrade usage", err)
	}
	return nil
}

// ManualGrade overrides a slot's mark. The mark must lie within [0, max mark].
func (e *Engine) ManualGrade(ctx context.Context, usageID uuid.UUID, slot int, mark float64, comment string) error {
	r, err := e.loadSlot(ctx, usageID, slot)
	if err != nil {
		return err
	}
	if mark < 0 || mark > r.qa.MaxMark {
		return fmt.Errorf("mark %.2f for slot %d (max %.2f): %w", mark, slot, r.qa.MaxMark, model.ErrMarkOutOfRange)
	}

	_, err = e.pool.Exec(ctx,
		`UPDATE question_attempts
		 SET mark = $3, comment = $4, manual = TRUE, sequence = sequence + 1, updated_at = NOW()
		 WHERE usage_id = $1 AND slot = $2`,
		usageID, slot, mark, comment)
	if err != nil {
		return model.Storage("manual grade", err)
	}
	return nil
}

// Render returns the HTML fragment of one slot.
func (e *Engine) Render(ctx context.Context, usageID uuid.UUID, slot int, opts model.DisplayOptions) (string, error) {
	r, err := e.loadSlot(ctx, usageID, slot)
	if err != nil {
		return "", err
	}
	return renderSlot(&r.q, &r.qa, opts)
}
