package model

import (
	"errors"
	"fmt"
)

var (
	ErrAmbiguousOrMissingGroup = errors.New("user must belong to exactly one group of the quiz grouping")
	ErrNoOpenAttemptSlot       = errors.New("an open attempt already exists for this group")
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrInvalidState            = errors.New("operation not allowed in the current attempt state")
	ErrStorage                 = errors.New("storage failure")
	ErrInvalidGradingMethod    = errors.New("invalid grading method")
	ErrNoGrades                = errors.New("no grades to aggregate")

	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuizNotOpen      = errors.New("quiz is not open yet")
	ErrQuizClosed       = errors.New("quiz is closed")
	ErrNoQuestions      = errors.New("quiz has no questions")
	ErrSlotNotInLayout  = errors.New("slot is not part of the attempt")
	ErrReviewNotAllowed = errors.New("review is not allowed at this time")
	ErrMarkOutOfRange   = errors.New("mark is outside the allowed range")
	ErrInvalidAnswer    = errors.New("answer does not fit the question type")
)

// StorageError wraps a failure of the underlying store.
// errors.Is(err, ErrStorage) holds for any *StorageError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Storage wraps err as a *StorageError. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
