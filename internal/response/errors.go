package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrInstructorOnly     ErrCode = "INSTRUCTOR_ACCESS_ONLY"
	ErrReviewNotAllowed   ErrCode = "REVIEW_NOT_ALLOWED"
	ErrGroupNotResolvable ErrCode = "GROUP_NOT_RESOLVABLE"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrMarkOutOfRange ErrCode = "MARK_OUT_OF_RANGE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrQuizNotFound    ErrCode = "QUIZ_NOT_FOUND"
	ErrAttemptNotFound ErrCode = "ATTEMPT_NOT_FOUND"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrAttemptConflict   ErrCode = "ATTEMPT_ALREADY_OPEN"
	ErrInvalidState      ErrCode = "INVALID_ATTEMPT_STATE"
	ErrSlotNotInLayout   ErrCode = "SLOT_NOT_IN_ATTEMPT"
	ErrQuizNotOpen       ErrCode = "QUIZ_NOT_OPEN"
	ErrQuizClosed        ErrCode = "QUIZ_CLOSED"
	ErrNoQuestions       ErrCode = "NO_QUESTIONS"
	ErrInvalidGradeSetup ErrCode = "INVALID_GRADING_METHOD"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrStorage  ErrCode = "STORAGE_ERROR"
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrInstructorOnly:
		return "This resource is restricted to instructors."
	case ErrReviewNotAllowed:
		return "This attempt cannot be reviewed right now."
	case ErrGroupNotResolvable:
		return "You must belong to exactly one group of this quiz's grouping."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrMarkOutOfRange:
		return "The mark must be between zero and the question's maximum mark."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrQuizNotFound:
		return "Quiz not found."
	case ErrAttemptNotFound:
		return "Attempt not found."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrAttemptConflict:
		return "Your group already has an open attempt."
	case ErrInvalidState:
		return "This action is not allowed in the attempt's current state."
	case ErrSlotNotInLayout:
		return "The question slot is not part of this attempt."
	case ErrQuizNotOpen:
		return "This quiz is not open yet."
	case ErrQuizClosed:
		return "This quiz is closed."
	case ErrNoQuestions:
		return "This quiz has no questions."
	case ErrInvalidGradeSetup:
		return "The quiz grading method is invalid."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrStorage:
		return "A storage error occurred. Please retry."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
