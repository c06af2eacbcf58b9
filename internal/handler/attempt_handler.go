package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/response"
	"github.com/stemsi/groupquiz-backend/internal/service"
	"github.com/stemsi/groupquiz-backend/internal/validator"
)

// AttemptHandler serves the group attempt to its members.
type AttemptHandler struct {
	base
	attempts *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		base:     base{log: log.With().Str("component", "attempt_handler").Logger()},
		attempts: attempts,
	}
}

// GetCurrent godoc
// GET /api/v1/quizzes/:quiz_id/attempt
// Returns the caller's group, the quiz open state and the open attempt if there is one.
func (h *AttemptHandler) GetCurrent(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	status, err := h.attempts.CurrentAttempt(c.Request.Context(), quizID, claims.UserID)
	if err != nil {
		h.failWithError(c, "current attempt", err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// StartOrContinue godoc
// POST /api/v1/quizzes/:quiz_id/attempt
// Joins the group's open attempt, creating it when none exists (idempotent).
func (h *AttemptHandler) StartOrContinue(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	status, err := h.attempts.StartOrContinueAttempt(c.Request.Context(), quizID, claims.UserID)
	if err != nil {
		h.failWithError(c, "start attempt", err)
		return
	}

	code := http.StatusOK
	if status.Created {
		code = http.StatusCreated
	}
	response.Success(c, code, status)
}

// SaveAnswer godoc
// PUT /api/v1/quizzes/:quiz_id/attempt/answers
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attempts.SaveAnswer(c.Request.Context(), quizID, claims.UserID, req.Slot, req.Answer)
	if err != nil {
		h.failWithError(c, "save answer", err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Poll godoc
// POST /api/v1/quizzes/:quiz_id/attempt/poll
// Returns the slots whose sequence moved past what the client reports having seen.
func (h *AttemptHandler) Poll(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	var req model.PollRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attempts.PollStatus(c.Request.Context(), quizID, claims.UserID, req.Seen)
	if err != nil {
		h.failWithError(c, "poll", err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Submit godoc
// POST /api/v1/quizzes/:quiz_id/attempt/submit
// Finishes the group's open attempt on behalf of every member.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	attempt, err := h.attempts.SubmitAndClose(c.Request.Context(), quizID, claims.UserID)
	if err != nil {
		h.failWithError(c, "submit", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ListOwn godoc
// GET /api/v1/quizzes/:quiz_id/attempts
func (h *AttemptHandler) ListOwn(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	own, err := h.attempts.ListOwnAttempts(c.Request.Context(), quizID, claims.UserID)
	if err != nil {
		h.failWithError(c, "list own attempts", err)
		return
	}
	if own.Attempts == nil {
		own.Attempts = []model.AttemptSummary{}
	}
	response.Success(c, http.StatusOK, own)
}

// Review godoc
// GET /api/v1/quizzes/:quiz_id/attempts/:attempt_id/review
// Students see what the quiz review settings allow for the current phase;
// instructors always get the full view.
func (h *AttemptHandler) Review(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}
	attemptID, ok := h.paramID(c, "attempt_id")
	if !ok {
		return
	}

	view, err := h.attempts.GetReviewView(c.Request.Context(), quizID, attemptID, claims.UserID, claims.Role)
	if err != nil {
		h.failWithError(c, "review", err)
		return
	}
	response.Success(c, http.StatusOK, view)
}
