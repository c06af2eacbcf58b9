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

// ManageHandler exposes the instructor operations: listings, grading and regrades.
type ManageHandler struct {
	base
	attempts *service.AttemptService
	grades   *service.GradeEngine
}

// NewManageHandler creates a new ManageHandler.
func NewManageHandler(attempts *service.AttemptService, grades *service.GradeEngine, log zerolog.Logger) *ManageHandler {
	return &ManageHandler{
		base:     base{log: log.With().Str("component", "manage_handler").Logger()},
		attempts: attempts,
		grades:   grades,
	}
}

// ListAttempts godoc
// GET /api/v1/manage/quizzes/:quiz_id/attempts?group_id=&filter=all|open|closed
func (h *ManageHandler) ListAttempts(c *gin.Context) {
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	var q model.ListAttemptsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempts, err := h.attempts.ListAttempts(c.Request.Context(), quizID, q.GroupID, model.AttemptFilter(q.Filter))
	if err != nil {
		h.failWithError(c, "list attempts", err)
		return
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// ManualGrade godoc
// PUT /api/v1/manage/quizzes/:quiz_id/attempts/:attempt_id/slots/:slot/grade
func (h *ManageHandler) ManualGrade(c *gin.Context) {
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
	slot, ok := h.paramSlot(c)
	if !ok {
		return
	}

	var req model.ManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.ManualGrade(c.Request.Context(), quizID, attemptID, slot, *req.Mark, req.Comment, claims.UserID)
	if err != nil {
		h.failWithError(c, "manual grade", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// RegradeAttempt godoc
// POST /api/v1/manage/quizzes/:quiz_id/attempts/:attempt_id/regrade
func (h *ManageHandler) RegradeAttempt(c *gin.Context) {
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}
	attemptID, ok := h.paramID(c, "attempt_id")
	if !ok {
		return
	}

	attempt, err := h.grades.RegradeAttempt(c.Request.Context(), quizID, attemptID)
	if err != nil {
		h.failWithError(c, "regrade attempt", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// RegradeQuiz godoc
// POST /api/v1/manage/quizzes/:quiz_id/regrade
// Recomputes every group's grade, optionally re-marking each finished attempt first.
func (h *ManageHandler) RegradeQuiz(c *gin.Context) {
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	var req model.RegradeQuizRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	summary, err := h.grades.RegradeQuiz(c.Request.Context(), quizID, req.RegradeAttempts)
	if err != nil {
		h.failWithError(c, "regrade quiz", err)
		return
	}
	response.Success(c, http.StatusOK, summary)
}

// SetMaxGrade godoc
// PUT /api/v1/manage/quizzes/:quiz_id/grade
func (h *ManageHandler) SetMaxGrade(c *gin.Context) {
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	var req model.SetGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.grades.SetMaxGrade(c.Request.Context(), quizID, req.Grade); err != nil {
		h.failWithError(c, "set max grade", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"grade": req.Grade})
}

// Abandon godoc
// POST /api/v1/manage/quizzes/:quiz_id/attempts/:attempt_id/abandon
func (h *ManageHandler) Abandon(c *gin.Context) {
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

	attempt, err := h.attempts.Abandon(c.Request.Context(), quizID, attemptID, claims.UserID)
	if err != nil {
		h.failWithError(c, "abandon", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}
