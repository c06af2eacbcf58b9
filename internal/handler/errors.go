package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/response"
)

// errorMapping pairs a domain error with its HTTP status and API code.
type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{model.ErrAmbiguousOrMissingGroup, http.StatusForbidden, response.ErrGroupNotResolvable},
	{model.ErrReviewNotAllowed, http.StatusForbidden, response.ErrReviewNotAllowed},
	{model.ErrQuizNotFound, http.StatusNotFound, response.ErrQuizNotFound},
	{model.ErrAttemptNotFound, http.StatusNotFound, response.ErrAttemptNotFound},
	{model.ErrNoOpenAttemptSlot, http.StatusConflict, response.ErrAttemptConflict},
	{model.ErrInvalidState, http.StatusConflict, response.ErrInvalidState},
	{model.ErrSlotNotInLayout, http.StatusBadRequest, response.ErrSlotNotInLayout},
	{model.ErrQuizNotOpen, http.StatusConflict, response.ErrQuizNotOpen},
	{model.ErrQuizClosed, http.StatusConflict, response.ErrQuizClosed},
	{model.ErrNoQuestions, http.StatusConflict, response.ErrNoQuestions},
	{model.ErrMarkOutOfRange, http.StatusBadRequest, response.ErrMarkOutOfRange},
	{model.ErrInvalidAnswer, http.StatusBadRequest, response.ErrInvalidPayload},
	{model.ErrInvalidGradingMethod, http.StatusUnprocessableEntity, response.ErrInvalidGradeSetup},
	{model.ErrStorage, http.StatusServiceUnavailable, response.ErrStorage},
}

// classifyError maps a service error onto a status and code. Unknown errors are internal.
func classifyError(err error) (int, response.ErrCode) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWithError writes the envelope for err, logging anything that is not a domain error.
func (b *base) failWithError(c *gin.Context, op string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		b.log.Error().
			Err(err).
			Str("op", op).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
