package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/middleware"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/response"
	"github.com/stemsi/groupquiz-backend/internal/service"
	"github.com/stemsi/groupquiz-backend/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"no group", fmt.Errorf("resolve: %w", model.ErrAmbiguousOrMissingGroup), http.StatusForbidden, response.ErrGroupNotResolvable},
		{"open slot race", model.ErrNoOpenAttemptSlot, http.StatusConflict, response.ErrAttemptConflict},
		{"closed attempt", fmt.Errorf("save: %w", model.ErrInvalidState), http.StatusConflict, response.ErrInvalidState},
		{"missing attempt", model.ErrAttemptNotFound, http.StatusNotFound, response.ErrAttemptNotFound},
		{"bad slot", model.ErrSlotNotInLayout, http.StatusBadRequest, response.ErrSlotNotInLayout},
		{"bad answer", model.ErrInvalidAnswer, http.StatusBadRequest, response.ErrInvalidPayload},
		{"review window", model.ErrReviewNotAllowed, http.StatusForbidden, response.ErrReviewNotAllowed},
		{"bad method", model.ErrInvalidGradingMethod, http.StatusUnprocessableEntity, response.ErrInvalidGradeSetup},
		{"storage", model.Storage("insert attempt", errors.New("conn reset")), http.StatusServiceUnavailable, response.ErrStorage},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classifyError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestJoinFields_Sorted(t *testing.T) {
	got := joinFields(map[string]string{"slot": "slot is required", "answer": "answer is required"})
	assert.Equal(t, "answer is required; slot is required", got)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

// withClaims stands in for RequireJWT.
func withClaims(userID int64, role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: userID, Role: role})
		c.Next()
	}
}

func TestAttemptHandler_RejectsBeforeService(t *testing.T) {
	h := NewAttemptHandler(nil, zerolog.Nop())

	tests := []struct {
		name   string
		authed bool
		path   string
		status int
		code   response.ErrCode
	}{
		{"missing claims", false, "/quizzes/7/attempt", http.StatusUnauthorized, response.ErrTokenRequired},
		{"non numeric quiz", true, "/quizzes/abc/attempt", http.StatusBadRequest, response.ErrInvalidID},
		{"zero quiz", true, "/quizzes/0/attempt", http.StatusBadRequest, response.ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			chain := []gin.HandlerFunc{}
			if tt.authed {
				chain = append(chain, withClaims(3, model.RoleStudent))
			}
			r.GET("/quizzes/:quiz_id/attempt", append(chain, h.GetCurrent)...)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w))
		})
	}
}

func TestManageHandler_ManualGradeValidation(t *testing.T) {
	h := NewManageHandler(nil, nil, zerolog.Nop())
	r := gin.New()
	r.PUT("/quizzes/:quiz_id/attempts/:attempt_id/slots/:slot/grade",
		withClaims(9, model.RoleInstructor), h.ManualGrade)

	t.Run("bad slot", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/quizzes/1/attempts/2/slots/x/grade", strings.NewReader(`{"mark":1}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, response.ErrInvalidID, decodeError(t, w))
	})

	t.Run("mark required", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/quizzes/1/attempts/2/slots/1/grade", strings.NewReader(`{"comment":"ok"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body response.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.NotNil(t, body.Error)
		assert.Equal(t, response.ErrValidation, body.Error.Code)
		assert.Contains(t, body.Error.Fields, "mark")
	})
}
