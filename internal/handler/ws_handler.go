package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stemsi/groupquiz-backend/internal/response"
	"github.com/stemsi/groupquiz-backend/internal/service"
	"github.com/stemsi/groupquiz-backend/internal/validator"
	ws "github.com/stemsi/groupquiz-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler carries the poll, save and submit actions over one WebSocket so a
// member's browser does not need an HTTP round trip per poll.
type WSHandler struct {
	base
	attempts *service.AttemptService
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		base:     base{log: log.With().Str("component", "ws_handler").Logger()},
		attempts: attempts,
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/quizzes/:quiz_id/attempt/stream?token=...
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		return
	}
	quizID, ok := h.paramID(c, "quiz_id")
	if !ok {
		return
	}

	// The member must be able to reach an open attempt before the upgrade.
	ctx := c.Request.Context()
	if _, err := h.attempts.ResolveAndLoadOpenAttempt(ctx, quizID, claims.UserID); err != nil {
		h.failWithError(c, "ws resolve", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s := &wsSession{
		h:      h,
		conn:   conn,
		quizID: quizID,
		userID: claims.UserID,
		log: h.log.With().
			Int64("user_id", claims.UserID).
			Int64("quiz_id", quizID).
			Logger(),
	}
	s.log.Info().Msg("Member connected")
	s.run(ctx)
}

type wsSession struct {
	h      *WSHandler
	conn   *websocket.Conn
	quizID int64
	userID int64
	log    zerolog.Logger
}

func (s *wsSession) run(ctx context.Context) {
	for {
		action, raw, err := ws.ReadMessage(s.conn)
		if err != nil {
			if raw != nil {
				_ = ws.WriteError(s.conn, string(response.ErrInvalidPayload), "malformed JSON")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		var done bool
		switch action {
		case ws.ActionPoll:
			done = s.handlePoll(ctx, raw)
		case ws.ActionSave:
			done = s.handleSave(ctx, raw)
		case ws.ActionSubmit:
			done = s.handleSubmit(ctx)
		case ws.ActionPing:
			_ = ws.WriteTyped(s.conn, ws.PongResponse{Event: ws.EventPong})
		default:
			s.log.Warn().Str("action", string(action)).Msg("Unknown action")
			_ = ws.WriteError(s.conn, string(response.ErrInvalidPayload), "unknown action: "+string(action))
		}
		if done {
			return
		}
	}
}

// handlePoll returns true once the attempt is closed.
func (s *wsSession) handlePoll(ctx context.Context, raw []byte) bool {
	var req ws.PollRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = ws.WriteError(s.conn, string(response.ErrInvalidPayload), "invalid poll payload")
		return false
	}

	result, err := s.h.attempts.PollStatus(ctx, s.quizID, s.userID, req.Seen)
	if err != nil {
		s.writeServiceError("poll", err)
		return false
	}

	slots := make([]ws.SlotPayload, len(result.Slots))
	for i, u := range result.Slots {
		slots[i] = ws.SlotPayload{Slot: u.Slot, Sequence: u.Sequence, HTML: u.HTML}
	}
	_ = ws.WriteTyped(s.conn, ws.StatusResponse{
		Event:           ws.EventStatus,
		Status:          result.Status,
		AttemptID:       result.AttemptID,
		TimeLeftSeconds: result.TimeLeftSeconds,
		Slots:           slots,
		NextPollMillis:  result.NextPollMillis,
	})
	return result.Status == service.StatusAttemptClosed
}

func (s *wsSession) handleSave(ctx context.Context, raw []byte) bool {
	var req ws.SaveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = ws.WriteError(s.conn, string(response.ErrInvalidPayload), "invalid save payload")
		return false
	}
	if fields := validator.Struct(&req); fields != nil {
		_ = ws.WriteError(s.conn, string(response.ErrValidation), joinFields(fields))
		return false
	}

	result, err := s.h.attempts.SaveAnswer(ctx, s.quizID, s.userID, req.Slot, req.Answer)
	if err != nil {
		s.writeServiceError("save", err)
		return false
	}
	_ = ws.WriteTyped(s.conn, ws.SavedResponse{
		Event:     ws.EventSaved,
		Status:    result.Status,
		AttemptID: result.AttemptID,
		Slot:      result.Slot,
		Sequence:  result.Sequence,
	})
	return result.Status == service.StatusAttemptClosed
}

func (s *wsSession) handleSubmit(ctx context.Context) bool {
	a, err := s.h.attempts.SubmitAndClose(ctx, s.quizID, s.userID)
	if err != nil {
		s.writeServiceError("submit", err)
		return false
	}

	s.log.Info().Int64("attempt_id", a.ID).Msg("Attempt submitted")
	var sum *float64
	if a.State == model.AttemptStateFinished {
		sum = &a.SumGrades
	}
	_ = ws.WriteTyped(s.conn, ws.ClosedResponse{
		Event:     ws.EventClosed,
		AttemptID: a.ID,
		SumGrades: sum,
	})
	return true
}

func (s *wsSession) writeServiceError(op string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("op", op).Msg("WebSocket action failed")
	}
	_ = ws.WriteError(s.conn, string(code), response.GetMessage(code))
}

func joinFields(fields map[string]string) string {
	msgs := make([]string, 0, len(fields))
	for _, m := range fields {
		msgs = append(msgs, m)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}
