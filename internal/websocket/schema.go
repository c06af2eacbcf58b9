package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPoll   Action = "poll"
	ActionSave   Action = "save"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// PollRequest carries the last sequence the client rendered for each slot.
type PollRequest struct {
	Action Action      `json:"action"`
	Seen   map[int]int `json:"seen"`
}

// SaveRequest saves one slot's answer.
type SaveRequest struct {
	Action Action          `json:"action"`
	Slot   int             `json:"slot" binding:"required,min=1"`
	Answer json.RawMessage `json:"answer" binding:"required"`
}

// SubmitRequest finishes the group attempt.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventStatus Event = "status"
	EventSaved  Event = "saved"
	EventClosed Event = "closed"
	EventPong   Event = "pong"
)

// SlotPayload is one changed slot.
type SlotPayload struct {
	Slot     int    `json:"slot"`
	Sequence int    `json:"sequence"`
	HTML     string `json:"html"`
}

// StatusResponse answers a poll.
type StatusResponse struct {
	Event           Event         `json:"event"`
	Status          string        `json:"status"`
	AttemptID       int64         `json:"attempt_id"`
	TimeLeftSeconds *int64        `json:"time_left,omitempty"`
	Slots           []SlotPayload `json:"slots"`
	NextPollMillis  int64         `json:"next_poll_ms"`
}

// SavedResponse acknowledges a save. Status is attemptclosed when the attempt
// expired before the answer could be stored.
type SavedResponse struct {
	Event     Event  `json:"event"`
	Status    string `json:"status"`
	AttemptID int64  `json:"attempt_id"`
	Slot      int    `json:"slot,omitempty"`
	Sequence  int    `json:"sequence,omitempty"`
}

// ClosedResponse is sent once the attempt is finished.
type ClosedResponse struct {
	Event     Event    `json:"event"`
	AttemptID int64    `json:"attempt_id"`
	SumGrades *float64 `json:"sumgrades"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
