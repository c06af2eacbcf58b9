package questionengine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stemsi/groupquiz-backend/internal/model"
)

// Option is one choice of a multichoice question.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// parseOptions decodes the options column. An empty column means no options.
func parseOptions(raw json.RawMessage) ([]Option, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var opts []Option
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

// decodeResponse reads a stored or submitted answer. Every supported question type
// answers with a JSON string.
func decodeResponse(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: expected a JSON string", model.ErrInvalidAnswer)
	}
	return s, nil
}

// validateResponse checks an answer against the question before it is stored.
func validateResponse(q *model.Question, raw json.RawMessage) error {
	given, err := decodeResponse(raw)
	if err != nil {
		return err
	}
	if q.QType != model.QuestionTypeMultiChoice || given == "" {
		return nil
	}
	opts, err := parseOptions(q.Options)
	if err != nil {
		return err
	}
	for _, o := range opts {
		if o.Key == given {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown option %q", model.ErrInvalidAnswer, given)
}

// AutoMark marks an answer. It returns nil when the question needs a human grader or
// nothing was answered.
func AutoMark(q *model.Question, raw json.RawMessage, maxMark float64) (*float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	given, err := decodeResponse(raw)
	if err != nil {
		return nil, err
	}

	var right bool
	switch q.QType {
	case model.QuestionTypeMultiChoice:
		right = given == q.CorrectAnswer
	case model.QuestionTypeShortAnswer:
		right = strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(q.CorrectAnswer))
	case model.QuestionTypeEssay:
		return nil, nil
	default:
		return nil, fmt.Errorf("question %d: unsupported type %q", q.ID, q.QType)
	}

	mark := 0.0
	if right {
		mark = maxMark
	}
	return &mark, nil
}
