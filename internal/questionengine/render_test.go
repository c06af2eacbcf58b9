package questionengine

import (
	"encoding/json"
	"testing"

	"github.com/stemsi/groupquiz-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSlot_DuringAttempt(t *testing.T) {
	q := multichoice()
	qa := &model.QuestionAttempt{
		Slot:     1,
		MaxMark:  2,
		Sequence: 3,
		Response: json.RawMessage(`"a"`),
		Mark:     ptr(0),
		State:    model.QuestionStateComplete,
	}

	html, err := renderSlot(q, qa, model.AttemptDisplayOptions())
	require.NoError(t, err)

	assert.Contains(t, html, `data-sequence="3"`)
	assert.Contains(t, html, "Marked out of 2")
	assert.Contains(t, html, `value="a" checked`)
	assert.NotContains(t, html, "disabled")
	assert.NotContains(t, html, "outcome", "correctness hidden while answering")
	assert.NotContains(t, html, "&#10003;")
}

func TestRenderSlot_InstructorReview(t *testing.T) {
	q := shortanswer()
	qa := &model.QuestionAttempt{
		Slot:     2,
		MaxMark:  5,
		Sequence: 4,
		Response: json.RawMessage(`"Lyon"`),
		Mark:     ptr(0),
		Comment:  "Check the map",
		State:    model.QuestionStateFinished,
	}
	opts := model.ReviewDisplayOptions(model.RoleInstructor, model.ReviewAfterClose, model.ReviewOptions{})

	html, err := renderSlot(q, qa, opts)
	require.NoError(t, err)

	assert.Contains(t, html, "Mark 0.00 out of 5")
	assert.Contains(t, html, `<div class="response">Lyon</div>`)
	assert.Contains(t, html, `outcome incorrect`)
	assert.Contains(t, html, "The correct answer is: Paris")
	assert.Contains(t, html, "Check the map")
}

func TestRenderSlot_EscapesResponse(t *testing.T) {
	qa := &model.QuestionAttempt{
		Slot:     1,
		MaxMark:  5,
		Response: json.RawMessage(`"<script>alert(1)</script>"`),
		State:    model.QuestionStateComplete,
	}

	html, err := renderSlot(shortanswer(), qa, model.AttemptDisplayOptions())
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}
