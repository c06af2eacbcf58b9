package questionengine

import (
	"bytes"
	"html/template"
	"strconv"

	"github.com/stemsi/groupquiz-backend/internal/model"
)

var slotTemplate = template.Must(template.New("slot").Parse(`<div class="que {{.QType}}" id="q{{.Slot}}" data-sequence="{{.Sequence}}">
<div class="info"><span class="qno">Question {{.Slot}}</span>{{if .MarkLine}} <span class="grade">{{.MarkLine}}</span>{{end}}</div>
<div class="qtext">{{.Text}}</div>
{{- if .Options}}
<ul class="answer">
{{- range .Options}}
<li><label><input type="radio" name="q{{$.Slot}}" value="{{.Key}}"{{if .Selected}} checked{{end}}{{if $.ReadOnly}} disabled{{end}}> {{.Text}}</label>{{if .Correct}} <span class="correct">&#10003;</span>{{end}}</li>
{{- end}}
</ul>
{{- else}}
{{if $.ReadOnly}}<div class="response">{{.Response}}</div>{{else}}<textarea name="q{{.Slot}}">{{.Response}}</textarea>{{end}}
{{- end}}
{{- if .Outcome}}
<div class="outcome {{.Outcome}}">{{.Outcome}}</div>
{{- end}}
{{- if .RightAnswer}}
<div class="rightanswer">The correct answer is: {{.RightAnswer}}</div>
{{- end}}
{{- if .Comment}}
<div class="comment">{{.Comment}}</div>
{{- end}}
</div>`))

type renderOption struct {
	Key      string
	Text     string
	Selected bool
	Correct  bool
}

type renderData struct {
	QType       model.QuestionType
	Slot        int
	Sequence    int
	Text        string
	MarkLine    string
	Options     []renderOption
	Response    string
	ReadOnly    bool
	Outcome     string
	RightAnswer string
	Comment     string
}

// renderSlot turns one question attempt into an HTML fragment honouring opts.
func renderSlot(q *model.Question, qa *model.QuestionAttempt, opts model.DisplayOptions) (string, error) {
	given := ""
	if len(qa.Response) > 0 {
		given, _ = decodeResponse(qa.Response)
	}

	d := renderData{
		QType:    q.QType,
		Slot:     qa.Slot,
		Sequence: qa.Sequence,
		Text:     q.QuestionText,
		Response: given,
		ReadOnly: opts.ReadOnly || qa.State == model.QuestionStateFinished,
	}

	maxMark := strconv.FormatFloat(qa.MaxMark, 'f', -1, 64)
	switch opts.Marks {
	case model.MarksMaxOnly:
		d.MarkLine = "Marked out of " + maxMark
	case model.MarksMarkAndMax:
		if qa.Mark != nil {
			d.MarkLine = "Mark " + strconv.FormatFloat(*qa.Mark, 'f', 2, 64) + " out of " + maxMark
		} else {
			d.MarkLine = "Not yet graded, marked out of " + maxMark
		}
	}

	options, err := parseOptions(q.Options)
	if err != nil {
		return "", err
	}
	showRight := opts.RightAnswer != model.Hidden
	for _, o := range options {
		d.Options = append(d.Options, renderOption{
			Key:      o.Key,
			Text:     o.Text,
			Selected: o.Key == given,
			Correct:  showRight && o.Key == q.CorrectAnswer,
		})
	}

	if opts.Correctness != model.Hidden && qa.Mark != nil {
		switch {
		case *qa.Mark >= qa.MaxMark && qa.MaxMark > 0:
			d.Outcome = "correct"
		case *qa.Mark > 0:
			d.Outcome = "partiallycorrect"
		default:
			d.Outcome = "incorrect"
		}
	}
	if showRight && q.QType == model.QuestionTypeShortAnswer {
		d.RightAnswer = q.CorrectAnswer
	}
	if opts.ManualComment != model.Hidden {
		d.Comment = qa.Comment
	}

	var buf bytes.Buffer
	if err := slotTemplate.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}
