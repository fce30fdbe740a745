package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// QuestionType identifies how a question is answered and graded.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionIdentification QuestionType = "IDENTIFICATION"
	QuestionShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionEssay          QuestionType = "ESSAY"
)

// ParseQuestionType validates a raw question type name.
func ParseQuestionType(s string) (QuestionType, error) {
	switch t := QuestionType(s); t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionIdentification, QuestionShortAnswer, QuestionEssay:
		return t, nil
	}
	return "", fmt.Errorf("unknown question type %q", s)
}

// IsChoice reports whether the question is answered by picking an option.
func (t QuestionType) IsChoice() bool {
	return t == QuestionMultipleChoice || t == QuestionTrueFalse
}

// IsFreeText reports whether the question is graded against CorrectAnswer.
func (t QuestionType) IsFreeText() bool {
	return t == QuestionIdentification || t == QuestionShortAnswer
}

// NeedsManualGrading reports whether a teacher must score the answer.
func (t QuestionType) NeedsManualGrading() bool {
	return t == QuestionEssay
}

// Option is one choice of a multiple-choice or true/false question.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct,omitempty" yaml:"correct"`
}

// Options is an ordered option list persisted as a JSON column.
type Options []Option

// Correct returns the first option flagged correct.
func (o Options) Correct() (Option, bool) {
	for _, opt := range o {
		if opt.Correct {
			return opt, true
		}
	}
	return Option{}, false
}

// Public returns a copy with correctness flags cleared.
func (o Options) Public() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for i, opt := range o {
		out[i] = Option{ID: opt.ID, Text: opt.Text}
	}
	return out
}

func (o Options) Value() (driver.Value, error) {
	return jsonValue(o)
}

func (o *Options) Scan(src any) error {
	return jsonScan(src, o)
}

// Tags is a free-form label list persisted as a JSON column.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	return jsonValue(t)
}

func (t *Tags) Scan(src any) error {
	return jsonScan(src, t)
}

// Question is a bank item owned by a subject.
type Question struct {
	ID            string       `db:"id" json:"id"`
	TenantID      string       `db:"tenant_id" json:"tenant_id"`
	SubjectID     string       `db:"subject_id" json:"subject_id"`
	Type          QuestionType `db:"type" json:"type"`
	Content       string       `db:"content" json:"content"`
	CorrectAnswer *string      `db:"correct_answer" json:"correct_answer,omitempty"`
	Options       Options      `db:"options" json:"options,omitempty"`
	Points        float64      `db:"points" json:"points"`
	Tags          Tags         `db:"tags" json:"tags,omitempty"`
	UsageCount    int          `db:"usage_count" json:"usage_count"`
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src, dst any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
