// Package grading scores objective answers against a question's answer key.
package grading

import (
	"strings"

	"github.com/pavelanni/examhall/internal/model"
)

// Result is the outcome of scoring one answer. MaxScore is always 1;
// callers scale by the item's points.
type Result struct {
	Score    float64
	MaxScore float64
}

// Earned returns the points earned for an item worth points.
func (r Result) Earned(points float64) float64 {
	return r.Score * points
}

var (
	correct   = Result{Score: 1, MaxScore: 1}
	incorrect = Result{Score: 0, MaxScore: 1}
)

// GradeObjectiveAnswer scores a student's raw answer. It never fails: a
// missing answer key or an unknown type scores zero. Essays always score
// zero here and are graded by a teacher.
func GradeObjectiveAnswer(qtype model.QuestionType, correctAnswer *string, options model.Options, studentAnswer string) Result {
	answer := strings.TrimSpace(studentAnswer)

	switch qtype {
	case model.QuestionMultipleChoice:
		opt, ok := options.Correct()
		if ok && answer == opt.ID {
			return correct
		}
		return incorrect

	case model.QuestionTrueFalse:
		opt, ok := options.Correct()
		if !ok {
			return incorrect
		}
		// Accepts "true" or "t" in any case, or the exact id of the correct
		// option. The option's label is not consulted.
		lower := strings.ToLower(answer)
		if lower == "true" || lower == "t" || answer == opt.ID {
			return correct
		}
		return incorrect

	case model.QuestionIdentification, model.QuestionShortAnswer:
		if correctAnswer == nil || *correctAnswer == "" {
			return incorrect
		}
		if strings.ToLower(strings.TrimSpace(*correctAnswer)) == strings.ToLower(answer) {
			return correct
		}
		return incorrect
	}

	return incorrect
}
