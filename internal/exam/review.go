package exam

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examhall/internal/model"
)

// SheetItem is an exam item as shown to a student taking the exam.
type SheetItem struct {
	ItemID  string             `json:"item_id"`
	Order   int                `json:"order"`
	Points  float64            `json:"points"`
	Type    model.QuestionType `json:"type"`
	Content string             `json:"content"`
	Options model.Options      `json:"options,omitempty"`
}

// ExamSheet is an exam in canonical item order with answer keys removed.
type ExamSheet struct {
	Exam  model.Exam  `json:"exam"`
	Items []SheetItem `json:"items"`
}

// GetExamForTaking returns the exam sheet for an entitled student.
func (s *Service) GetExamForTaking(ctx context.Context, examID, studentID string, now time.Time) (ExamSheet, error) {
	ok, err := s.entitled(ctx, examID, studentID, now)
	if err != nil {
		return ExamSheet{}, err
	}
	if !ok {
		return ExamSheet{}, ErrNotFound
	}
	e, err := s.r.GetExam(ctx, examID)
	if err != nil {
		return ExamSheet{}, fmt.Errorf("load exam: %w", err)
	}
	if e == nil {
		return ExamSheet{}, ErrNotFound
	}
	items, err := s.r.ListExamItems(ctx, examID)
	if err != nil {
		return ExamSheet{}, fmt.Errorf("load exam items: %w", err)
	}

	sheet := ExamSheet{Exam: *e, Items: make([]SheetItem, 0, len(items))}
	for _, it := range items {
		si := SheetItem{
			ItemID:  it.ID,
			Order:   it.Order,
			Points:  it.Points,
			Type:    it.Question.Type,
			Content: it.Question.Content,
		}
		if it.Question.Type.IsChoice() {
			si.Options = it.Question.Options.Public()
		}
		sheet.Items = append(sheet.Items, si)
	}
	return sheet, nil
}

// AttemptReview is a finalized or open attempt with its answer rows.
type AttemptReview struct {
	Attempt model.ExamAttempt    `json:"attempt"`
	Exam    model.Exam           `json:"exam"`
	Answers []model.AnswerDetail `json:"answers"`
}

// visible reports whether viewer may see an attempt of exam e.
func visible(viewer model.Identity, e *model.Exam, a *model.ExamAttempt) bool {
	if e == nil || a == nil || e.TenantID != viewer.TenantID {
		return false
	}
	return a.StudentID == viewer.UserID || viewer.Role.IsStaff()
}

// GetAttemptReview returns an attempt and its answers in item order.
func (s *Service) GetAttemptReview(ctx context.Context, attemptID string, viewer model.Identity) (AttemptReview, error) {
	a, err := s.r.GetAttempt(ctx, attemptID)
	if err != nil {
		return AttemptReview{}, fmt.Errorf("load attempt: %w", err)
	}
	if a == nil {
		return AttemptReview{}, ErrNotFound
	}
	e, err := s.r.GetExam(ctx, a.ExamID)
	if err != nil {
		return AttemptReview{}, fmt.Errorf("load exam: %w", err)
	}
	if !visible(viewer, e, a) {
		return AttemptReview{}, ErrNotFound
	}
	answers, err := s.r.ListAnswers(ctx, attemptID)
	if err != nil {
		return AttemptReview{}, fmt.Errorf("list answers: %w", err)
	}
	return AttemptReview{Attempt: *a, Exam: *e, Answers: answers}, nil
}

// ListAttempts returns a student's own attempts of an exam, or every attempt
// when the viewer is staff of the exam's tenant. Newest first.
func (s *Service) ListAttempts(ctx context.Context, examID string, viewer model.Identity) ([]model.ExamAttempt, error) {
	e, err := s.r.GetExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if e == nil || e.TenantID != viewer.TenantID {
		return nil, ErrNotFound
	}
	if viewer.Role.IsStaff() {
		return s.r.ListExamAttempts(ctx, examID)
	}
	return s.r.ListStudentAttempts(ctx, examID, viewer.UserID)
}

// EssayGrade is a teacher's score for one essay answer.
type EssayGrade struct {
	Score    float64 `json:"score" validate:"gte=0"`
	Feedback string  `json:"feedback" validate:"max=5000"`
}

// GradeEssayAnswer records a teacher's score on an essay answer. The
// attempt's total is left as it was computed at submission.
func (s *Service) GradeEssayAnswer(ctx context.Context, answerID string, in EssayGrade, grader model.Identity, now time.Time) error {
	if !grader.Role.IsStaff() {
		return ErrNotFound
	}
	if err := validateInput(in); err != nil {
		return err
	}
	ans, err := s.r.GetAnswer(ctx, answerID)
	if err != nil {
		return fmt.Errorf("load answer: %w", err)
	}
	if ans == nil || ans.TenantID != grader.TenantID {
		return ErrNotFound
	}
	if !ans.QuestionType.NeedsManualGrading() {
		return newValidationError(errInvalidInput, FieldError{Field: "answer_id", Error: "only essay answers are graded manually"})
	}
	if in.Score > ans.Points {
		return newValidationError(errInvalidInput, FieldError{
			Field: "score",
			Error: fmt.Sprintf("score must not exceed %g points", ans.Points),
		})
	}

	var feedback *string
	if in.Feedback != "" {
		feedback = &in.Feedback
	}
	if err := s.r.UpdateAnswerGrade(ctx, answerID, in.Score, feedback, grader.UserID, now); err != nil {
		return notFound(err)
	}
	slog.Info("essay graded", "answer_id", answerID, "attempt_id", ans.AttemptID, "score", in.Score, "grader", grader.UserID)
	return nil
}

// GetAnswer returns one answer visible to staff of its tenant.
func (s *Service) GetAnswer(ctx context.Context, answerID string, viewer model.Identity) (model.AnswerDetail, error) {
	if !viewer.Role.IsStaff() {
		return model.AnswerDetail{}, ErrNotFound
	}
	ans, err := s.r.GetAnswer(ctx, answerID)
	if err != nil {
		return model.AnswerDetail{}, fmt.Errorf("load answer: %w", err)
	}
	if ans == nil || ans.TenantID != viewer.TenantID {
		return model.AnswerDetail{}, ErrNotFound
	}
	return *ans, nil
}
