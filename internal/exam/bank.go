package exam

import (
	"context"
	"fmt"

	"github.com/pavelanni/examhall/internal/model"
)

// ListExams returns the exams of the viewer's tenant, newest first. Staff only.
func (s *Service) ListExams(ctx context.Context, viewer model.Identity) ([]model.Exam, error) {
	if !viewer.Role.IsStaff() {
		return nil, ErrNotFound
	}
	exams, err := s.r.ListExams(ctx, viewer.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return exams, nil
}

// ListQuestions returns the viewer's question bank, narrowed to one subject
// when subjectID is set. Answer keys are included; the bank is staff only.
func (s *Service) ListQuestions(ctx context.Context, subjectID string, viewer model.Identity) ([]model.Question, error) {
	if !viewer.Role.IsStaff() {
		return nil, ErrNotFound
	}
	questions, err := s.r.ListQuestions(ctx, viewer.TenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return questions, nil
}
