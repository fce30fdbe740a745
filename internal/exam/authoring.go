package exam

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examhall/internal/model"
)

// DefaultWindow is how long a new exam stays open when no window is given.
const DefaultWindow = 7 * 24 * time.Hour

// Window is an availability period for the sections an exam is assigned to.
type Window struct {
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
}

// NewExam is the input for authoring an exam. Shuffle flags default to true.
type NewExam struct {
	Title            string             `json:"title" validate:"notblank"`
	Description      *string            `json:"description"`
	SubjectID        string             `json:"subject_id" validate:"required"`
	TenantID         string             `json:"tenant_id" validate:"required"`
	TimeLimit        *int               `json:"time_limit" validate:"omitempty,gte=1"`
	ShuffleQuestions *bool              `json:"shuffle_questions"`
	ShuffleOptions   *bool              `json:"shuffle_options"`
	QuestionIDs      []string           `json:"question_ids" validate:"required,min=1,dive,required"`
	SectionIDs       []string           `json:"section_ids" validate:"dive,required"`
	Points           map[string]float64 `json:"points" validate:"dive,gt=0"`
	Window           *Window            `json:"window"`
	CreatedBy        string             `json:"-"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) checkSubject(ctx context.Context, tenantID, subjectID string) error {
	sub, err := s.r.GetSubject(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("check subject: %w", err)
	}
	if sub == nil || sub.TenantID != tenantID {
		return newValidationError(errInvalidInput, FieldError{Field: "subject_id", Error: "subject_id is not a known subject"})
	}
	return nil
}

// checkQuestions requires every question to be in the tenant's bank under the exam's subject.
func (s *Service) checkQuestions(ctx context.Context, tenantID, subjectID string, ids []string) error {
	subjects, err := s.r.QuestionSubjects(ctx, tenantID, distinct(ids))
	if err != nil {
		return fmt.Errorf("check questions: %w", err)
	}
	for _, id := range ids {
		sub, ok := subjects[id]
		if !ok {
			return newValidationError(errInvalidInput, FieldError{Field: "question_ids", Error: "question_ids contains unknown questions"})
		}
		if sub != subjectID {
			return newValidationError(errInvalidInput, FieldError{Field: "question_ids", Error: "question_ids contains questions of another subject"})
		}
	}
	return nil
}

func (s *Service) checkSections(ctx context.Context, tenantID string, sectionIDs []string) error {
	want := distinct(sectionIDs)
	n, err := s.r.SectionsInTenant(ctx, tenantID, want)
	if err != nil {
		return fmt.Errorf("check sections: %w", err)
	}
	if n != len(want) {
		return newValidationError(errInvalidInput, FieldError{Field: "section_ids", Error: "section_ids contains unknown sections"})
	}
	return nil
}

func sectionWindows(sectionIDs []string, w *Window, now time.Time) []model.ExamSection {
	start, end := now, now.Add(DefaultWindow)
	if w != nil {
		start, end = w.StartAt, w.EndAt
	}
	secs := make([]model.ExamSection, 0, len(sectionIDs))
	for _, id := range sectionIDs {
		secs = append(secs, model.ExamSection{SectionID: id, StartAt: start, EndAt: end})
	}
	return secs
}

// CreateExam validates the input and writes the exam, its items in the given
// question order, and its section windows. Every included question's usage
// count goes up by one per inclusion.
func (s *Service) CreateExam(ctx context.Context, in NewExam, now time.Time) (string, error) {
	if err := validateInput(in); err != nil {
		return "", err
	}

	if err := s.checkSubject(ctx, in.TenantID, in.SubjectID); err != nil {
		return "", err
	}
	if err := s.checkQuestions(ctx, in.TenantID, in.SubjectID, in.QuestionIDs); err != nil {
		return "", err
	}
	if len(in.SectionIDs) > 0 {
		if err := s.checkSections(ctx, in.TenantID, in.SectionIDs); err != nil {
			return "", err
		}
	}

	e := model.Exam{
		ID:               uuid.NewString(),
		TenantID:         in.TenantID,
		SubjectID:        in.SubjectID,
		Title:            in.Title,
		Description:      in.Description,
		TimeLimit:        in.TimeLimit,
		ShuffleQuestions: boolOr(in.ShuffleQuestions, true),
		ShuffleOptions:   boolOr(in.ShuffleOptions, true),
		CreatedAt:        now,
	}
	if in.CreatedBy != "" {
		e.CreatedBy = &in.CreatedBy
	}

	items := make([]model.ExamItem, 0, len(in.QuestionIDs))
	for i, qid := range in.QuestionIDs {
		points := 1.0
		if p, ok := in.Points[qid]; ok {
			points = p
		}
		items = append(items, model.ExamItem{
			ID:         uuid.NewString(),
			ExamID:     e.ID,
			QuestionID: qid,
			Points:     points,
			Order:      i,
		})
	}

	if err := s.r.CreateExam(ctx, e, items, sectionWindows(in.SectionIDs, in.Window, now)); err != nil {
		return "", fmt.Errorf("create exam: %w", err)
	}
	slog.Info("created exam", "exam_id", e.ID, "title", e.Title, "items", len(items), "sections", len(in.SectionIDs))
	return e.ID, nil
}

// SectionAssignment is the input for assigning an existing exam to more sections.
type SectionAssignment struct {
	SectionIDs []string `json:"section_ids" validate:"required,min=1,dive,required"`
	Window     *Window  `json:"window"`
}

// AssignSections binds an exam of the caller's tenant to more sections and
// returns how many bindings are new. Existing bindings are kept as they are.
func (s *Service) AssignSections(ctx context.Context, examID string, in SectionAssignment, viewer model.Identity, now time.Time) (int, error) {
	if err := validateInput(in); err != nil {
		return 0, err
	}
	e, err := s.r.GetExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("load exam: %w", err)
	}
	if e == nil || e.TenantID != viewer.TenantID {
		return 0, ErrNotFound
	}
	if err := s.checkSections(ctx, e.TenantID, in.SectionIDs); err != nil {
		return 0, err
	}
	n, err := s.r.AssignSections(ctx, examID, sectionWindows(in.SectionIDs, in.Window, now))
	if err != nil {
		return 0, fmt.Errorf("assign sections: %w", err)
	}
	return n, nil
}
