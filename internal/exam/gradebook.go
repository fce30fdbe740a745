package exam

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examhall/internal/model"
)

// propagateGrade appends the gradebook row for a freshly graded attempt.
// It returns nil without writing when the student's access to the exam
// does not run through a section with a term.
func (s *Service) propagateGrade(ctx context.Context, attempt model.ExamAttempt, totals Totals, now time.Time) (*model.Grade, error) {
	gc, err := s.r.ResolveGradeContext(ctx, attempt.ExamID, attempt.StudentID)
	if err != nil {
		return nil, fmt.Errorf("resolve term: %w", err)
	}
	if gc == nil {
		slog.Info("no term for attempt, gradebook not updated", "attempt_id", attempt.ID, "exam_id", attempt.ExamID)
		return nil, nil
	}

	cat, err := s.r.DefaultGradeCategory(ctx, gc.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("default category: %w", err)
	}

	g := model.Grade{
		ID:            uuid.NewString(),
		StudentID:     attempt.StudentID,
		TermID:        gc.TermID,
		SubjectID:     gc.SubjectID,
		ExamAttemptID: attempt.ID,
		Score:         totals.TotalScore,
		MaxScore:      totals.MaxScore,
		CreatedAt:     now,
	}
	if cat != nil {
		g.CategoryID = &cat.ID
	}
	if err := s.r.InsertGrade(ctx, g); err != nil {
		return nil, err
	}
	slog.Debug("grade recorded", "grade_id", g.ID, "term_id", g.TermID, "subject_id", g.SubjectID)
	return &g, nil
}

// canReadGrades reports whether viewer may read studentID's grades: the
// student, staff of the student's tenant, or a verified parent.
func (s *Service) canReadGrades(ctx context.Context, studentID string, viewer model.Identity) (bool, error) {
	if viewer.UserID == studentID {
		return true, nil
	}
	switch {
	case viewer.Role.IsStaff():
	case viewer.Role == model.UserRoleParent:
		ok, err := s.r.IsVerifiedParent(ctx, viewer.UserID, studentID)
		if err != nil {
			return false, fmt.Errorf("check parent link: %w", err)
		}
		if !ok {
			return false, nil
		}
	default:
		return false, nil
	}
	student, err := s.r.GetUserByID(ctx, studentID)
	if err != nil {
		return false, fmt.Errorf("load student: %w", err)
	}
	return student != nil && student.TenantID == viewer.TenantID, nil
}

// Transcript lists a student's grades for the student, staff of the
// student's tenant, or a verified parent.
func (s *Service) Transcript(ctx context.Context, studentID string, viewer model.Identity) ([]model.TranscriptEntry, error) {
	ok, err := s.canReadGrades(ctx, studentID, viewer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	entries, err := s.r.ListTranscript(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}
	return entries, nil
}

// Children lists the students a parent is verified for.
func (s *Service) Children(ctx context.Context, viewer model.Identity) ([]model.User, error) {
	if viewer.Role != model.UserRoleParent {
		return nil, ErrNotFound
	}
	children, err := s.r.ListChildren(ctx, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return children, nil
}

// SectionGradebook is a section with the grades of its students in the
// section's term and subject.
type SectionGradebook struct {
	Section model.Section        `json:"section"`
	Grades  []model.SectionGrade `json:"grades"`
}

// SectionGradebook returns a section's gradebook to the section's teacher or
// an admin of its tenant.
func (s *Service) SectionGradebook(ctx context.Context, sectionID string, viewer model.Identity) (SectionGradebook, error) {
	sec, err := s.r.GetSection(ctx, sectionID)
	if err != nil {
		return SectionGradebook{}, fmt.Errorf("load section: %w", err)
	}
	if sec == nil || sec.TenantID != viewer.TenantID {
		return SectionGradebook{}, ErrNotFound
	}
	own := viewer.Role == model.UserRoleTeacher && sec.TeacherID != nil && *sec.TeacherID == viewer.UserID
	if !own && viewer.Role != model.UserRoleAdmin {
		return SectionGradebook{}, ErrNotFound
	}
	grades, err := s.r.ListSectionGrades(ctx, sectionID)
	if err != nil {
		return SectionGradebook{}, err
	}
	if grades == nil {
		grades = []model.SectionGrade{}
	}
	return SectionGradebook{Section: *sec, Grades: grades}, nil
}
