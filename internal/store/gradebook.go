package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/examhall/internal/model"
)

// GradeContext is the term and subject a graded attempt is recorded under.
type GradeContext struct {
	TermID    string `db:"term_id"`
	SubjectID string `db:"subject_id"`
}

// ResolveGradeContext finds the term of the first section that binds the exam,
// has a term, and enrolls the student. Sections are taken in the order they
// were bound to the exam. Returns nil when no such section exists.
func (s *Store) ResolveGradeContext(ctx context.Context, examID, studentID string) (*GradeContext, error) {
	var gc GradeContext
	err := s.db.GetContext(ctx, &gc, s.rebind(
		`SELECT sec.term_id AS term_id, e.subject_id AS subject_id
		 FROM exam_sections es
		 JOIN sections sec ON sec.id = es.section_id
		 JOIN enrollments en ON en.section_id = sec.id AND en.student_id = ?
		 JOIN exams e ON e.id = es.exam_id
		 WHERE es.exam_id = ? AND sec.term_id IS NOT NULL
		 ORDER BY es.created_at, es.section_id
		 LIMIT 1`), studentID, examID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

// DefaultGradeCategory returns the lowest-ordered category of a subject, or nil.
func (s *Store) DefaultGradeCategory(ctx context.Context, subjectID string) (*model.GradeCategory, error) {
	var c model.GradeCategory
	err := s.db.GetContext(ctx, &c, s.rebind(
		`SELECT id, subject_id, name, weight, sort_order FROM grade_categories
		 WHERE subject_id = ?
		 ORDER BY sort_order, id
		 LIMIT 1`), subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertGrade appends a gradebook row. A second grade for the same attempt
// returns ErrConflict.
func (s *Store) InsertGrade(ctx context.Context, g model.Grade) error {
	g.CreatedAt = utc(g.CreatedAt)
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO grades (id, student_id, term_id, subject_id, category_id, exam_attempt_id, score, max_score, created_at)
		 VALUES (:id, :student_id, :term_id, :subject_id, :category_id, :exam_attempt_id, :score, :max_score, :created_at)`, g)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert grade for attempt %s: %w", g.ExamAttemptID, ErrConflict)
		}
		return fmt.Errorf("insert grade: %w", err)
	}
	return nil
}

// GetGradeForAttempt returns the grade recorded for an attempt, or nil.
func (s *Store) GetGradeForAttempt(ctx context.Context, attemptID string) (*model.Grade, error) {
	var g model.Grade
	err := s.db.GetContext(ctx, &g, s.rebind(
		`SELECT id, student_id, term_id, subject_id, category_id, exam_attempt_id, score, max_score, created_at
		 FROM grades WHERE exam_attempt_id = ?`), attemptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListTranscript returns a student's grades, most recent term first.
func (s *Store) ListTranscript(ctx context.Context, studentID string) ([]model.TranscriptEntry, error) {
	var entries []model.TranscriptEntry
	err := s.db.SelectContext(ctx, &entries, s.rebind(
		`SELECT g.id, g.student_id, g.term_id, g.subject_id, g.category_id, g.exam_attempt_id,
		        g.score, g.max_score, g.created_at,
		        t.name AS term_name, sub.code AS subject_code, sub.name AS subject_name,
		        c.name AS category_name
		 FROM grades g
		 JOIN terms t ON t.id = g.term_id
		 JOIN subjects sub ON sub.id = g.subject_id
		 LEFT JOIN grade_categories c ON c.id = g.category_id
		 WHERE g.student_id = ?
		 ORDER BY t.starts_on DESC, sub.code, g.created_at`), studentID)
	return entries, err
}

// ListSectionGrades returns the grades of a section's enrolled students in the
// section's term and subject. A section without a term has no grades.
func (s *Store) ListSectionGrades(ctx context.Context, sectionID string) ([]model.SectionGrade, error) {
	var rows []model.SectionGrade
	err := s.db.SelectContext(ctx, &rows, s.rebind(
		`SELECT g.id, g.student_id, g.term_id, g.subject_id, g.category_id, g.exam_attempt_id,
		        g.score, g.max_score, g.created_at,
		        u.username, u.display_name, c.name AS category_name
		 FROM sections sec
		 JOIN grades g ON g.subject_id = sec.subject_id AND g.term_id = sec.term_id
		 JOIN enrollments en ON en.section_id = sec.id AND en.student_id = g.student_id
		 JOIN users u ON u.id = g.student_id
		 LEFT JOIN grade_categories c ON c.id = g.category_id
		 WHERE sec.id = ?
		 ORDER BY u.username, g.created_at`), sectionID)
	if err != nil {
		return nil, fmt.Errorf("list section grades: %w", err)
	}
	return rows, nil
}
