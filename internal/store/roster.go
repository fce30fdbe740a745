package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/examhall/internal/model"
)

// CreateSubject inserts a subject and returns its id.
func (s *Store) CreateSubject(ctx context.Context, sub model.Subject) (string, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO subjects (id, tenant_id, code, name) VALUES (:id, :tenant_id, :code, :name)`, sub)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("create subject %q: %w", sub.Code, ErrConflict)
		}
		return "", err
	}
	return sub.ID, nil
}

// GetSubjectByCode returns a tenant's subject by code, or nil.
func (s *Store) GetSubjectByCode(ctx context.Context, tenantID, code string) (*model.Subject, error) {
	var sub model.Subject
	err := s.db.GetContext(ctx, &sub, s.rebind(
		`SELECT id, tenant_id, code, name FROM subjects WHERE tenant_id = ? AND code = ?`), tenantID, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubject returns a subject by id, or nil.
func (s *Store) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	var sub model.Subject
	err := s.db.GetContext(ctx, &sub, s.rebind(
		`SELECT id, tenant_id, code, name FROM subjects WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateTerm inserts an academic term and returns its id.
func (s *Store) CreateTerm(ctx context.Context, t model.Term) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.StartsOn, t.EndsOn = utc(t.StartsOn), utc(t.EndsOn)
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO terms (id, tenant_id, name, starts_on, ends_on)
		 VALUES (:id, :tenant_id, :name, :starts_on, :ends_on)`, t)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

// GetTerm returns a term by id, or nil.
func (s *Store) GetTerm(ctx context.Context, id string) (*model.Term, error) {
	var t model.Term
	err := s.db.GetContext(ctx, &t, s.rebind(
		`SELECT id, tenant_id, name, starts_on, ends_on FROM terms WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateSection inserts a section and returns its id.
func (s *Store) CreateSection(ctx context.Context, sec model.Section) (string, error) {
	if sec.ID == "" {
		sec.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO sections (id, tenant_id, subject_id, term_id, teacher_id, name)
		 VALUES (:id, :tenant_id, :subject_id, :term_id, :teacher_id, :name)`, sec)
	if err != nil {
		return "", err
	}
	return sec.ID, nil
}

// GetSection returns a section by id, or nil.
func (s *Store) GetSection(ctx context.Context, id string) (*model.Section, error) {
	var sec model.Section
	err := s.db.GetContext(ctx, &sec, s.rebind(
		`SELECT id, tenant_id, subject_id, term_id, teacher_id, name FROM sections WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// Enroll adds a student to a section. Enrolling twice is a no-op.
func (s *Store) Enroll(ctx context.Context, sectionID, studentID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO enrollments (section_id, student_id) VALUES (?, ?)
		 ON CONFLICT (section_id, student_id) DO NOTHING`), sectionID, studentID)
	return err
}

// CreateGradeCategory inserts a grade category and returns its id.
func (s *Store) CreateGradeCategory(ctx context.Context, c model.GradeCategory) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO grade_categories (id, subject_id, name, weight, sort_order)
		 VALUES (:id, :subject_id, :name, :weight, :sort_order)`, c)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// SectionsInTenant returns how many of the given sections belong to the tenant.
func (s *Store) SectionsInTenant(ctx context.Context, tenantID string, sectionIDs []string) (int, error) {
	if len(sectionIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(DISTINCT id) FROM sections WHERE tenant_id = ? AND id IN (?)`, tenantID, sectionIDs)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.GetContext(ctx, &n, s.rebind(query), args...)
	return n, err
}
