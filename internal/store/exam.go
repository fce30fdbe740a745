package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/examhall/internal/model"
)

const examColumns = `id, tenant_id, subject_id, title, description, time_limit, shuffle_questions, shuffle_options, created_by, created_at`

// CreateExam writes an exam with its items and section windows, and bumps the
// usage count of every included question, all in one transaction.
func (s *Store) CreateExam(ctx context.Context, exam model.Exam, items []model.ExamItem, sections []model.ExamSection) error {
	exam.CreatedAt = utc(exam.CreatedAt)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO exams (id, tenant_id, subject_id, title, description, time_limit, shuffle_questions, shuffle_options, created_by, created_at)
			 VALUES (:id, :tenant_id, :subject_id, :title, :description, :time_limit, :shuffle_questions, :shuffle_options, :created_by, :created_at)`, exam)
		if err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}

		for _, it := range items {
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO exam_items (id, exam_id, question_id, points, item_order)
				 VALUES (:id, :exam_id, :question_id, :points, :item_order)`, it)
			if err != nil {
				return fmt.Errorf("insert exam item %d: %w", it.Order, err)
			}
			// Atomic increment; concurrent authors must not lose updates.
			_, err = tx.ExecContext(ctx, tx.Rebind(
				`UPDATE questions SET usage_count = usage_count + 1 WHERE id = ?`), it.QuestionID)
			if err != nil {
				return fmt.Errorf("increment usage of question %s: %w", it.QuestionID, err)
			}
		}

		if _, err := assignSections(ctx, tx, exam.ID, sections, exam.CreatedAt); err != nil {
			return err
		}
		return nil
	})
}

// AssignSections binds an exam to sections. Pairs that already exist are
// left untouched. Returns the number of new bindings.
func (s *Store) AssignSections(ctx context.Context, examID string, sections []model.ExamSection) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		inserted, err = assignSections(ctx, tx, examID, sections, s.now())
		return err
	})
	return inserted, err
}

func assignSections(ctx context.Context, tx *sqlx.Tx, examID string, sections []model.ExamSection, createdAt time.Time) (int, error) {
	inserted := 0
	for _, sec := range sections {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO exam_sections (exam_id, section_id, start_at, end_at, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (exam_id, section_id) DO NOTHING`),
			examID, sec.SectionID, utc(sec.StartAt), utc(sec.EndAt), utc(createdAt),
		)
		if err != nil {
			return inserted, fmt.Errorf("assign section %s: %w", sec.SectionID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// GetExam returns an exam by id, or nil.
func (s *Store) GetExam(ctx context.Context, id string) (*model.Exam, error) {
	var e model.Exam
	err := s.db.GetContext(ctx, &e, s.rebind(`SELECT `+examColumns+` FROM exams WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExams returns a tenant's exams, newest first.
func (s *Store) ListExams(ctx context.Context, tenantID string) ([]model.Exam, error) {
	var exams []model.Exam
	err := s.db.SelectContext(ctx, &exams, s.rebind(
		`SELECT `+examColumns+` FROM exams WHERE tenant_id = ? ORDER BY created_at DESC, id`), tenantID)
	return exams, err
}

type examItemRow struct {
	model.ExamItem
	TenantID       string        `db:"q_tenant_id"`
	SubjectID      string        `db:"q_subject_id"`
	Type           string        `db:"q_type"`
	Content        string        `db:"q_content"`
	CorrectAnswer  *string       `db:"q_correct_answer"`
	Options        model.Options `db:"q_options"`
	QuestionPoints float64       `db:"q_points"`
	Tags           model.Tags    `db:"q_tags"`
	UsageCount     int           `db:"q_usage_count"`
}

// ListExamItems returns an exam's items joined with their questions, in item order.
func (s *Store) ListExamItems(ctx context.Context, examID string) ([]model.ExamItemQuestion, error) {
	var rows []examItemRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(
		`SELECT i.id, i.exam_id, i.question_id, i.points, i.item_order,
		        q.tenant_id AS q_tenant_id, q.subject_id AS q_subject_id, q.type AS q_type,
		        q.content AS q_content, q.correct_answer AS q_correct_answer, q.options AS q_options,
		        q.points AS q_points, q.tags AS q_tags, q.usage_count AS q_usage_count
		 FROM exam_items i
		 JOIN questions q ON q.id = i.question_id
		 WHERE i.exam_id = ?
		 ORDER BY i.item_order`), examID)
	if err != nil {
		return nil, err
	}

	items := make([]model.ExamItemQuestion, 0, len(rows))
	for _, r := range rows {
		items = append(items, model.ExamItemQuestion{
			ExamItem: r.ExamItem,
			Question: model.Question{
				ID:            r.QuestionID,
				TenantID:      r.TenantID,
				SubjectID:     r.SubjectID,
				Type:          model.QuestionType(r.Type),
				Content:       r.Content,
				CorrectAnswer: r.CorrectAnswer,
				Options:       r.Options,
				Points:        r.QuestionPoints,
				Tags:          r.Tags,
				UsageCount:    r.UsageCount,
			},
		})
	}
	return items, nil
}

// ListExamSections returns the section windows of an exam.
func (s *Store) ListExamSections(ctx context.Context, examID string) ([]model.ExamSection, error) {
	var secs []model.ExamSection
	err := s.db.SelectContext(ctx, &secs, s.rebind(
		`SELECT exam_id, section_id, start_at, end_at FROM exam_sections
		 WHERE exam_id = ? ORDER BY created_at, section_id`), examID)
	return secs, err
}
