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

const attemptColumns = `id, exam_id, student_id, status, answers, started_at, submitted_at, score, max_score`

// EntitledWindows returns the availability windows of an exam for the
// sections the student is enrolled in.
func (s *Store) EntitledWindows(ctx context.Context, examID, studentID string) ([]model.ExamSection, error) {
	var secs []model.ExamSection
	err := s.db.SelectContext(ctx, &secs, s.rebind(
		`SELECT es.exam_id, es.section_id, es.start_at, es.end_at
		 FROM exam_sections es
		 JOIN enrollments en ON en.section_id = es.section_id
		 WHERE es.exam_id = ? AND en.student_id = ?
		 ORDER BY es.created_at, es.section_id`), examID, studentID)
	return secs, err
}

// FindOpenAttempt returns the student's in-progress attempt of an exam, or nil.
func (s *Store) FindOpenAttempt(ctx context.Context, examID, studentID string) (*model.ExamAttempt, error) {
	return s.getAttempt(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = ? AND student_id = ? AND status = 'in_progress'`, examID, studentID)
}

// LatestGradedAttempt returns the student's most recently submitted attempt of an exam, or nil.
func (s *Store) LatestGradedAttempt(ctx context.Context, examID, studentID string) (*model.ExamAttempt, error) {
	return s.getAttempt(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = ? AND student_id = ? AND status = 'graded'
		 ORDER BY submitted_at DESC, started_at DESC
		 LIMIT 1`, examID, studentID)
}

// GetAttempt returns an attempt by id, or nil.
func (s *Store) GetAttempt(ctx context.Context, id string) (*model.ExamAttempt, error) {
	return s.getAttempt(ctx, `SELECT `+attemptColumns+` FROM exam_attempts WHERE id = ?`, id)
}

// GetOwnOpenAttempt returns the attempt only if it belongs to the student and is still open.
func (s *Store) GetOwnOpenAttempt(ctx context.Context, attemptID, studentID string) (*model.ExamAttempt, error) {
	return s.getAttempt(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE id = ? AND student_id = ? AND status = 'in_progress'`, attemptID, studentID)
}

func (s *Store) getAttempt(ctx context.Context, query string, args ...any) (*model.ExamAttempt, error) {
	var a model.ExamAttempt
	err := s.db.GetContext(ctx, &a, s.rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertAttempt stores a new in-progress attempt. Returns ErrConflict when the
// student already has an open attempt of the exam.
func (s *Store) InsertAttempt(ctx context.Context, a model.ExamAttempt) error {
	if a.Answers == nil {
		a.Answers = model.AnswerMap{}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO exam_attempts (id, exam_id, student_id, status, answers, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		a.ID, a.ExamID, a.StudentID, model.AttemptInProgress, a.Answers, utc(a.StartedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert attempt: %w", ErrConflict)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// SaveAnswers replaces the whole answer map of an open attempt owned by the student.
func (s *Store) SaveAnswers(ctx context.Context, attemptID, studentID string, answers model.AnswerMap) error {
	if answers == nil {
		answers = model.AnswerMap{}
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE exam_attempts SET answers = ?
		 WHERE id = ? AND student_id = ? AND status = 'in_progress'`),
		answers, attemptID, studentID,
	)
	if err != nil {
		return fmt.Errorf("save answers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Submission is a graded attempt ready to be persisted.
type Submission struct {
	AttemptID   string
	StudentID   string
	Answers     model.AnswerMap
	SubmittedAt time.Time
	Score       float64
	MaxScore    float64
	Rows        []model.ExamAnswer
}

// FinalizeAttempt moves an open attempt to graded and writes its answer rows
// in one transaction. The status guard makes a second call match no row and
// return ErrNotFound, so answers are never written twice.
func (s *Store) FinalizeAttempt(ctx context.Context, sub Submission) error {
	if sub.Answers == nil {
		sub.Answers = model.AnswerMap{}
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE exam_attempts
			 SET status = ?, submitted_at = ?, answers = ?, score = ?, max_score = ?
			 WHERE id = ? AND student_id = ? AND status = 'in_progress'`),
			model.AttemptGraded, utc(sub.SubmittedAt), sub.Answers, sub.Score, sub.MaxScore,
			sub.AttemptID, sub.StudentID,
		)
		if err != nil {
			return fmt.Errorf("update attempt: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		for _, row := range sub.Rows {
			if row.GradedAt != nil {
				t := utc(*row.GradedAt)
				row.GradedAt = &t
			}
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO exam_answers (id, attempt_id, exam_item_id, answer, score, graded_at, graded_by, feedback)
				 VALUES (:id, :attempt_id, :exam_item_id, :answer, :score, :graded_at, :graded_by, :feedback)`, row)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("insert answer for item %s: %w", row.ExamItemID, ErrConflict)
				}
				return fmt.Errorf("insert answer for item %s: %w", row.ExamItemID, err)
			}
		}
		return nil
	})
}

// ListStudentAttempts returns a student's attempts of an exam, newest first.
func (s *Store) ListStudentAttempts(ctx context.Context, examID, studentID string) ([]model.ExamAttempt, error) {
	var attempts []model.ExamAttempt
	err := s.db.SelectContext(ctx, &attempts, s.rebind(
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = ? AND student_id = ?
		 ORDER BY started_at DESC`), examID, studentID)
	return attempts, err
}

// ListExamAttempts returns every attempt of an exam, newest first.
func (s *Store) ListExamAttempts(ctx context.Context, examID string) ([]model.ExamAttempt, error) {
	var attempts []model.ExamAttempt
	err := s.db.SelectContext(ctx, &attempts, s.rebind(
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = ?
		 ORDER BY started_at DESC, student_id`), examID)
	return attempts, err
}

const answerDetailQuery = `SELECT a.id, a.attempt_id, a.exam_item_id, a.answer, a.score, a.graded_at, a.graded_by, a.feedback,
	       i.item_order, i.points, q.type AS question_type, q.content,
	       t.exam_id, t.student_id, e.tenant_id
	FROM exam_answers a
	JOIN exam_items i ON i.id = a.exam_item_id
	JOIN questions q ON q.id = i.question_id
	JOIN exam_attempts t ON t.id = a.attempt_id
	JOIN exams e ON e.id = t.exam_id`

// ListAnswers returns the answers of an attempt in item order.
func (s *Store) ListAnswers(ctx context.Context, attemptID string) ([]model.AnswerDetail, error) {
	var answers []model.AnswerDetail
	err := s.db.SelectContext(ctx, &answers, s.rebind(
		answerDetailQuery+` WHERE a.attempt_id = ? ORDER BY i.item_order`), attemptID)
	return answers, err
}

// GetAnswer returns one answer with its item context, or nil.
func (s *Store) GetAnswer(ctx context.Context, answerID string) (*model.AnswerDetail, error) {
	var a model.AnswerDetail
	err := s.db.GetContext(ctx, &a, s.rebind(answerDetailQuery+` WHERE a.id = ?`), answerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAnswerGrade records a manual score on an answer.
func (s *Store) UpdateAnswerGrade(ctx context.Context, answerID string, score float64, feedback *string, gradedBy string, gradedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE exam_answers SET score = ?, feedback = ?, graded_by = ?, graded_at = ? WHERE id = ?`),
		score, feedback, gradedBy, utc(gradedAt), answerID,
	)
	if err != nil {
		return fmt.Errorf("update answer grade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
