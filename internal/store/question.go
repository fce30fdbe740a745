package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/examhall/internal/model"
)

const questionColumns = `id, tenant_id, subject_id, type, content, correct_answer, options, points, tags, usage_count`

// InsertQuestion stores a question and returns its id.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (string, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Points == 0 {
		q.Points = 1
	}
	if q.Options == nil {
		q.Options = model.Options{}
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO questions (id, tenant_id, subject_id, type, content, correct_answer, options, points, tags, usage_count)
		 VALUES (:id, :tenant_id, :subject_id, :type, :content, :correct_answer, :options, :points, :tags, :usage_count)`, q)
	if err != nil {
		return "", err
	}
	return q.ID, nil
}

// GetQuestion returns a question by id, or nil.
func (s *Store) GetQuestion(ctx context.Context, id string) (*model.Question, error) {
	var q model.Question
	err := s.db.GetContext(ctx, &q, s.rebind(`SELECT `+questionColumns+` FROM questions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListQuestions returns a tenant's question bank, optionally narrowed to one subject.
func (s *Store) ListQuestions(ctx context.Context, tenantID, subjectID string) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE tenant_id = ?`
	args := []any{tenantID}
	if subjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	query += ` ORDER BY subject_id, id`

	var questions []model.Question
	if err := s.db.SelectContext(ctx, &questions, s.rebind(query), args...); err != nil {
		return nil, err
	}
	return questions, nil
}

// QuestionSubjects maps each id among ids that is a question of the tenant
// to its subject id. Unknown ids are absent from the map.
func (s *Store) QuestionSubjects(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, subject_id FROM questions WHERE tenant_id = ? AND id IN (?)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID        string `db:"id"`
		SubjectID string `db:"subject_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r.SubjectID
	}
	return out, nil
}
