package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/examhall/internal/model"
)

// ExportGradebook returns every grade recorded in a term with student and exam details.
func (s *Store) ExportGradebook(ctx context.Context, termID string) ([]model.GradebookEntry, error) {
	var rows []model.GradebookEntry
	err := s.db.SelectContext(ctx, &rows, s.rebind(
		`SELECT g.student_id, u.username, u.display_name, sub.code AS subject_code,
		        c.name AS category, e.title AS exam_title, g.score, g.max_score, g.created_at
		 FROM grades g
		 JOIN users u ON u.id = g.student_id
		 JOIN subjects sub ON sub.id = g.subject_id
		 JOIN exam_attempts a ON a.id = g.exam_attempt_id
		 JOIN exams e ON e.id = a.exam_id
		 LEFT JOIN grade_categories c ON c.id = g.category_id
		 WHERE g.term_id = ?
		 ORDER BY sub.code, u.username, g.created_at`), termID)
	if err != nil {
		return nil, fmt.Errorf("export gradebook: %w", err)
	}
	for i := range rows {
		if rows[i].MaxScore > 0 {
			rows[i].Percent = rows[i].Score / rows[i].MaxScore * 100
		}
	}
	return rows, nil
}
