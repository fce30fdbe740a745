package model

import "time"

// GradebookExport is the top-level JSON structure of a term gradebook export.
type GradebookExport struct {
	TermID     string           `json:"term_id"`
	TermName   string           `json:"term_name"`
	ExportedAt time.Time        `json:"exported_at"`
	Rows       []GradebookEntry `json:"rows"`
}

// GradebookEntry is one exported grade row.
type GradebookEntry struct {
	StudentID   string    `db:"student_id" json:"student_id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	Category    *string   `db:"category" json:"category,omitempty"`
	ExamTitle   string    `db:"exam_title" json:"exam_title"`
	Score       float64   `db:"score" json:"score"`
	MaxScore    float64   `db:"max_score" json:"max_score"`
	Percent     float64   `db:"-" json:"percent"`
	RecordedAt  time.Time `db:"created_at" json:"recorded_at"`
}
