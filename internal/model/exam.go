package model

import (
	"database/sql/driver"
	"time"
)

// SystemGrader marks answers scored automatically at submission.
const SystemGrader = "system"

// Exam is an authored, immutable set of question items.
type Exam struct {
	ID               string    `db:"id" json:"id"`
	TenantID         string    `db:"tenant_id" json:"tenant_id"`
	SubjectID        string    `db:"subject_id" json:"subject_id"`
	Title            string    `db:"title" json:"title"`
	Description      *string   `db:"description" json:"description,omitempty"`
	TimeLimit        *int      `db:"time_limit" json:"time_limit,omitempty"` // minutes
	ShuffleQuestions bool      `db:"shuffle_questions" json:"shuffle_questions"`
	ShuffleOptions   bool      `db:"shuffle_options" json:"shuffle_options"`
	CreatedBy        *string   `db:"created_by" json:"created_by,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// ExamItem places a question at a fixed position of an exam.
type ExamItem struct {
	ID         string  `db:"id" json:"id"`
	ExamID     string  `db:"exam_id" json:"exam_id"`
	QuestionID string  `db:"question_id" json:"question_id"`
	Points     float64 `db:"points" json:"points"`
	Order      int     `db:"item_order" json:"order"`
}

// ExamItemQuestion is an item joined with its question.
type ExamItemQuestion struct {
	ExamItem
	Question Question `json:"question"`
}

// ExamSection makes an exam available to a section within a time window.
type ExamSection struct {
	ExamID    string    `db:"exam_id" json:"exam_id"`
	SectionID string    `db:"section_id" json:"section_id"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
}

// Contains reports whether t falls within the inclusive window.
func (s ExamSection) Contains(t time.Time) bool {
	return !t.Before(s.StartAt) && !t.After(s.EndAt)
}

// AttemptStatus is the persisted state of an exam attempt.
type AttemptStatus string

const (
	// AttemptNotStarted is never stored; lookups report it when no attempt exists.
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptGraded     AttemptStatus = "graded"
)

// AnswerMap holds raw student answers keyed by exam item id.
type AnswerMap map[string]string

func (m AnswerMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return jsonValue(m)
}

func (m *AnswerMap) Scan(src any) error {
	return jsonScan(src, m)
}

// ExamAttempt is one student's sitting of an exam.
type ExamAttempt struct {
	ID          string        `db:"id" json:"id"`
	ExamID      string        `db:"exam_id" json:"exam_id"`
	StudentID   string        `db:"student_id" json:"student_id"`
	Status      AttemptStatus `db:"status" json:"status"`
	Answers     AnswerMap     `db:"answers" json:"answers"`
	StartedAt   time.Time     `db:"started_at" json:"started_at"`
	SubmittedAt *time.Time    `db:"submitted_at" json:"submitted_at,omitempty"`
	Score       *float64      `db:"score" json:"score,omitempty"`
	MaxScore    *float64      `db:"max_score" json:"max_score,omitempty"`
}

// Deadline returns when the time limit runs out, if the exam has one.
func (a ExamAttempt) Deadline(limit *int) (time.Time, bool) {
	if limit == nil || *limit <= 0 {
		return time.Time{}, false
	}
	return a.StartedAt.Add(time.Duration(*limit) * time.Minute), true
}

// ExamAnswer is the graded record of one item of a finalized attempt.
// Score is nil while an essay awaits manual grading.
type ExamAnswer struct {
	ID         string     `db:"id" json:"id"`
	AttemptID  string     `db:"attempt_id" json:"attempt_id"`
	ExamItemID string     `db:"exam_item_id" json:"exam_item_id"`
	Answer     string     `db:"answer" json:"answer"`
	Score      *float64   `db:"score" json:"score"`
	GradedAt   *time.Time `db:"graded_at" json:"graded_at,omitempty"`
	GradedBy   *string    `db:"graded_by" json:"graded_by,omitempty"`
	Feedback   *string    `db:"feedback" json:"feedback,omitempty"`
}

// AnswerDetail is an answer with the item and question it belongs to.
type AnswerDetail struct {
	ExamAnswer
	ItemOrder    int          `db:"item_order" json:"order"`
	Points       float64      `db:"points" json:"points"`
	QuestionType QuestionType `db:"question_type" json:"question_type"`
	Content      string       `db:"content" json:"content"`
	ExamID       string       `db:"exam_id" json:"exam_id"`
	StudentID    string       `db:"student_id" json:"student_id"`
	TenantID     string       `db:"tenant_id" json:"tenant_id"`
}

// Grade is an append-only gradebook row produced from a graded attempt.
type Grade struct {
	ID            string    `db:"id" json:"id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	TermID        string    `db:"term_id" json:"term_id"`
	SubjectID     string    `db:"subject_id" json:"subject_id"`
	CategoryID    *string   `db:"category_id" json:"category_id,omitempty"`
	ExamAttemptID string    `db:"exam_attempt_id" json:"exam_attempt_id"`
	Score         float64   `db:"score" json:"score"`
	MaxScore      float64   `db:"max_score" json:"max_score"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// TranscriptEntry is a grade with term and subject names resolved.
type TranscriptEntry struct {
	Grade
	TermName     string  `db:"term_name" json:"term_name"`
	SubjectCode  string  `db:"subject_code" json:"subject_code"`
	SubjectName  string  `db:"subject_name" json:"subject_name"`
	CategoryName *string `db:"category_name" json:"category_name,omitempty"`
}

// SectionGrade is a grade row of a section gradebook.
type SectionGrade struct {
	Grade
	Username     string  `db:"username" json:"username"`
	DisplayName  string  `db:"display_name" json:"display_name"`
	CategoryName *string `db:"category_name" json:"category_name,omitempty"`
}
