// Package exam implements the exam-attempt lifecycle: authoring, taking,
// finalizing with automatic grading, and recording results in the gradebook.
package exam

import (
	"context"
	"time"

	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/store"
)

// Repository is the persistence the engine needs. *store.Store implements it.
type Repository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetSubject(ctx context.Context, id string) (*model.Subject, error)
	GetSection(ctx context.Context, id string) (*model.Section, error)
	IsVerifiedParent(ctx context.Context, parentID, studentID string) (bool, error)
	ListChildren(ctx context.Context, parentID string) ([]model.User, error)

	GetExam(ctx context.Context, id string) (*model.Exam, error)
	ListExamItems(ctx context.Context, examID string) ([]model.ExamItemQuestion, error)
	CreateExam(ctx context.Context, exam model.Exam, items []model.ExamItem, sections []model.ExamSection) error
	AssignSections(ctx context.Context, examID string, sections []model.ExamSection) (int, error)
	ListExams(ctx context.Context, tenantID string) ([]model.Exam, error)
	ListQuestions(ctx context.Context, tenantID, subjectID string) ([]model.Question, error)
	QuestionSubjects(ctx context.Context, tenantID string, ids []string) (map[string]string, error)
	SectionsInTenant(ctx context.Context, tenantID string, sectionIDs []string) (int, error)

	EntitledWindows(ctx context.Context, examID, studentID string) ([]model.ExamSection, error)
	FindOpenAttempt(ctx context.Context, examID, studentID string) (*model.ExamAttempt, error)
	LatestGradedAttempt(ctx context.Context, examID, studentID string) (*model.ExamAttempt, error)
	GetAttempt(ctx context.Context, id string) (*model.ExamAttempt, error)
	GetOwnOpenAttempt(ctx context.Context, attemptID, studentID string) (*model.ExamAttempt, error)
	InsertAttempt(ctx context.Context, a model.ExamAttempt) error
	SaveAnswers(ctx context.Context, attemptID, studentID string, answers model.AnswerMap) error
	FinalizeAttempt(ctx context.Context, sub store.Submission) error
	ListStudentAttempts(ctx context.Context, examID, studentID string) ([]model.ExamAttempt, error)
	ListExamAttempts(ctx context.Context, examID string) ([]model.ExamAttempt, error)
	ListAnswers(ctx context.Context, attemptID string) ([]model.AnswerDetail, error)
	GetAnswer(ctx context.Context, answerID string) (*model.AnswerDetail, error)
	UpdateAnswerGrade(ctx context.Context, answerID string, score float64, feedback *string, gradedBy string, gradedAt time.Time) error

	ResolveGradeContext(ctx context.Context, examID, studentID string) (*store.GradeContext, error)
	DefaultGradeCategory(ctx context.Context, subjectID string) (*model.GradeCategory, error)
	InsertGrade(ctx context.Context, g model.Grade) error
	ListTranscript(ctx context.Context, studentID string) ([]model.TranscriptEntry, error)
	ListSectionGrades(ctx context.Context, sectionID string) ([]model.SectionGrade, error)
}

type Service struct {
	r Repository
}

func NewService(repo Repository) *Service {
	return &Service{r: repo}
}
