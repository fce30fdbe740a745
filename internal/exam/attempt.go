package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examhall/internal/grading"
	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/store"
)

// Totals is the outcome of finalizing an attempt.
type Totals struct {
	TotalScore float64 `json:"total_score"`
	MaxScore   float64 `json:"max_score"`
	// PendingManual counts essay answers awaiting a teacher.
	PendingManual int `json:"pending_manual"`
}

// AttemptState is the result of looking up a student's attempt of an exam.
// Attempt is nil when Status is AttemptNotStarted.
type AttemptState struct {
	Status  model.AttemptStatus `json:"status"`
	Attempt *model.ExamAttempt  `json:"attempt,omitempty"`
}

// entitled reports whether the student may take the exam at now.
func (s *Service) entitled(ctx context.Context, examID, studentID string, now time.Time) (bool, error) {
	windows, err := s.r.EntitledWindows(ctx, examID, studentID)
	if err != nil {
		return false, fmt.Errorf("load exam windows: %w", err)
	}
	for _, w := range windows {
		if w.Contains(now) {
			return true, nil
		}
	}
	return false, nil
}

// CreateOrResumeAttempt returns the student's open attempt of the exam,
// starting one if there is none. Students outside every open window of
// their sections get ErrNotFound.
func (s *Service) CreateOrResumeAttempt(ctx context.Context, examID, studentID string, now time.Time) (model.ExamAttempt, error) {
	ok, err := s.entitled(ctx, examID, studentID, now)
	if err != nil {
		return model.ExamAttempt{}, err
	}
	if !ok {
		return model.ExamAttempt{}, ErrNotFound
	}

	open, err := s.r.FindOpenAttempt(ctx, examID, studentID)
	if err != nil {
		return model.ExamAttempt{}, fmt.Errorf("find open attempt: %w", err)
	}
	if open != nil {
		return *open, nil
	}

	a := model.ExamAttempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.AttemptInProgress,
		Answers:   model.AnswerMap{},
		StartedAt: now,
	}
	if err := s.r.InsertAttempt(ctx, a); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return model.ExamAttempt{}, err
		}
		// Lost a race with a concurrent start; resume the winner's attempt.
		open, ferr := s.r.FindOpenAttempt(ctx, examID, studentID)
		if ferr != nil {
			return model.ExamAttempt{}, fmt.Errorf("find open attempt: %w", ferr)
		}
		if open == nil {
			return model.ExamAttempt{}, err
		}
		return *open, nil
	}

	slog.Info("started attempt", "attempt_id", a.ID, "exam_id", examID, "student_id", studentID)
	return a, nil
}

// SaveProgress replaces the answer map of the student's open attempt.
func (s *Service) SaveProgress(ctx context.Context, attemptID, studentID string, answers model.AnswerMap) error {
	if err := s.r.SaveAnswers(ctx, attemptID, studentID, answers); err != nil {
		return notFound(err)
	}
	return nil
}

// FinalizeAttempt grades the student's open attempt and records the result.
// Only the first call succeeds; later calls get ErrNotFound. An error wrapping
// ErrGradeNotRecorded comes with valid totals: the attempt itself is graded.
func (s *Service) FinalizeAttempt(ctx context.Context, attemptID, studentID string, answers model.AnswerMap, now time.Time) (Totals, error) {
	attempt, err := s.r.GetOwnOpenAttempt(ctx, attemptID, studentID)
	if err != nil {
		return Totals{}, fmt.Errorf("load attempt: %w", err)
	}
	if attempt == nil {
		return Totals{}, ErrNotFound
	}

	exam, err := s.r.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return Totals{}, fmt.Errorf("load exam: %w", err)
	}
	if exam == nil {
		return Totals{}, ErrNotFound
	}
	items, err := s.r.ListExamItems(ctx, attempt.ExamID)
	if err != nil {
		return Totals{}, fmt.Errorf("load exam items: %w", err)
	}

	if deadline, ok := attempt.Deadline(exam.TimeLimit); ok && now.After(deadline) {
		slog.Warn("late submission accepted", "attempt_id", attemptID, "deadline", deadline, "late_by", now.Sub(deadline))
	}

	totals, rows, kept := scoreItems(attemptID, items, answers, now)

	err = s.r.FinalizeAttempt(ctx, store.Submission{
		AttemptID:   attemptID,
		StudentID:   studentID,
		Answers:     kept,
		SubmittedAt: now,
		Score:       totals.TotalScore,
		MaxScore:    totals.MaxScore,
		Rows:        rows,
	})
	if err != nil {
		return Totals{}, notFound(err)
	}
	slog.Info("attempt graded",
		"attempt_id", attemptID,
		"exam_id", attempt.ExamID,
		"score", totals.TotalScore,
		"max_score", totals.MaxScore,
		"pending_manual", totals.PendingManual,
	)

	attempt.Status = model.AttemptGraded
	if _, err := s.propagateGrade(ctx, *attempt, totals, now); err != nil {
		return totals, fmt.Errorf("%w: %w", ErrGradeNotRecorded, err)
	}
	return totals, nil
}

// scoreItems grades every item in exam order. Answers keyed by anything
// other than an item of the exam are dropped.
func scoreItems(attemptID string, items []model.ExamItemQuestion, answers model.AnswerMap, now time.Time) (Totals, []model.ExamAnswer, model.AnswerMap) {
	var totals Totals
	rows := make([]model.ExamAnswer, 0, len(items))
	kept := make(model.AnswerMap, len(items))
	grader := model.SystemGrader

	for _, it := range items {
		raw, answered := answers[it.ID]
		if answered {
			kept[it.ID] = raw
		}
		row := model.ExamAnswer{
			ID:         uuid.NewString(),
			AttemptID:  attemptID,
			ExamItemID: it.ID,
			Answer:     raw,
		}
		totals.MaxScore += it.Points

		if it.Question.Type.NeedsManualGrading() {
			totals.PendingManual++
		} else {
			res := grading.GradeObjectiveAnswer(it.Question.Type, it.Question.CorrectAnswer, it.Question.Options, raw)
			earned := res.Earned(it.Points)
			gradedAt := now
			row.Score = &earned
			row.GradedAt = &gradedAt
			row.GradedBy = &grader
			totals.TotalScore += earned
		}
		rows = append(rows, row)
	}
	return totals, rows, kept
}

// LookupAttempt reports whether the student has not started the exam, has an
// open attempt, or has finished it.
func (s *Service) LookupAttempt(ctx context.Context, examID, studentID string) (AttemptState, error) {
	open, err := s.r.FindOpenAttempt(ctx, examID, studentID)
	if err != nil {
		return AttemptState{}, fmt.Errorf("find open attempt: %w", err)
	}
	if open != nil {
		return AttemptState{Status: model.AttemptInProgress, Attempt: open}, nil
	}

	graded, err := s.r.LatestGradedAttempt(ctx, examID, studentID)
	if err != nil {
		return AttemptState{}, fmt.Errorf("find graded attempt: %w", err)
	}
	if graded != nil {
		return AttemptState{Status: model.AttemptGraded, Attempt: graded}, nil
	}
	return AttemptState{Status: model.AttemptNotStarted}, nil
}
