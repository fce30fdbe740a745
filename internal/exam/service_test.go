package exam

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/store"
)

const testTenant = "tenant-1"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type env struct {
	st  *store.Store
	svc *Service

	subjectID string
	termID    string
	sectionID string
	teacher   model.Identity
	student   model.Identity
}

func strPtr(s string) *string { return &s }

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := &env{st: st, svc: NewService(st)}

	teacherID, err := st.CreateUser(ctx, model.User{TenantID: testTenant, Username: "teacher", Role: model.UserRoleTeacher, Active: true})
	require.NoError(t, err)
	studentID, err := st.CreateUser(ctx, model.User{TenantID: testTenant, Username: "student", Role: model.UserRoleStudent, Active: true})
	require.NoError(t, err)
	e.teacher = model.Identity{UserID: teacherID, Role: model.UserRoleTeacher, TenantID: testTenant}
	e.student = model.Identity{UserID: studentID, Role: model.UserRoleStudent, TenantID: testTenant}

	e.subjectID, err = st.CreateSubject(ctx, model.Subject{TenantID: testTenant, Code: "SCI8", Name: "Science 8"})
	require.NoError(t, err)
	e.termID, err = st.CreateTerm(ctx, model.Term{TenantID: testTenant, Name: "Q1", StartsOn: t0.AddDate(0, -1, 0), EndsOn: t0.AddDate(0, 2, 0)})
	require.NoError(t, err)
	e.sectionID, err = st.CreateSection(ctx, model.Section{TenantID: testTenant, SubjectID: e.subjectID, TermID: &e.termID, TeacherID: &teacherID, Name: "8-B"})
	require.NoError(t, err)
	require.NoError(t, st.Enroll(ctx, e.sectionID, studentID))
	return e
}

func (e *env) question(t *testing.T, q model.Question) string {
	t.Helper()
	q.TenantID = testTenant
	q.SubjectID = e.subjectID
	if q.Content == "" {
		q.Content = "question " + string(q.Type)
	}
	id, err := e.st.InsertQuestion(context.Background(), q)
	require.NoError(t, err)
	return id
}

func (e *env) mc(t *testing.T) string {
	return e.question(t, model.Question{Type: model.QuestionMultipleChoice, Options: model.Options{
		{ID: "o1", Text: "Mercury"}, {ID: "o2", Text: "Venus", Correct: true}, {ID: "o3", Text: "Mars"},
	}})
}

func (e *env) tf(t *testing.T) string {
	return e.question(t, model.Question{Type: model.QuestionTrueFalse, Options: model.Options{
		{ID: "t", Text: "True", Correct: true}, {ID: "f", Text: "False"},
	}})
}

func (e *env) ident(t *testing.T) string {
	return e.question(t, model.Question{Type: model.QuestionIdentification, CorrectAnswer: strPtr("Photosynthesis")})
}

func (e *env) essay(t *testing.T) string {
	return e.question(t, model.Question{Type: model.QuestionEssay})
}

// exam authors an exam over the questions, open for the fixture section
// from t0 for a week, with every item worth the given points.
func (e *env) exam(t *testing.T, points float64, qids ...string) (string, []model.ExamItemQuestion) {
	t.Helper()
	ctx := context.Background()
	pts := make(map[string]float64, len(qids))
	for _, id := range qids {
		pts[id] = points
	}
	examID, err := e.svc.CreateExam(ctx, NewExam{
		Title:       "Chapter test",
		SubjectID:   e.subjectID,
		TenantID:    testTenant,
		QuestionIDs: qids,
		SectionIDs:  []string{e.sectionID},
		Points:      pts,
		CreatedBy:   e.teacher.UserID,
	}, t0)
	require.NoError(t, err)
	items, err := e.st.ListExamItems(ctx, examID)
	require.NoError(t, err)
	return examID, items
}

func TestFinalizeAllCorrect(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 5, e.mc(t), e.tf(t), e.ident(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, a.Status)

	answers := model.AnswerMap{
		items[0].ID: "o2",
		items[1].ID: "TRUE",
		items[2].ID: "  photosynthesis ",
	}
	totals, err := e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, answers, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Totals{TotalScore: 15, MaxScore: 15}, totals)

	got, err := e.st.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptGraded, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 15.0, *got.Score)
	require.NotNil(t, got.SubmittedAt)

	rows, err := e.st.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, items[i].ID, r.ExamItemID)
		require.NotNil(t, r.Score)
		assert.Equal(t, 5.0, *r.Score)
		require.NotNil(t, r.GradedBy)
		assert.Equal(t, model.SystemGrader, *r.GradedBy)
	}

	grade, err := e.st.GetGradeForAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, grade)
	assert.Equal(t, e.termID, grade.TermID)
	assert.Equal(t, e.subjectID, grade.SubjectID)
	assert.Equal(t, 15.0, grade.Score)
	assert.Equal(t, 15.0, grade.MaxScore)
	assert.Nil(t, grade.CategoryID)
}

func TestFinalizeAllWrong(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 5, e.mc(t), e.tf(t), e.ident(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)

	answers := model.AnswerMap{
		items[0].ID: "o1",
		items[1].ID: "false",
		items[2].ID: "respiration",
	}
	totals, err := e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, answers, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0.0, totals.TotalScore)
	assert.Equal(t, 15.0, totals.MaxScore)

	rows, err := e.st.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	for _, r := range rows {
		require.NotNil(t, r.Score)
		assert.Zero(t, *r.Score)
	}
}

func TestFinalizeWithEssayLeavesItPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 10, e.mc(t), e.essay(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)

	totals, err := e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{
		items[0].ID: "o2",
		items[1].ID: "Plants convert light into chemical energy.",
	}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Totals{TotalScore: 10, MaxScore: 20, PendingManual: 1}, totals)

	rows, err := e.st.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].Score)
	assert.Nil(t, rows[1].GradedAt)
	assert.Equal(t, "Plants convert light into chemical energy.", rows[1].Answer)
}

func TestFinalizeUnansweredAndUnknownKeys(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 2, e.mc(t), e.ident(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)

	totals, err := e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{
		items[0].ID:  "o2",
		"not-an-item": "o2",
	}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2.0, totals.TotalScore)
	assert.Equal(t, 4.0, totals.MaxScore)

	got, err := e.st.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnswerMap{items[0].ID: "o2"}, got.Answers)

	rows, err := e.st.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[1].Answer)
	require.NotNil(t, rows[1].Score)
	assert.Zero(t, *rows[1].Score)
}

func TestFinalizeTwice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 5, e.mc(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	answers := model.AnswerMap{items[0].ID: "o2"}

	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, answers, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, answers, t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err := e.st.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.teacher.UserID, answers, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentFinalizeGradesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 5, e.mc(t), e.essay(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)

	const n = 4
	results := make([]error, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			_, results[i] = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o2"}, t0.Add(time.Hour))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok := 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotFound):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)

	rows, err := e.st.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCreateOrResumeAttempt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 1, e.mc(t))

	first, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, e.svc.SaveProgress(ctx, first.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o3"}))

	again, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "o3", again.Answers[items[0].ID])
	assert.True(t, first.StartedAt.Equal(again.StartedAt))

	_, err = e.svc.FinalizeAttempt(ctx, first.ID, e.student.UserID, again.Answers, t0.Add(10*time.Minute))
	require.NoError(t, err)

	retake, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, retake.ID)
	assert.Empty(t, retake.Answers)
}

func TestConcurrentCreateOrResumeReturnsOneAttempt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, _ := e.exam(t, 1, e.mc(t))

	const n = 8
	ids := make([]string, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			a, err := e.svc.CreateOrResumeAttempt(gctx, examID, e.student.UserID, t0.Add(time.Minute))
			ids[i] = a.ID
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	attempts, err := e.svc.ListAttempts(ctx, examID, e.student)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestEntitlement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, _ := e.exam(t, 1, e.mc(t))

	_, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(-time.Second))
	assert.ErrorIs(t, err, ErrNotFound, "before the window opens")

	_, err = e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(DefaultWindow+time.Second))
	assert.ErrorIs(t, err, ErrNotFound, "after the window closes")

	_, err = e.svc.CreateOrResumeAttempt(ctx, examID, e.teacher.UserID, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotFound, "not enrolled")

	_, err = e.svc.CreateOrResumeAttempt(ctx, "missing", e.student.UserID, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrNotFound, "unknown exam")

	_, err = e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(DefaultWindow))
	assert.NoError(t, err, "window end is inclusive")
}

func TestSaveProgressAfterGrading(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 1, e.mc(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o2"}, t0.Add(time.Hour))
	require.NoError(t, err)

	err = e.svc.SaveProgress(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o1"})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := e.st.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "o2", got.Answers[items[0].ID])
}

func TestLateSubmissionIsAccepted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	limit := 30
	examID, err := e.svc.CreateExam(ctx, NewExam{
		Title:       "Timed quiz",
		SubjectID:   e.subjectID,
		TenantID:    testTenant,
		TimeLimit:   &limit,
		QuestionIDs: []string{e.mc(t)},
		SectionIDs:  []string{e.sectionID},
	}, t0)
	require.NoError(t, err)

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0)
	require.NoError(t, err)
	totals, err := e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{}, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1.0, totals.MaxScore)
}

func TestLookupAttempt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, _ := e.exam(t, 1, e.mc(t))

	st, err := e.svc.LookupAttempt(ctx, examID, e.student.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptNotStarted, st.Status)
	assert.Nil(t, st.Attempt)

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	st, err = e.svc.LookupAttempt(ctx, examID, e.student.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, st.Status)
	require.NotNil(t, st.Attempt)
	assert.Equal(t, a.ID, st.Attempt.ID)

	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, nil, t0.Add(time.Hour))
	require.NoError(t, err)
	st, err = e.svc.LookupAttempt(ctx, examID, e.student.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptGraded, st.Status)
	require.NotNil(t, st.Attempt)
	assert.Equal(t, a.ID, st.Attempt.ID)
}

func TestGradePropagationUsesDefaultCategory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.st.CreateGradeCategory(ctx, model.GradeCategory{SubjectID: e.subjectID, Name: "Exams", Weight: 0.5, SortOrder: 3})
	require.NoError(t, err)
	quizID, err := e.st.CreateGradeCategory(ctx, model.GradeCategory{SubjectID: e.subjectID, Name: "Quizzes", Weight: 0.2, SortOrder: 1})
	require.NoError(t, err)

	examID, items := e.exam(t, 4, e.mc(t))
	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o2"}, t0.Add(time.Hour))
	require.NoError(t, err)

	entries, err := e.svc.Transcript(ctx, e.student.UserID, e.student)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].CategoryID)
	assert.Equal(t, quizID, *entries[0].CategoryID)
	require.NotNil(t, entries[0].CategoryName)
	assert.Equal(t, "Quizzes", *entries[0].CategoryName)
	assert.Equal(t, 4.0, entries[0].Score)
	assert.Equal(t, "SCI8", entries[0].SubjectCode)
}

func TestNoTermNoGrade(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	clubID, err := e.st.CreateSection(ctx, model.Section{TenantID: testTenant, SubjectID: e.subjectID, Name: "Science club"})
	require.NoError(t, err)
	otherID, err := e.st.CreateUser(ctx, model.User{TenantID: testTenant, Username: "club-member", Role: model.UserRoleStudent, Active: true})
	require.NoError(t, err)
	require.NoError(t, e.st.Enroll(ctx, clubID, otherID))

	mc := e.mc(t)
	examID, err := e.svc.CreateExam(ctx, NewExam{
		Title:       "Club challenge",
		SubjectID:   e.subjectID,
		TenantID:    testTenant,
		QuestionIDs: []string{mc},
		SectionIDs:  []string{clubID},
	}, t0)
	require.NoError(t, err)

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, otherID, t0.Add(time.Minute))
	require.NoError(t, err)
	totals, err := e.svc.FinalizeAttempt(ctx, a.ID, otherID, nil, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1.0, totals.MaxScore)

	grade, err := e.st.GetGradeForAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, grade)

	got, err := e.st.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptGraded, got.Status)
}

func TestCreateExamValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mc := e.mc(t)

	foreignSubject, err := e.st.CreateSubject(ctx, model.Subject{TenantID: "tenant-2", Code: "SCI8", Name: "Science 8"})
	require.NoError(t, err)
	mathID, err := e.st.CreateSubject(ctx, model.Subject{TenantID: testTenant, Code: "MATH8", Name: "Mathematics 8"})
	require.NoError(t, err)
	mathQ, err := e.st.InsertQuestion(ctx, model.Question{TenantID: testTenant, SubjectID: mathID,
		Type: model.QuestionIdentification, Content: "2+2", CorrectAnswer: strPtr("4")})
	require.NoError(t, err)

	tests := []struct {
		name  string
		in    NewExam
		field string
	}{
		{
			name:  "blank title",
			in:    NewExam{Title: "   ", SubjectID: e.subjectID, TenantID: testTenant, QuestionIDs: []string{mc}},
			field: "title",
		},
		{
			name:  "no questions",
			in:    NewExam{Title: "Quiz", SubjectID: e.subjectID, TenantID: testTenant},
			field: "question_ids",
		},
		{
			name:  "unknown question",
			in:    NewExam{Title: "Quiz", SubjectID: e.subjectID, TenantID: testTenant, QuestionIDs: []string{mc, "nope"}},
			field: "question_ids",
		},
		{
			name:  "unknown subject",
			in:    NewExam{Title: "Quiz", SubjectID: "no-such-subject", TenantID: testTenant, QuestionIDs: []string{mc}},
			field: "subject_id",
		},
		{
			name:  "subject from another tenant",
			in:    NewExam{Title: "Quiz", SubjectID: foreignSubject, TenantID: testTenant, QuestionIDs: []string{mc}},
			field: "subject_id",
		},
		{
			name:  "question from another tenant",
			in:    NewExam{Title: "Quiz", SubjectID: foreignSubject, TenantID: "tenant-2", QuestionIDs: []string{mc}},
			field: "question_ids",
		},
		{
			name:  "question of another subject",
			in:    NewExam{Title: "Quiz", SubjectID: e.subjectID, TenantID: testTenant, QuestionIDs: []string{mc, mathQ}},
			field: "question_ids",
		},
		{
			name:  "unknown section",
			in:    NewExam{Title: "Quiz", SubjectID: e.subjectID, TenantID: testTenant, QuestionIDs: []string{mc}, SectionIDs: []string{"nope"}},
			field: "section_ids",
		},
		{
			name:  "non-positive points",
			in:    NewExam{Title: "Quiz", SubjectID: e.subjectID, TenantID: testTenant, QuestionIDs: []string{mc}, Points: map[string]float64{mc: 0}},
			field: "points[" + mc + "]",
		},
		{
			name: "window ends before it starts",
			in: NewExam{Title: "Quiz", SubjectID: e.subjectID, TenantID: testTenant, QuestionIDs: []string{mc},
				Window: &Window{StartAt: t0, EndAt: t0.Add(-time.Hour)}},
			field: "end_at",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateExam(ctx, tt.in, t0)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	for _, tenant := range []string{testTenant, "tenant-2"} {
		exams, err := e.st.ListExams(ctx, tenant)
		require.NoError(t, err)
		assert.Empty(t, exams, "rejected input must not write anything")
	}

	q, err := e.st.GetQuestion(ctx, mc)
	require.NoError(t, err)
	assert.Zero(t, q.UsageCount)
}

func TestCreateExamDefaults(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mc, ess := e.mc(t), e.essay(t)

	examID, err := e.svc.CreateExam(ctx, NewExam{
		Title:       "Defaults",
		SubjectID:   e.subjectID,
		TenantID:    testTenant,
		QuestionIDs: []string{ess, mc},
		SectionIDs:  []string{e.sectionID, e.sectionID},
		Points:      map[string]float64{ess: 7},
	}, t0)
	require.NoError(t, err)

	exam, err := e.st.GetExam(ctx, examID)
	require.NoError(t, err)
	assert.True(t, exam.ShuffleQuestions)
	assert.True(t, exam.ShuffleOptions)
	assert.Nil(t, exam.TimeLimit)

	items, err := e.st.ListExamItems(ctx, examID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ess, items[0].QuestionID)
	assert.Equal(t, 7.0, items[0].Points)
	assert.Equal(t, mc, items[1].QuestionID)
	assert.Equal(t, 1.0, items[1].Points)

	secs, err := e.st.ListExamSections(ctx, examID)
	require.NoError(t, err)
	require.Len(t, secs, 1)
	assert.True(t, secs[0].StartAt.Equal(t0))
	assert.True(t, secs[0].EndAt.Equal(t0.Add(DefaultWindow)))
}

func TestConcurrentAuthoringCountsUsage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mc := e.mc(t)

	const n = 6
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			_, err := e.svc.CreateExam(ctx, NewExam{
				Title:       "Parallel",
				SubjectID:   e.subjectID,
				TenantID:    testTenant,
				QuestionIDs: []string{mc},
			}, t0)
			return err
		})
	}
	require.NoError(t, g.Wait())

	q, err := e.st.GetQuestion(ctx, mc)
	require.NoError(t, err)
	assert.Equal(t, n, q.UsageCount)
}

func TestAssignSections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, _ := e.exam(t, 1, e.mc(t))

	secondID, err := e.st.CreateSection(ctx, model.Section{TenantID: testTenant, SubjectID: e.subjectID, TermID: &e.termID, Name: "8-C"})
	require.NoError(t, err)

	n, err := e.svc.AssignSections(ctx, examID, SectionAssignment{SectionIDs: []string{e.sectionID, secondID}}, e.teacher, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.svc.AssignSections(ctx, examID, SectionAssignment{SectionIDs: []string{secondID}}, e.teacher, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = e.svc.AssignSections(ctx, examID, SectionAssignment{SectionIDs: []string{secondID}},
		model.Identity{UserID: "x", Role: model.UserRoleTeacher, TenantID: "tenant-2"}, t0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.svc.AssignSections(ctx, examID, SectionAssignment{}, e.teacher, t0)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGetExamForTakingHidesKeys(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, _ := e.exam(t, 2, e.ident(t), e.mc(t))

	sheet, err := e.svc.GetExamForTaking(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, sheet.Items, 2)
	assert.Equal(t, model.QuestionIdentification, sheet.Items[0].Type)
	assert.Empty(t, sheet.Items[0].Options)
	require.Len(t, sheet.Items[1].Options, 3)
	for _, o := range sheet.Items[1].Options {
		assert.False(t, o.Correct)
	}

	_, err = e.svc.GetExamForTaking(ctx, examID, e.student.UserID, t0.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttemptReviewAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 3, e.mc(t), e.essay(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o2", items[1].ID: "text"}, t0.Add(time.Hour))
	require.NoError(t, err)

	own, err := e.svc.GetAttemptReview(ctx, a.ID, e.student)
	require.NoError(t, err)
	assert.Len(t, own.Answers, 2)
	assert.Equal(t, examID, own.Exam.ID)

	_, err = e.svc.GetAttemptReview(ctx, a.ID, e.teacher)
	assert.NoError(t, err)

	otherStudent := model.Identity{UserID: "someone-else", Role: model.UserRoleStudent, TenantID: testTenant}
	_, err = e.svc.GetAttemptReview(ctx, a.ID, otherStudent)
	assert.ErrorIs(t, err, ErrNotFound)

	foreignTeacher := model.Identity{UserID: "t2", Role: model.UserRoleTeacher, TenantID: "tenant-2"}
	_, err = e.svc.GetAttemptReview(ctx, a.ID, foreignTeacher)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := e.svc.ListAttempts(ctx, examID, e.teacher)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	mine, err := e.svc.ListAttempts(ctx, examID, otherStudent)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestGradeEssayAnswer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 10, e.mc(t), e.essay(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o2", items[1].ID: "essay"}, t0.Add(time.Hour))
	require.NoError(t, err)

	rows, err := e.st.ListAnswers(ctx, a.ID)
	require.NoError(t, err)
	mcAnswer, essayAnswer := rows[0].ID, rows[1].ID
	now := t0.Add(3 * time.Hour)

	err = e.svc.GradeEssayAnswer(ctx, essayAnswer, EssayGrade{Score: 8}, e.student, now)
	assert.ErrorIs(t, err, ErrNotFound, "students cannot grade")

	var verr *ValidationError
	err = e.svc.GradeEssayAnswer(ctx, mcAnswer, EssayGrade{Score: 8}, e.teacher, now)
	assert.ErrorAs(t, err, &verr, "objective answers are not graded manually")

	err = e.svc.GradeEssayAnswer(ctx, essayAnswer, EssayGrade{Score: 11}, e.teacher, now)
	assert.ErrorAs(t, err, &verr, "score above item points")

	err = e.svc.GradeEssayAnswer(ctx, essayAnswer, EssayGrade{Score: -1}, e.teacher, now)
	assert.ErrorAs(t, err, &verr, "negative score")

	require.NoError(t, e.svc.GradeEssayAnswer(ctx, essayAnswer, EssayGrade{Score: 8, Feedback: "Good structure"}, e.teacher, now))

	got, err := e.svc.GetAnswer(ctx, essayAnswer, e.teacher)
	require.NoError(t, err)
	require.NotNil(t, got.Score)
	assert.Equal(t, 8.0, *got.Score)
	require.NotNil(t, got.GradedBy)
	assert.Equal(t, e.teacher.UserID, *got.GradedBy)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, "Good structure", *got.Feedback)

	// The attempt total is the one computed at submission.
	attempt, err := e.st.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, *attempt.Score)
}

func TestTranscriptAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Transcript(ctx, e.student.UserID, e.teacher)
	assert.NoError(t, err)

	other := model.Identity{UserID: "s2", Role: model.UserRoleStudent, TenantID: testTenant}
	_, err = e.svc.Transcript(ctx, e.student.UserID, other)
	assert.ErrorIs(t, err, ErrNotFound)

	foreign := model.Identity{UserID: "t2", Role: model.UserRoleAdmin, TenantID: "tenant-2"}
	_, err = e.svc.Transcript(ctx, e.student.UserID, foreign)
	assert.ErrorIs(t, err, ErrNotFound)
}

func (e *env) parent(t *testing.T, username string, verified bool) model.Identity {
	t.Helper()
	ctx := context.Background()
	id, err := e.st.CreateUser(ctx, model.User{TenantID: testTenant, Username: username, Role: model.UserRoleParent, Active: true})
	require.NoError(t, err)
	require.NoError(t, e.st.LinkParent(ctx, model.ParentChild{ParentID: id, StudentID: e.student.UserID, Verified: verified}))
	return model.Identity{UserID: id, Role: model.UserRoleParent, TenantID: testTenant}
}

func TestParentReadsVerifiedChildGrades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 5, e.mc(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o2"}, t0.Add(time.Hour))
	require.NoError(t, err)

	verified := e.parent(t, "mother", true)
	entries, err := e.svc.Transcript(ctx, e.student.UserID, verified)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5.0, entries[0].Score)

	children, err := e.svc.Children(ctx, verified)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, e.student.UserID, children[0].ID)

	pending := e.parent(t, "uncle", false)
	_, err = e.svc.Transcript(ctx, e.student.UserID, pending)
	assert.ErrorIs(t, err, ErrNotFound)
	children, err = e.svc.Children(ctx, pending)
	require.NoError(t, err)
	assert.Empty(t, children)

	_, err = e.svc.Transcript(ctx, e.teacher.UserID, verified)
	assert.ErrorIs(t, err, ErrNotFound, "a parent link covers only the linked student")

	_, err = e.svc.Children(ctx, e.student)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSectionGradebook(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	examID, items := e.exam(t, 5, e.mc(t))

	a, err := e.svc.CreateOrResumeAttempt(ctx, examID, e.student.UserID, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = e.svc.FinalizeAttempt(ctx, a.ID, e.student.UserID, model.AnswerMap{items[0].ID: "o1"}, t0.Add(time.Hour))
	require.NoError(t, err)

	book, err := e.svc.SectionGradebook(ctx, e.sectionID, e.teacher)
	require.NoError(t, err)
	assert.Equal(t, "8-B", book.Section.Name)
	require.Len(t, book.Grades, 1)
	assert.Equal(t, "student", book.Grades[0].Username)
	assert.Equal(t, 0.0, book.Grades[0].Score)
	assert.Equal(t, 5.0, book.Grades[0].MaxScore)

	adminID, err := e.st.CreateUser(ctx, model.User{TenantID: testTenant, Username: "admin", Role: model.UserRoleAdmin, Active: true})
	require.NoError(t, err)
	_, err = e.svc.SectionGradebook(ctx, e.sectionID, model.Identity{UserID: adminID, Role: model.UserRoleAdmin, TenantID: testTenant})
	assert.NoError(t, err)

	otherTeacher := model.Identity{UserID: "t2", Role: model.UserRoleTeacher, TenantID: testTenant}
	for name, viewer := range map[string]model.Identity{
		"another teacher": otherTeacher,
		"student":         e.student,
		"foreign admin":   {UserID: "a2", Role: model.UserRoleAdmin, TenantID: "tenant-2"},
	} {
		_, err := e.svc.SectionGradebook(ctx, e.sectionID, viewer)
		assert.ErrorIs(t, err, ErrNotFound, name)
	}
	_, err = e.svc.SectionGradebook(ctx, "no-such-section", e.teacher)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListExamsAndQuestions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mc := e.mc(t)
	examID, _ := e.exam(t, 1, mc)

	exams, err := e.svc.ListExams(ctx, e.teacher)
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, examID, exams[0].ID)

	questions, err := e.svc.ListQuestions(ctx, e.subjectID, e.teacher)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	correct, ok := questions[0].Options.Correct()
	require.True(t, ok, "staff see answer keys")
	assert.Equal(t, "o2", correct.ID)

	_, err = e.svc.ListExams(ctx, e.student)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.svc.ListQuestions(ctx, "", e.student)
	assert.ErrorIs(t, err, ErrNotFound)
}
