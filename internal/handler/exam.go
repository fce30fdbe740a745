package handler

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/examhall/internal/exam"
	appI18n "github.com/pavelanni/examhall/internal/i18n"
	"github.com/pavelanni/examhall/internal/model"
)

type attemptResponse struct {
	AttemptID string           `json:"attempt_id"`
	ExamID    string           `json:"exam_id"`
	Title     string           `json:"title"`
	StartedAt time.Time        `json:"started_at"`
	TimeLimit *int             `json:"time_limit,omitempty"`
	Deadline  *time.Time       `json:"deadline,omitempty"`
	Answers   model.AnswerMap  `json:"answers"`
	Items     []exam.SheetItem `json:"items"`
}

type submitResponse struct {
	exam.Totals
	Message string `json:"message"`
}

// attemptRand returns a generator seeded from the attempt id so that a
// resumed attempt is shown in the same order.
func attemptRand(attemptID string) *rand.Rand {
	id, err := uuid.Parse(attemptID)
	if err != nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(binary.BigEndian.Uint64(id[:8]), binary.BigEndian.Uint64(id[8:])))
}

// shuffleSheet reorders items and options for display when the exam asks for it.
// Grading always uses item and option ids, never positions.
func shuffleSheet(items []exam.SheetItem, e model.Exam, rng *rand.Rand) {
	if e.ShuffleQuestions {
		rng.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})
	}
	if e.ShuffleOptions {
		for _, it := range items {
			opts := it.Options
			rng.Shuffle(len(opts), func(i, j int) {
				opts[i], opts[j] = opts[j], opts[i]
			})
		}
	}
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	examID := chi.URLParam(r, "examID")
	student := identity(r)
	now := h.now()

	attempt, err := h.svc.CreateOrResumeAttempt(r.Context(), examID, student.UserID, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sheet, err := h.svc.GetExamForTaking(r.Context(), examID, student.UserID, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	shuffleSheet(sheet.Items, sheet.Exam, attemptRand(attempt.ID))

	resp := attemptResponse{
		AttemptID: attempt.ID,
		ExamID:    examID,
		Title:     sheet.Exam.Title,
		StartedAt: attempt.StartedAt,
		TimeLimit: sheet.Exam.TimeLimit,
		Answers:   attempt.Answers,
		Items:     sheet.Items,
	}
	if deadline, ok := attempt.Deadline(sheet.Exam.TimeLimit); ok {
		resp.Deadline = &deadline
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAttemptStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.LookupAttempt(r.Context(), chi.URLParam(r, "examID"), identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type answersRequest struct {
	Answers model.AnswerMap `json:"answers"`
}

func (h *Handler) handleSaveProgress(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.svc.SaveProgress(r.Context(), chi.URLParam(r, "attemptID"), identity(r).UserID, req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	attemptID := chi.URLParam(r, "attemptID")
	totals, err := h.svc.FinalizeAttempt(r.Context(), attemptID, identity(r).UserID, req.Answers, h.now())
	if err != nil {
		if !errors.Is(err, exam.ErrGradeNotRecorded) {
			writeError(w, r, err)
			return
		}
		// The submission stands; only the gradebook row is missing.
		slog.Error("attempt graded without gradebook entry", "attempt_id", attemptID, "error", err)
	}

	msg := appI18n.Td(r.Context(), "AttemptSubmitted", map[string]any{
		"Score":    totals.TotalScore,
		"MaxScore": totals.MaxScore,
	})
	if totals.PendingManual > 0 {
		msg += " " + appI18n.Tp(r.Context(), "PendingManual", totals.PendingManual)
	}
	writeJSON(w, http.StatusOK, submitResponse{Totals: totals, Message: msg})
}

func (h *Handler) handleAttemptReview(w http.ResponseWriter, r *http.Request) {
	review, err := h.svc.GetAttemptReview(r.Context(), chi.URLParam(r, "attemptID"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.svc.ListAttempts(r.Context(), chi.URLParam(r, "examID"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []model.ExamAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

type createdResponse struct {
	ID string `json:"id"`
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.svc.ListExams(r.Context(), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

// handleListQuestions lists the question bank with answer keys, optionally
// narrowed by the subject query parameter.
func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.svc.ListQuestions(r.Context(), r.URL.Query().Get("subject"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var in exam.NewExam
	if !decodeJSON(w, r, &in) {
		return
	}
	caller := identity(r)
	in.TenantID = caller.TenantID
	in.CreatedBy = caller.UserID

	id, err := h.svc.CreateExam(r.Context(), in, h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

type assignedResponse struct {
	Assigned int    `json:"assigned"`
	Message  string `json:"message"`
}

func (h *Handler) handleAssignSections(w http.ResponseWriter, r *http.Request) {
	var in exam.SectionAssignment
	if !decodeJSON(w, r, &in) {
		return
	}
	n, err := h.svc.AssignSections(r.Context(), chi.URLParam(r, "examID"), in, identity(r), h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignedResponse{
		Assigned: n,
		Message:  appI18n.Tp(r.Context(), "SectionsAssigned", n),
	})
}

func (h *Handler) handleGetAnswer(w http.ResponseWriter, r *http.Request) {
	ans, err := h.svc.GetAnswer(r.Context(), chi.URLParam(r, "answerID"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *Handler) handleGradeAnswer(w http.ResponseWriter, r *http.Request) {
	var in exam.EssayGrade
	if !decodeJSON(w, r, &in) {
		return
	}
	answerID := chi.URLParam(r, "answerID")
	caller := identity(r)
	if err := h.svc.GradeEssayAnswer(r.Context(), answerID, in, caller, h.now()); err != nil {
		writeError(w, r, err)
		return
	}
	ans, err := h.svc.GetAnswer(r.Context(), answerID, caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (h *Handler) handleSuggestGrade(w http.ResponseWriter, r *http.Request) {
	if h.advisor == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "LLMUnavailable")
		return
	}
	ans, err := h.svc.GetAnswer(r.Context(), chi.URLParam(r, "answerID"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ans.QuestionType.NeedsManualGrading() {
		writeError(w, r, &exam.ValidationError{
			Err:    errors.New("not an essay answer"),
			Fields: []exam.FieldError{{Field: "answer_id", Error: "only essay answers can be suggested"}},
		})
		return
	}

	s, err := h.advisor.SuggestEssayGrade(r.Context(), ans.Content, ans.Answer, ans.Points)
	if err != nil {
		slog.Error("essay suggestion failed", "answer_id", ans.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error: appI18n.Td(r.Context(), "LLMFailed", map[string]any{"Error": err.Error()}),
		})
		return
	}
	writeJSON(w, http.StatusOK, s)
}
