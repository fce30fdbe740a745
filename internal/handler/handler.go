// Package handler exposes the exam engine as a JSON API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examhall/internal/auth"
	"github.com/pavelanni/examhall/internal/exam"
	appI18n "github.com/pavelanni/examhall/internal/i18n"
	"github.com/pavelanni/examhall/internal/llm"
	"github.com/pavelanni/examhall/internal/model"
	"github.com/pavelanni/examhall/internal/store"
)

const maxBodyBytes = 1 << 20

// EssayAdvisor suggests a score for an essay answer. *llm.Client implements it.
type EssayAdvisor interface {
	SuggestEssayGrade(ctx context.Context, question, answer string, maxPoints float64) (*llm.Suggestion, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc     *exam.Service
	store   *store.Store
	tokens  *auth.Tokens
	advisor EssayAdvisor
	now     func() time.Time
}

// New creates a new Handler. advisor may be nil when no LLM is configured.
func New(s *store.Store, tokens *auth.Tokens, advisor EssayAdvisor) *Handler {
	return &Handler{
		svc:     exam.NewService(s),
		store:   s,
		tokens:  tokens,
		advisor: advisor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers all API routes under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/me", h.handleMe)
		r.Delete("/session", h.handleLogout)
		r.Get("/exams/{examID}/attempts", h.handleListAttempts)
		r.Get("/attempts/{attemptID}", h.handleAttemptReview)
		r.Get("/students/{studentID}/transcript", h.handleTranscript)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))
			r.Get("/exams/{examID}/attempt", h.handleAttemptStatus)
			r.Post("/exams/{examID}/attempt", h.handleStartAttempt)
			r.Patch("/attempts/{attemptID}", h.handleSaveProgress)
			r.Post("/attempts/{attemptID}/submit", h.handleSubmit)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleParent))
			r.Get("/children", h.handleChildren)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Get("/exams", h.handleListExams)
			r.Post("/exams", h.handleCreateExam)
			r.Get("/questions", h.handleListQuestions)
			r.Get("/sections/{sectionID}/grades", h.handleSectionGrades)
			r.Post("/exams/{examID}/sections", h.handleAssignSections)
			r.Get("/answers/{answerID}", h.handleGetAnswer)
			r.Post("/answers/{answerID}/grade", h.handleGradeAnswer)
			r.Post("/answers/{answerID}/suggest", h.handleSuggestGrade)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleListUsers)
			r.Post("/admin/users/{userID}/active", h.handleSetUserActive)
			r.Post("/admin/catalog", h.handleUploadCatalog)
		})
	})
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields []exam.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID)})
}

// writeError maps engine and store errors to HTTP statuses. Anything
// unrecognized is logged and reported as a 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *exam.ValidationError
	switch {
	case errors.Is(err, exam.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeMessage(w, r, http.StatusNotFound, "NotFound")
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  appI18n.T(r.Context(), "InvalidInput"),
			Fields: verr.Fields,
		})
	case errors.Is(err, store.ErrConflict):
		writeMessage(w, r, http.StatusConflict, "Conflict")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "InternalError")
	}
}

// decodeJSON reads a JSON request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusBadRequest, "InvalidBody")
		return false
	}
	return true
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Transcript(r.Context(), chi.URLParam(r, "studentID"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleChildren(w http.ResponseWriter, r *http.Request) {
	children, err := h.svc.Children(r.Context(), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if children == nil {
		children = []model.User{}
	}
	writeJSON(w, http.StatusOK, children)
}

// handleSectionGrades serves a section's gradebook to its teacher or an admin.
func (h *Handler) handleSectionGrades(w http.ResponseWriter, r *http.Request) {
	book, err := h.svc.SectionGradebook(r.Context(), chi.URLParam(r, "sectionID"), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}
