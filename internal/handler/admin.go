package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examhall/internal/catalog"
	"github.com/pavelanni/examhall/internal/exam"
	"github.com/pavelanni/examhall/internal/model"
)

const maxCatalogBytes = 10 << 20

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context(), identity(r).TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, r, &exam.ValidationError{
			Err:    errors.New("active is required"),
			Fields: []exam.FieldError{{Field: "active", Error: "active is a required field"}},
		})
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.store.SetUserActive(r.Context(), identity(r).TenantID, userID, *req.Active); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user active flag changed", "user_id", userID, "active", *req.Active, "by", identity(r).UserID)
	w.WriteHeader(http.StatusNoContent)
}

type catalogResponse struct {
	Skipped   bool `json:"skipped"`
	Users     int  `json:"users"`
	Subjects  int  `json:"subjects"`
	Terms     int  `json:"terms"`
	Sections  int  `json:"sections"`
	Questions int  `json:"questions"`
	Parents   int  `json:"parents"`
}

// handleUploadCatalog imports a catalog file for the admin's own tenant.
// The upload's file name is the deduplication key.
func (h *Handler) handleUploadCatalog(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxCatalogBytes); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "InvalidBody")
		return
	}
	file, header, err := r.FormFile("catalog")
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "InvalidBody")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := filepath.Base(header.Filename)
	c, err := catalog.Parse(name, data)
	if err != nil {
		writeError(w, r, &exam.ValidationError{
			Err:    err,
			Fields: []exam.FieldError{{Field: "catalog", Error: err.Error()}},
		})
		return
	}
	tenant := identity(r).TenantID
	if c.Tenant != tenant {
		writeError(w, r, &exam.ValidationError{
			Err:    errors.New("tenant mismatch"),
			Fields: []exam.FieldError{{Field: "tenant", Error: "catalog tenant must be your own"}},
		})
		return
	}

	res, err := catalog.ImportData(r.Context(), h.store, tenant+"/"+name, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("uploaded catalog via admin", "filename", name, "questions", res.Questions)
	writeJSON(w, http.StatusOK, catalogResponse(res))
}
