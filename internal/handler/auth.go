package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/examhall/internal/model"
)

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireAuth is middleware that checks for a valid bearer token whose auth
// session still exists and whose user is active.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeMessage(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims, err := h.tokens.Parse(token)
		if err != nil {
			slog.Debug("rejected token", "error", err)
			writeMessage(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		authSess, err := h.store.GetAuthSession(r.Context(), claims.ID)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			writeMessage(w, r, http.StatusInternalServerError, "InternalError")
			return
		}
		if authSess == nil || authSess.UserID != claims.Subject {
			writeMessage(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := h.store.GetUserByID(r.Context(), authSess.UserID)
		if err != nil {
			slog.Error("failed to get user", "error", err)
			writeMessage(w, r, http.StatusInternalServerError, "InternalError")
			return
		}
		if user == nil || !user.Active {
			writeMessage(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeMessage(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeMessage(w, r, http.StatusForbidden, "Forbidden")
		})
	}
}

// identity returns the caller set by requireAuth.
func identity(r *http.Request) model.Identity {
	return model.UserFromContext(r.Context()).Identity()
}

// handleLogout deletes the caller's auth session, revoking the token.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Parse(bearerToken(r))
	if err != nil {
		writeMessage(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.store.DeleteAuthSession(r.Context(), claims.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
