package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/identity"
)

const (
	defaultTurnLimit = 20
	maxTurnLimit     = 200
)

type turnView struct {
	SessionID   string      `json:"session_id"`
	Role        domain.Role `json:"role"`
	Text        string      `json:"text"`
	Interrupted bool        `json:"interrupted"`
	CreatedAt   string      `json:"created_at"`
}

// Conversations returns a user's most recent stored turns, oldest first.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, identity.UserIDParam)
	if !identity.ValidUserID(userID) {
		Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if h.repo == nil {
		Error(w, http.StatusServiceUnavailable, "conversation store unavailable")
		return
	}

	turns, err := h.repo.ListTurns(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list turns", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}

	out := make([]turnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnView{
			SessionID:   t.SessionID,
			Role:        t.Role,
			Text:        t.Text,
			Interrupted: t.Interrupted,
			CreatedAt:   t.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	JSON(w, http.StatusOK, map[string]any{"user_id": userID, "turns": out})
}

// Sessions lists the user's live sessions on this instance.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, identity.UserIDParam)
	if !identity.ValidUserID(userID) {
		Error(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if h.sessions == nil {
		JSON(w, http.StatusOK, map[string]any{"user_id": userID, "sessions": []any{}})
		return
	}
	JSON(w, http.StatusOK, map[string]any{"user_id": userID, "sessions": h.sessions.Sessions(userID)})
}

func parseLimit(raw string) (int, bool) {
	if raw == "" {
		return defaultTurnLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxTurnLimit {
		n = maxTurnLimit
	}
	return n, true
}
