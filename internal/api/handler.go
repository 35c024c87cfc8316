// Package api provides the HTTP endpoints around the advisory sessions.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SidGoyal2014/gah-final-submission/internal/capability"
	"github.com/SidGoyal2014/gah-final-submission/internal/probe"
	"github.com/SidGoyal2014/gah-final-submission/internal/session"
	"github.com/SidGoyal2014/gah-final-submission/internal/store"
)

// RootMessage is the liveness reply on "/".
const RootMessage = "all good, lets go! All the best!"

// ImageAnalyzer describes a farm photo.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType string) (string, error)
}

// SessionDirectory reports live sessions.
type SessionDirectory interface {
	Counts() (users, sessions int)
	Sessions(userID string) []session.Info
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	registry *capability.Registry
	sessions SessionDirectory
	checker  *probe.Checker
	analyzer ImageAnalyzer
}

// NewHandler creates a new Handler. analyzer may be nil when no generation
// backend is configured.
func NewHandler(repo store.Repository, registry *capability.Registry, sessions SessionDirectory, checker *probe.Checker, analyzer ImageAnalyzer) *Handler {
	return &Handler{
		repo:     repo,
		registry: registry,
		sessions: sessions,
		checker:  checker,
		analyzer: analyzer,
	}
}

// RegisterRoutes registers the plain HTTP routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/analyze-image", h.AnalyzeImage)
	r.Post("/analyze-image/", h.AnalyzeImage)
	r.Route("/api", func(r chi.Router) {
		r.Get("/capabilities", h.Capabilities)
		r.Get("/conversations/{user_id}", h.Conversations)
		r.Get("/sessions/{user_id}", h.Sessions)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Root answers the bare liveness probe.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, RootMessage)
}

// Health reports dependency checks and live session counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := probe.Report{Healthy: true}
	if h.checker != nil {
		report = h.checker.Run(r.Context())
	}
	users, sessions := 0, 0
	if h.sessions != nil {
		users, sessions = h.sessions.Counts()
	}

	status, code := "ok", http.StatusOK
	if !report.Healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	JSON(w, code, map[string]any{
		"status":   status,
		"checks":   report.Checks,
		"users":    users,
		"sessions": sessions,
	})
}

// Capabilities lists the capability registry with input schemas.
func (h *Handler) Capabilities(w http.ResponseWriter, _ *http.Request) {
	if h.registry == nil {
		Error(w, http.StatusServiceUnavailable, "registry not loaded")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"capabilities": h.registry.Descriptors()})
}
