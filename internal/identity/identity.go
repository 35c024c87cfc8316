// Package identity resolves the farmer and connection identifiers for a request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// SessionHeaderName lets a client pin its own session id, e.g. across reconnects.
	SessionHeaderName = "X-Session-ID"
	// UserIDParam is the chi route parameter carrying the user id.
	UserIDParam = "user_id"
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var (
	userIDPattern    = regexp.MustCompile(`^[A-Za-z0-9+._@-]{1,64}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the connection session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithIdentity returns ctx carrying userID and sessionID.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// ValidUserID reports whether id is acceptable as a user id (usually a phone number).
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func sessionIDFromRequest(r *http.Request) string {
	sid := strings.TrimSpace(r.Header.Get(SessionHeaderName))
	if sid == "" {
		sid = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if sid == "" || !sessionIDPattern.MatchString(sid) {
		return uuid.NewString()
	}
	return sid
}

// Middleware validates the {user_id} route parameter and assigns a session id.
// It must be mounted on a chi route that declares the parameter.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, UserIDParam))
		if !ValidUserID(userID) {
			http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
			return
		}
		ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
