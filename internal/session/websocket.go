package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/identity"
)

// maxFrameBytes bounds one client frame; base64 audio chunks dominate.
const maxFrameBytes = 1 << 20

// WebSocketHandler upgrades /ws/{user_id} requests and serves a session on them.
type WebSocketHandler struct {
	mgr           *Manager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. It expects the
// identity middleware to have run.
func NewWebSocketHandler(mgr *Manager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{mgr: mgr, allowedOrigin: allowedOrigin, isDev: isDev}
}

// wsConn adapts websocket.Conn to Conn.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			return nil, fmt.Errorf("%w: %w", ErrClientClosed, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	mode := modeFromQuery(r)
	logger := slog.With("user_id", userID, "session_id", sessionID)
	logger.Info("WebSocket connection request", "mode", mode, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, `{"error":"missing user id"}`, http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	err = h.mgr.Serve(r.Context(), &wsConn{ws: ws}, userID, sessionID, mode)
	switch {
	case err == nil, errors.Is(err, ErrShutdown):
		logger.Info("WebSocket session ended")
	default:
		logger.Warn("WebSocket session ended with error", "error", err)
	}
}

func modeFromQuery(r *http.Request) domain.Mode {
	if audio, err := strconv.ParseBool(r.URL.Query().Get("is_audio")); err == nil && audio {
		return domain.ModeAudio
	}
	return domain.ModeText
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
