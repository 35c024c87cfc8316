package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/SidGoyal2014/gah-final-submission/internal/agent"
	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
	"github.com/SidGoyal2014/gah-final-submission/internal/presence"
	"github.com/SidGoyal2014/gah-final-submission/internal/profile"
	"github.com/SidGoyal2014/gah-final-submission/internal/store"
)

// Deps are the collaborators shared read-only by every session.
type Deps struct {
	Backend  generation.Backend
	Advisor  Preparer
	Profiles profile.Resolver
	// Optional.
	Repo     store.Repository
	ConvLog  agent.ConversationLogger
	Presence presence.Directory
	Logger   *slog.Logger
}

// Manager owns the live sessions of this process, keyed by user and session id.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.RWMutex
	active   map[string]map[string]*Session
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// NewManager creates a session manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Backend == nil || deps.Advisor == nil || deps.Profiles == nil {
		return nil, fmt.Errorf("session manager requires backend, advisor and profile resolver")
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("session queue size must be > 0")
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("session heartbeat interval must be > 0")
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = defaultProfileTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ConvLog == nil {
		deps.ConvLog = agent.NopConversationLogger()
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		active: make(map[string]map[string]*Session),
	}, nil
}

// Serve runs a session for conn until it closes. It blocks, so the caller's
// connection stays open for the session's lifetime.
func (m *Manager) Serve(ctx context.Context, conn Conn, userID, sessionID string, mode domain.Mode) error {
	m.mu.Lock()
	if m.shutdown.Load() {
		m.mu.Unlock()
		if err := conn.Write(ctx, errFrame("server_shutdown", "server is restarting, please reconnect")); err != nil {
			m.deps.Logger.Debug("failed to reject session during shutdown", "error", err)
		}
		return ErrShutdown
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s := newSession(m.cfg, m.deps, conn, userID, sessionID, mode, cancel)
	m.register(s)
	defer m.unregister(s)

	return s.run(ctx)
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[s.userID]; !ok {
		m.active[s.userID] = make(map[string]*Session)
	}
	if existing, ok := m.active[s.userID][s.id]; ok && existing != s {
		existing.Close(ErrReplaced)
	}
	m.active[s.userID][s.id] = s
	m.deps.Logger.Info("advisor session registered", "user_id", s.userID, "session_id", s.id, "mode", s.mode)
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[s.userID]; ok {
		if current, exists := sessions[s.id]; exists && current == s {
			delete(sessions, s.id)
			if len(sessions) == 0 {
				delete(m.active, s.userID)
			}
			m.deps.Logger.Info("advisor session unregistered", "user_id", s.userID, "session_id", s.id)
		}
	}
}

// Get returns the live session, or nil.
func (m *Manager) Get(userID, sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Counts returns the number of users with live sessions and the number of sessions.
func (m *Manager) Counts() (users, sessions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.active {
		sessions += len(s)
	}
	return len(m.active), sessions
}

// Sessions lists snapshots of a user's live sessions, oldest first.
func (m *Manager) Sessions(userID string) []Info {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.active[userID]))
	for _, s := range m.active[userID] {
		list = append(list, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CloseUser terminates every live session of a user.
func (m *Manager) CloseUser(userID string, cause error) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := m.active[userID]
	for _, s := range sessions {
		s.Close(cause)
	}
	return len(sessions)
}

// Shutdown refuses new sessions, closes live ones and waits for them to
// reach CLOSED or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown.Store(true)
	for _, sessions := range m.active {
		for _, s := range sessions {
			s.Close(ErrShutdown)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_, n := m.Counts()
		return fmt.Errorf("%d sessions still open: %w", n, ctx.Err())
	}
}
