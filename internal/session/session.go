// Package session runs one bidirectional advisory conversation per client
// connection: it multiplexes client frames into the generation backend,
// streams the model's fragments back and releases everything exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SidGoyal2014/gah-final-submission/internal/agent"
	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
	"github.com/SidGoyal2014/gah-final-submission/internal/presence"
)

// State is a session lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrClientClosed is how a Conn reports an orderly close by the client.
	ErrClientClosed = errors.New("client closed the connection")
	// ErrTransport wraps failures reading from or writing to the client.
	ErrTransport = errors.New("transport failure")
	// ErrBackend wraps failures sending to or receiving from the generation backend.
	ErrBackend = errors.New("generation backend failure")
	// ErrIdle ends a session that saw no traffic for the idle timeout.
	ErrIdle = errors.New("session idle timeout")
	// ErrShutdown is the cancel cause for sessions closed by server shutdown.
	ErrShutdown = errors.New("server shutting down")
	// ErrReplaced is the cancel cause for a session superseded by a newer
	// connection of the same user.
	ErrReplaced = errors.New("session replaced by a newer connection")
)

const (
	maxHistory   = 40
	writeTimeout = 2 * time.Second
	storeTimeout = 5 * time.Second

	defaultProfileTimeout = 3 * time.Second
)

// Conn is the client side of a session. Read returns ErrClientClosed
// (possibly wrapped) when the client ends the conversation.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
}

// Preparer turns an utterance into model input with capability context and
// answers the function calls of the live audio model.
type Preparer interface {
	Prepare(ctx context.Context, profile domain.UserProfile, utterance string, history []domain.Turn) agent.Prepared
	Resolve(ctx context.Context, profile domain.UserProfile, name string, args map[string]any, utterance string, history []domain.Turn) (agent.Prepared, error)
	Tools() []generation.ToolSpec
}

// Config tunes sessions.
type Config struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	QueueSize         int
	GracePeriod       time.Duration
	SetupTimeout      time.Duration

	// ProfileTimeout bounds the profile lookup inside setup; a slow profile
	// service degrades the session instead of failing it.
	ProfileTimeout time.Duration

	// Instance names this server in the presence directory.
	Instance string
}

// Info is a read-only snapshot of a session.
type Info struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	Language  string    `json:"language"`
	Degraded  bool      `json:"degraded"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one live conversation. Its fields are owned by the session's
// own goroutines; other goroutines use the exported accessors only.
type Session struct {
	id        string
	userID    string
	mode      domain.Mode
	createdAt time.Time

	// connID tells this connection apart from a later one reusing id.
	connID string

	cfg    Config
	deps   Deps
	conn   Conn
	logger *slog.Logger
	cancel context.CancelCauseFunc

	state      atomic.Int32
	lastActive atomic.Int64

	// Set during INITIALIZING, read-only afterwards.
	profile domain.UserProfile
	stream  generation.Stream

	inbound  chan inbound
	tools    chan toolRequest
	outbound chan []byte
	mux      multiplexer

	mu      sync.Mutex
	history []domain.Turn

	releaseOnce sync.Once
	persist     sync.WaitGroup
}

func newSession(cfg Config, deps Deps, conn Conn, userID, sessionID string, mode domain.Mode, cancel context.CancelCauseFunc) *Session {
	s := &Session{
		id:        sessionID,
		connID:    uuid.NewString(),
		userID:    userID,
		mode:      mode,
		createdAt: time.Now(),
		cfg:       cfg,
		deps:      deps,
		conn:      conn,
		logger:    deps.Logger.With("user_id", userID, "session_id", sessionID),
		cancel:    cancel,
		inbound:   make(chan inbound, cfg.QueueSize),
		tools:     make(chan toolRequest, cfg.QueueSize),
		outbound:  make(chan []byte, cfg.QueueSize),
	}
	s.touch()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user id.
func (s *Session) UserID() string { return s.userID }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Info returns a snapshot for status endpoints.
func (s *Session) Info() Info {
	s.mu.Lock()
	turns := len(s.history)
	s.mu.Unlock()
	info := Info{
		UserID:    s.userID,
		SessionID: s.id,
		Mode:      string(s.mode),
		State:     s.State().String(),
		Turns:     turns,
		CreatedAt: s.createdAt,
	}
	if s.State() != StateInitializing {
		info.Language = s.profile.Language.Name
		info.Degraded = s.profile.Degraded
	}
	return info
}

// Close asks the session to shut down with cause.
func (s *Session) Close(cause error) {
	s.cancel(cause)
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

// run drives the session to CLOSED. ctx must carry the session's cancel cause.
func (s *Session) run(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		s.state.Store(int32(StateClosed))
		s.logger.Error("session setup failed", "error", err)
		s.writeDirect(ctx, errFrame("setup_failed", "could not start the advisor session"))
		return err
	}
	s.state.Store(int32(StateActive))
	s.logger.Info("session active", "mode", s.mode, "language", s.profile.Language.Name, "degraded", s.profile.Degraded)
	s.recordSession(ctx)

	g, gctx := errgroup.WithContext(ctx)
	stopRelease := context.AfterFunc(gctx, func() {
		s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))
		s.releaseStream()
	})
	defer stopRelease()

	// Capability calls in flight when the session starts closing get a
	// bounded grace period before they are cancelled.
	capCtx, capCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer capCancel()
	stopGrace := context.AfterFunc(gctx, func() {
		time.AfterFunc(s.cfg.GracePeriod, capCancel)
	})
	defer stopGrace()

	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.dispatchLoop(gctx, capCtx) })
	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.toolLoop(gctx, capCtx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.heartbeatLoop(gctx) })
	err := g.Wait()

	s.teardown(ctx, err)
	if errors.Is(err, ErrClientClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, s.cfg.SetupTimeout)
	defer cancel()

	profileCtx, cancelProfile := context.WithTimeout(setupCtx, s.cfg.ProfileTimeout)
	s.profile = s.deps.Profiles.Resolve(profileCtx, s.userID)
	cancelProfile()
	if s.profile.Degraded {
		s.logger.Warn("using default profile", "language", s.profile.Language.Name)
	}

	opts := generation.ConnectOptions{
		SessionID: s.id,
		Mode:      s.mode,
		Profile:   s.profile,
		Language:  s.profile.Language,
	}
	if s.mode == domain.ModeAudio {
		opts.Tools = s.deps.Advisor.Tools()
	}
	stream, err := s.deps.Backend.Connect(setupCtx, opts)
	if err != nil {
		return fmt.Errorf("connect generation backend: %w", err)
	}
	s.stream = stream

	if s.deps.Presence != nil {
		if err := s.deps.Presence.Register(setupCtx, presence.Entry{
			UserID:       s.userID,
			SessionID:    s.id,
			ConnectionID: s.connID,
			Instance:     s.cfg.Instance,
			Mode:         string(s.mode),
			StartedAt:    s.createdAt,
		}); err != nil {
			s.logger.Warn("presence register failed", "error", err)
		}
	}
	return nil
}

// releaseStream closes the backend stream exactly once.
func (s *Session) releaseStream() {
	s.releaseOnce.Do(func() {
		if s.stream == nil {
			return
		}
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("failed to close generation stream", "error", err)
		}
	})
}

func (s *Session) teardown(ctx context.Context, err error) {
	s.state.CompareAndSwap(int32(StateActive), int32(StateClosing))

	cause := context.Cause(ctx)
	switch {
	case errors.Is(err, ErrBackend):
		s.writeDirect(ctx, errFrame("backend_failed", "the advisor stopped responding, please reconnect"))
	case errors.Is(err, ErrIdle):
		s.writeDirect(ctx, errFrame("idle_timeout", "session closed after inactivity"))
	case errors.Is(cause, ErrShutdown):
		s.writeDirect(ctx, errFrame("server_shutdown", "server is restarting, please reconnect"))
	case errors.Is(cause, ErrReplaced):
		s.writeDirect(ctx, errFrame("session_replaced", "this session was opened elsewhere"))
	}

	if n := len(s.inbound); n > 0 {
		s.logger.Info("discarding queued inbound frames", "count", n)
	}
	s.releaseStream()
	s.persist.Wait()

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if s.deps.Repo != nil {
		if err := s.deps.Repo.CloseSession(bg, s.id, s.connID, time.Now()); err != nil {
			s.logger.Warn("failed to record session close", "error", err)
		}
	}
	if s.deps.Presence != nil {
		if err := s.deps.Presence.Unregister(bg, s.userID, s.id, s.connID); err != nil {
			s.logger.Warn("presence unregister failed", "error", err)
		}
	}

	s.state.Store(int32(StateClosed))
	s.logger.Info("session closed", "reason", closeReason(err, cause), "duration", time.Since(s.createdAt).Round(time.Millisecond))
}

func closeReason(err, cause error) string {
	switch {
	case errors.Is(err, ErrClientClosed):
		return "client_closed"
	case errors.Is(err, ErrBackend):
		return "backend_failed"
	case errors.Is(err, ErrTransport):
		return "transport_failed"
	case errors.Is(err, ErrIdle):
		return "idle"
	case errors.Is(cause, ErrShutdown):
		return "shutdown"
	case errors.Is(cause, ErrReplaced):
		return "replaced"
	default:
		return "cancelled"
	}
}

// writeDirect bypasses the outbound queue; used once the loops are gone.
func (s *Session) writeDirect(ctx context.Context, frame []byte) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, frame); err != nil {
		s.logger.Debug("failed to write final frame", "error", err)
	}
}

func (s *Session) send(ctx context.Context, frame []byte) error {
	select {
	case s.outbound <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		raw, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrClientClosed) {
				return err
			}
			return fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		s.touch()

		in, err := decodeInbound(raw)
		if errors.Is(err, ErrMalformedFrame) {
			s.logger.Warn("malformed client frame", "error", err)
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if err != nil {
			s.logger.Warn("rejected client frame", "error", err)
			if err := s.send(ctx, warnFrame("unsupported_frame", err.Error())); err != nil {
				return err
			}
			continue
		}

		select {
		case s.inbound <- in:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) dispatchLoop(ctx, capCtx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-s.inbound:
			if err := s.dispatch(ctx, capCtx, in); err != nil {
				return err
			}
		}
	}
}

func (s *Session) dispatch(ctx, capCtx context.Context, in inbound) error {
	switch in.kind {
	case inboundAudio:
		return s.backendErr(ctx, s.stream.SendAudio(in.audio, in.mimeType))

	case inboundText:
		history := s.historySnapshot()
		s.recordUserText(ctx, in.text)

		prepared := s.deps.Advisor.Prepare(capCtx, s.profile, in.text, history)
		s.logCapabilities(prepared)
		if ctx.Err() != nil {
			// Closing: the results have nowhere to go.
			return ctx.Err()
		}
		return s.backendErr(ctx, s.stream.SendText(prepared.Prompt()))
	}
	return nil
}

// toolRequest is one batch of function calls from the live model.
type toolRequest struct {
	calls []generation.ToolCall
	// utterance is the user's speech transcribed so far in the turn.
	utterance string
}

// toolLoop answers the model's function calls. It runs apart from dispatch
// so audio keeps flowing while capabilities are looked up.
func (s *Session) toolLoop(ctx, capCtx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.tools:
			responses := s.resolveTools(capCtx, req)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.backendErr(ctx, s.stream.SendToolResponse(responses)); err != nil {
				return err
			}
		}
	}
}

func (s *Session) resolveTools(ctx context.Context, req toolRequest) []generation.ToolResponse {
	history := s.historySnapshot()
	out := make([]generation.ToolResponse, 0, len(req.calls))
	for _, call := range req.calls {
		resp := generation.ToolResponse{ID: call.ID, Name: call.Name}
		prepared, err := s.deps.Advisor.Resolve(ctx, s.profile, call.Name, call.Args, req.utterance, history)
		if err != nil {
			s.logger.Warn("rejected model function call", "name", call.Name, "error", err)
			resp.Output = map[string]any{"error": err.Error()}
		} else {
			s.logCapabilities(prepared)
			resp.Output = map[string]any{"result": prepared.Context}
		}
		out = append(out, resp)
	}
	return out
}

func (s *Session) backendErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: send: %w", ErrBackend, err)
}

func (s *Session) receiveLoop(ctx context.Context) error {
	for ev, err := range generation.Events(ctx, s.stream) {
		if err != nil {
			if t := s.mux.discard(); t != nil {
				s.logger.Warn("discarding partial agent turn", "segments", len(t.Segments))
			}
			return fmt.Errorf("%w: receive: %w", ErrBackend, err)
		}
		s.touch()

		out := s.mux.handle(ev)
		if len(out.tools) > 0 {
			select {
			case s.tools <- toolRequest{calls: out.tools, utterance: out.utterance}:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if out.heard != "" {
			s.recordUserText(ctx, out.heard)
		}
		if out.done != nil {
			s.recordTurn(ctx, *out.done)
		}
		if out.frame != nil {
			if err := s.send(ctx, out.frame); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.outbound:
			if err := s.conn.Write(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: write: %w", ErrTransport, err)
			}
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.cfg.IdleTimeout > 0 && s.idleFor() > s.cfg.IdleTimeout {
				return ErrIdle
			}
			if err := s.send(ctx, []byte(heartbeat)); err != nil {
				return err
			}
			if s.deps.Presence != nil {
				if err := s.deps.Presence.Refresh(ctx, s.userID, s.id); err != nil {
					s.logger.Debug("presence refresh failed", "error", err)
				}
			}
		}
	}
}

func (s *Session) historySnapshot() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// recordUserText records a finished user turn of text or transcribed speech.
func (s *Session) recordUserText(ctx context.Context, text string) {
	t := domain.NewTurn(domain.RoleUser)
	t.Append(domain.TextSegment(text, false))
	t.Finish(false)
	s.recordTurn(ctx, *t)
}

// recordTurn keeps a completed turn in memory and persists its text asynchronously.
func (s *Session) recordTurn(ctx context.Context, t domain.Turn) {
	s.mu.Lock()
	s.history = append(s.history, t.Clone())
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	text := t.Text()
	direction, eventType := "inbound", "user_turn"
	if t.Role == domain.RoleAgent {
		direction, eventType = "outbound", "agent_turn"
	}
	if s.deps.ConvLog != nil {
		s.deps.ConvLog.Log(agent.ConversationLogEvent{
			UserID:     s.userID,
			SessionID:  s.id,
			Channel:    string(s.mode),
			Direction:  direction,
			EventType:  eventType,
			ContentRaw: text,
			Meta: map[string]any{
				"interrupted": t.Interrupted,
				"segments":    len(t.Segments),
				"audio_bytes": t.AudioBytes(),
			},
		})
	}

	if s.deps.Repo == nil || text == "" {
		return
	}
	stored := domain.StoredTurn{
		SessionID:   s.id,
		UserID:      s.userID,
		Role:        t.Role,
		Text:        text,
		Interrupted: t.Interrupted,
		CreatedAt:   time.Now(),
	}
	s.persist.Add(1)
	go func() {
		defer s.persist.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := s.deps.Repo.AppendTurn(bg, stored); err != nil {
			s.logger.Warn("failed to store turn", "role", t.Role, "error", err)
		}
	}()
}

func (s *Session) recordSession(ctx context.Context) {
	if s.deps.Repo == nil {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := s.deps.Repo.RecordSession(bg, domain.SessionRecord{
		SessionID:    s.id,
		ConnectionID: s.connID,
		UserID:       s.userID,
		Mode:         s.mode,
		Language:     s.profile.Language.Name,
		Degraded:     s.profile.Degraded,
		CreatedAt:    s.createdAt,
	}); err != nil {
		s.logger.Warn("failed to record session", "error", err)
	}
}

func (s *Session) logCapabilities(p agent.Prepared) {
	if len(p.Results) == 0 || s.deps.ConvLog == nil {
		return
	}
	results := make([]map[string]any, 0, len(p.Results))
	for _, r := range p.Results {
		entry := map[string]any{"kind": r.Kind, "elapsed_ms": r.Elapsed.Milliseconds()}
		if !r.OK() {
			entry["failure"] = r.Failure.Reason
		}
		results = append(results, entry)
	}
	s.deps.ConvLog.Log(agent.ConversationLogEvent{
		UserID:     s.userID,
		SessionID:  s.id,
		Channel:    string(s.mode),
		Direction:  "internal",
		EventType:  "capability_results",
		ContentRaw: p.Context,
		Meta:       map[string]any{"results": results, "language": p.Plan.Language.Name},
	})
}
