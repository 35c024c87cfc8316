package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SidGoyal2014/gah-final-submission/internal/agent"
	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
	"github.com/SidGoyal2014/gah-final-submission/internal/profile"
)

// fakeConn is an in-memory client connection.
type fakeConn struct {
	in         chan []byte
	out        chan []byte
	closed     chan struct{}
	hangOnce   sync.Once
	failWrites atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, frame []byte) error {
	if c.failWrites.Load() {
		return errors.New("broken pipe")
	}
	select {
	case c.out <- append([]byte(nil), frame...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) sendText(text string) {
	c.in <- mustJSON(envelope{MimeType: mimeText, Data: text})
}

func (c *fakeConn) hangUp() {
	c.hangOnce.Do(func() { close(c.closed) })
}

// next returns the next non-heartbeat frame.
func (c *fakeConn) next(t *testing.T) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.out:
			if string(f) == heartbeat {
				continue
			}
			return f
		case <-deadline:
			t.Fatal("timed out waiting for an outbound frame")
			return nil
		}
	}
}

// collectTurn reads frames until a boundary and returns the concatenated text.
func (c *fakeConn) collectTurn(t *testing.T) (string, boundaryFrame) {
	t.Helper()
	var text string
	for {
		f := c.next(t)
		var b boundaryFrame
		if json.Unmarshal(f, &b) == nil && (b.TurnComplete || b.Interrupted) {
			return text, b
		}
		var env envelope
		require.NoError(t, json.Unmarshal(f, &env), "frame %s", f)
		if env.MimeType == mimeText {
			text += env.Data
		}
	}
}

// fakeStream is a scripted generation stream.
type fakeStream struct {
	events    chan generation.Event
	recvErr   chan error
	done      chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu    sync.Mutex
	texts []string
	tools [][]generation.ToolResponse
	audio [][]byte
	reply func(s *fakeStream, text string)
	// toolReply runs after a tool response is recorded.
	toolReply func(s *fakeStream, responses []generation.ToolResponse)
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events:  make(chan generation.Event, 64),
		recvErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *fakeStream) SendText(text string) error {
	if s.isClosed() {
		return generation.ErrStreamClosed
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	reply := s.reply
	s.mu.Unlock()
	if reply != nil {
		reply(s, text)
	}
	return nil
}

func (s *fakeStream) SendToolResponse(responses []generation.ToolResponse) error {
	if s.isClosed() {
		return generation.ErrStreamClosed
	}
	s.mu.Lock()
	s.tools = append(s.tools, responses)
	reply := s.toolReply
	s.mu.Unlock()
	if reply != nil {
		reply(s, responses)
	}
	return nil
}

func (s *fakeStream) SendAudio(chunk []byte, _ string) error {
	if s.isClosed() {
		return generation.ErrStreamClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, chunk)
	return nil
}

func (s *fakeStream) Recv() (generation.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.recvErr:
		return generation.Event{}, err
	case <-s.done:
		return generation.Event{}, generation.ErrStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *fakeStream) sentToolResponses() [][]generation.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]generation.ToolResponse(nil), s.tools...)
}

// replyWith streams partials, then the redundant final text, then turn_complete.
func replyWith(parts ...string) func(*fakeStream, string) {
	return func(s *fakeStream, _ string) {
		full := ""
		for _, p := range parts {
			full += p
			s.events <- generation.Event{Segments: []domain.Segment{domain.TextSegment(p, true)}}
		}
		s.events <- generation.Event{Segments: []domain.Segment{domain.TextSegment(full, false)}}
		s.events <- generation.Event{TurnComplete: true}
	}
}

type fakeBackend struct {
	stream *fakeStream
	// factory, when set, gives every session its own stream.
	factory func() *fakeStream
	err     error

	mu   sync.Mutex
	opts []generation.ConnectOptions
}

func (b *fakeBackend) Connect(_ context.Context, opts generation.ConnectOptions) (generation.Stream, error) {
	b.mu.Lock()
	b.opts = append(b.opts, opts)
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.factory != nil {
		return b.factory(), nil
	}
	return b.stream, nil
}

// echoPreparer passes the utterance through with an optional context block.
type echoPreparer struct {
	context string
	block   bool
}

func (p echoPreparer) Prepare(ctx context.Context, prof domain.UserProfile, utterance string, _ []domain.Turn) agent.Prepared {
	if p.block {
		<-ctx.Done()
	}
	return agent.Prepared{Message: agent.UserMessage(prof.UserID, utterance), Context: p.context}
}

func (p echoPreparer) Resolve(ctx context.Context, _ domain.UserProfile, name string, _ map[string]any, _ string, _ []domain.Turn) (agent.Prepared, error) {
	if p.block {
		<-ctx.Done()
	}
	return agent.Prepared{Context: p.context + " " + name}, nil
}

func (echoPreparer) Tools() []generation.ToolSpec {
	return []generation.ToolSpec{{Name: "get_agriculture_data", Description: "Current mandi prices."}}
}

func testConfig() Config {
	return Config{
		HeartbeatInterval: time.Hour,
		IdleTimeout:       time.Hour,
		QueueSize:         8,
		GracePeriod:       100 * time.Millisecond,
		SetupTimeout:      time.Second,
		ProfileTimeout:    500 * time.Millisecond,
		Instance:          "test",
	}
}

func hindiProfile() profile.Static {
	hi, _ := domain.ParseLanguage("hi")
	return profile.Static{Profile: domain.UserProfile{Name: "Ramesh", State: "Bihar", Language: hi}}
}

func newTestManager(t *testing.T, cfg Config, deps Deps) *Manager {
	t.Helper()
	if deps.Profiles == nil {
		deps.Profiles = hindiProfile()
	}
	if deps.Advisor == nil {
		deps.Advisor = echoPreparer{}
	}
	m, err := NewManager(cfg, deps)
	require.NoError(t, err)
	return m
}

// serveAsync runs a session and returns a channel with its result.
func serveAsync(m *Manager, conn Conn, userID, sessionID string, mode domain.Mode) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Serve(context.Background(), conn, userID, sessionID, mode) }()
	return done
}

func waitErr(t *testing.T, done <-chan error, within time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(within):
		t.Fatalf("session did not close within %s", within)
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
