package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SidGoyal2014/gah-final-submission/internal/agent"
	"github.com/SidGoyal2014/gah-final-submission/internal/capability"
	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/generation"
	"github.com/SidGoyal2014/gah-final-submission/internal/presence"
	"github.com/SidGoyal2014/gah-final-submission/internal/profile"
	"github.com/SidGoyal2014/gah-final-submission/internal/router"
	"github.com/SidGoyal2014/gah-final-submission/internal/store"
	"github.com/SidGoyal2014/gah-final-submission/internal/upstream"
)

const farmer = "9876543210"

func TestTextTurnStreamsFragmentsAndPersists(t *testing.T) {
	repo, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	stream := newFakeStream()
	stream.reply = replyWith("Namaste ", "Ramesh, ", "gehun ka bhav 2275 hai.")
	backend := &fakeBackend{stream: stream}
	dir := presence.NewMemoryDirectory()
	m := newTestManager(t, testConfig(), Deps{Backend: backend, Repo: repo, Presence: dir})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)

	conn.sendText("mandi bhav batao")
	text, b := conn.collectTurn(t)
	assert.Equal(t, "Namaste Ramesh, gehun ka bhav 2275 hai.", text, "fragments concatenate to the full reply")
	assert.Equal(t, boundaryFrame{TurnComplete: true}, b)
	assert.Equal(t, []string{"userid: 9876543210  message: mandi bhav batao"}, stream.sentTexts())

	entries, err := dir.Sessions(context.Background(), farmer)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].SessionID)

	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))
	assert.Equal(t, int32(1), stream.closes.Load())

	turns, err := repo.ListTurns(context.Background(), farmer, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "mandi bhav batao", turns[0].Text)
	assert.Equal(t, domain.RoleAgent, turns[1].Role)
	assert.Equal(t, text, turns[1].Text)

	entries, err = dir.Sessions(context.Background(), farmer)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.Len(t, backend.opts, 1)
	assert.Equal(t, "hindi", backend.opts[0].Language.Name)
}

func TestBackendReleasedOnceWithinGracePeriod(t *testing.T) {
	stream := newFakeStream()
	cfg := testConfig()
	cfg.GracePeriod = 50 * time.Millisecond
	m := newTestManager(t, cfg, Deps{Backend: &fakeBackend{stream: stream}, Advisor: echoPreparer{block: true}})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)
	waitFor(t, func() bool { s := m.Get(farmer, "s1"); return s != nil && s.State() == StateActive })
	s := m.Get(farmer, "s1")

	// The capability call never returns on its own.
	conn.sendText("fertilizer for wheat")
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	conn.hangUp()
	s.Close(ErrShutdown)
	s.Close(nil)
	require.NoError(t, waitErr(t, done, time.Second))
	assert.Less(t, time.Since(start), cfg.GracePeriod+500*time.Millisecond)

	assert.Equal(t, int32(1), stream.closes.Load(), "backend handle released exactly once")
	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, stream.sentTexts(), "results of a closing session are discarded")
	assert.Nil(t, m.Get(farmer, "s1"))
}

func TestHeartbeatWithoutTurns(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 15 * time.Millisecond
	m := newTestManager(t, cfg, Deps{Backend: &fakeBackend{stream: newFakeStream()}})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)

	for i := 0; i < 3; i++ {
		select {
		case f := <-conn.out:
			assert.Equal(t, heartbeat, string(f))
		case <-time.After(time.Second):
			t.Fatal("no heartbeat")
		}
	}
	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))
}

func TestFailedHeartbeatWriteIsDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	stream := newFakeStream()
	m := newTestManager(t, cfg, Deps{Backend: &fakeBackend{stream: stream}})

	conn := newFakeConn()
	conn.failWrites.Store(true)
	err := waitErr(t, serveAsync(m, conn, farmer, "s1", domain.ModeText), time.Second)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestIdleSessionCloses(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.IdleTimeout = 30 * time.Millisecond
	m := newTestManager(t, cfg, Deps{Backend: &fakeBackend{stream: newFakeStream()}})

	conn := newFakeConn()
	err := waitErr(t, serveAsync(m, conn, farmer, "s1", domain.ModeText), time.Second)
	assert.ErrorIs(t, err, ErrIdle)
	assert.JSONEq(t, `{"error":"idle_timeout","message":"session closed after inactivity"}`, string(conn.next(t)))
}

func TestUnknownFrameKindKeepsSessionOpen(t *testing.T) {
	stream := newFakeStream()
	stream.reply = replyWith("ok")
	m := newTestManager(t, testConfig(), Deps{Backend: &fakeBackend{stream: stream}})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)

	conn.in <- []byte(`{"mime_type":"image/png","data":"iVBORw0"}`)
	var w warningFrame
	require.NoError(t, json.Unmarshal(conn.next(t), &w))
	assert.Equal(t, "unsupported_frame", w.Warning)

	conn.sendText("still there?")
	text, _ := conn.collectTurn(t)
	assert.Equal(t, "ok", text)

	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))
}

func TestMalformedFrameIsTransportFailure(t *testing.T) {
	stream := newFakeStream()
	m := newTestManager(t, testConfig(), Deps{Backend: &fakeBackend{stream: stream}})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)
	conn.in <- []byte(`not json`)

	err := waitErr(t, done, time.Second)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestBackendFailureDiscardsPartialTurn(t *testing.T) {
	repo, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	stream := newFakeStream()
	stream.reply = func(s *fakeStream, _ string) {
		s.events <- generation.Event{Segments: []domain.Segment{domain.TextSegment("Half an ans", true)}}
		go func() {
			time.Sleep(20 * time.Millisecond)
			s.recvErr <- errors.New("websocket: close 1011")
		}()
	}
	m := newTestManager(t, testConfig(), Deps{Backend: &fakeBackend{stream: stream}, Repo: repo})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)
	conn.sendText("which crop for kharif?")

	var env envelope
	require.NoError(t, json.Unmarshal(conn.next(t), &env))
	assert.Equal(t, "Half an ans", env.Data)

	var ef errorFrame
	require.NoError(t, json.Unmarshal(conn.next(t), &ef))
	assert.Equal(t, "backend_failed", ef.Error)

	err = waitErr(t, done, time.Second)
	assert.ErrorIs(t, err, ErrBackend)

	turns, err := repo.ListTurns(context.Background(), farmer, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1, "the partial agent turn is not stored")
	assert.Equal(t, domain.RoleUser, turns[0].Role)
}

func TestSetupFailureSendsErrorFrame(t *testing.T) {
	m := newTestManager(t, testConfig(), Deps{Backend: &fakeBackend{err: errors.New("quota exceeded")}})

	conn := newFakeConn()
	err := waitErr(t, serveAsync(m, conn, farmer, "s1", domain.ModeText), time.Second)
	require.Error(t, err)
	assert.JSONEq(t, `{"error":"setup_failed","message":"could not start the advisor session"}`, string(conn.next(t)))
	users, sessions := m.Counts()
	assert.Zero(t, users)
	assert.Zero(t, sessions)
}

// marketAdvisor answers market lookups with one Patna wheat price.
func marketAdvisor(t *testing.T) *agent.Advisor {
	t.Helper()
	reg, err := capability.LoadRegistry()
	require.NoError(t, err)
	inv := capability.NewInvoker(time.Second, nil, staticSource{
		kind:    capability.KindMarketPrice,
		payload: []capability.PriceRecord{{State: "Bihar", Market: "Patna", Commodity: "Wheat", ModalPrice: "2210"}},
	})
	return agent.NewAdvisor(router.New(reg), inv, reg, nil)
}

func TestAudioToolCallAnsweredBeforeTurnComplete(t *testing.T) {
	repo, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	reply := []byte{0x10, 0x20}
	stream := newFakeStream()
	// The model only speaks once it has the lookup result.
	stream.toolReply = func(s *fakeStream, _ []generation.ToolResponse) {
		s.events <- generation.Event{Segments: []domain.Segment{domain.AudioSegment(reply, "audio/pcm;rate=24000")}}
		s.events <- generation.Event{TurnComplete: true}
	}
	backend := &fakeBackend{stream: stream}
	m := newTestManager(t, testConfig(), Deps{Backend: backend, Advisor: marketAdvisor(t), Repo: repo})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeAudio)

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	conn.in <- mustJSON(envelope{MimeType: "audio/pcm;rate=16000", Data: base64.StdEncoding.EncodeToString(pcm)})
	waitFor(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.audio) == 1
	})
	assert.Equal(t, pcm, stream.audio[0])

	backend.mu.Lock()
	declared := backend.opts[0].Tools
	backend.mu.Unlock()
	var names []string
	for _, tool := range declared {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "get_agriculture_data")
	assert.Contains(t, names, "farmer_google")

	stream.events <- generation.Event{InputTranscript: "gehun ka bhav "}
	stream.events <- generation.Event{InputTranscript: "batao"}
	stream.events <- generation.Event{ToolCalls: []generation.ToolCall{{
		ID: "call-1", Name: "get_agriculture_data", Args: map[string]any{"commodity": "Wheat"},
	}}}

	var env envelope
	require.NoError(t, json.Unmarshal(conn.next(t), &env))
	assert.Equal(t, "audio/pcm;rate=24000", env.MimeType)
	got, err := base64.StdEncoding.DecodeString(env.Data)
	require.NoError(t, err)
	assert.Equal(t, reply, got)

	var b boundaryFrame
	require.NoError(t, json.Unmarshal(conn.next(t), &b))
	assert.True(t, b.TurnComplete)

	responses := stream.sentToolResponses()
	require.Len(t, responses, 1, "the lookup reached the model before turn_complete")
	require.Len(t, responses[0], 1)
	resp := responses[0][0]
	assert.Equal(t, "call-1", resp.ID)
	assert.Equal(t, "get_agriculture_data", resp.Name)
	result, ok := resp.Output["result"].(string)
	require.True(t, ok, "output %v", resp.Output)
	assert.Contains(t, result, "answer only in Hindi")
	assert.Contains(t, result, "state=Bihar commodity=Wheat")
	assert.Contains(t, result, `"modal_price":"2210"`)
	assert.Empty(t, stream.sentTexts(), "audio turns never ask the model for a second reply")

	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))

	turns, err := repo.ListTurns(context.Background(), farmer, 10)
	require.NoError(t, err)
	require.NotEmpty(t, turns)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "gehun ka bhav batao", turns[0].Text, "the heard transcript is kept as the user turn")
}

func TestAudioUnknownToolCallGetsError(t *testing.T) {
	stream := newFakeStream()
	m := newTestManager(t, testConfig(), Deps{Backend: &fakeBackend{stream: stream}, Advisor: marketAdvisor(t)})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeAudio)
	waitFor(t, func() bool { s := m.Get(farmer, "s1"); return s != nil && s.State() == StateActive })

	stream.events <- generation.Event{ToolCalls: []generation.ToolCall{{ID: "call-9", Name: "get_weather"}}}
	waitFor(t, func() bool { return len(stream.sentToolResponses()) == 1 })

	resp := stream.sentToolResponses()[0][0]
	assert.Equal(t, "call-9", resp.ID)
	assert.Contains(t, resp.Output["error"], "unknown capability")
	assert.Equal(t, StateActive, m.Get(farmer, "s1").State(), "a bad call does not end the session")

	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))
}

func TestTextSessionDeclaresNoTools(t *testing.T) {
	backend := &fakeBackend{stream: newFakeStream()}
	m := newTestManager(t, testConfig(), Deps{Backend: backend})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)
	waitFor(t, func() bool { s := m.Get(farmer, "s1"); return s != nil && s.State() == StateActive })

	backend.mu.Lock()
	assert.Empty(t, backend.opts[0].Tools)
	backend.mu.Unlock()

	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))
}

// A profile service that never answers degrades the session to the default
// English profile; the backend still gets a live setup deadline.
func TestHangingProfileServiceDegradesSession(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.ProfileTimeout = 50 * time.Millisecond
	cfg.SetupTimeout = 500 * time.Millisecond
	backend := &deadlineBackend{fakeBackend: fakeBackend{stream: newFakeStream()}}
	m := newTestManager(t, cfg, Deps{
		Backend:  backend,
		Profiles: profile.NewHTTPResolver(upstream.New(), srv.URL, nil),
	})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)
	waitFor(t, func() bool { s := m.Get(farmer, "s1"); return s != nil && s.State() == StateActive })

	info := m.Get(farmer, "s1").Info()
	assert.True(t, info.Degraded)
	assert.Equal(t, "english", info.Language)

	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))
}

// deadlineBackend fails Connect when the setup deadline is already spent.
type deadlineBackend struct {
	fakeBackend
}

func (b *deadlineBackend) Connect(ctx context.Context, opts generation.ConnectOptions) (generation.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.fakeBackend.Connect(ctx, opts)
}

type staticSource struct {
	kind    capability.Kind
	payload any
}

func (s staticSource) Kind() capability.Kind { return s.kind }

func (s staticSource) Fetch(context.Context, capability.Call) (any, error) {
	return s.payload, nil
}

// The market lookup hangs past its deadline; the advisor falls back to a web
// search and the model receives Hindi context it can answer from.
func TestMandiQuestionFallsBackToWebSearch(t *testing.T) {
	reg, err := capability.LoadRegistry()
	require.NoError(t, err)
	inv := capability.NewInvoker(50*time.Millisecond, nil,
		hangingSource{kind: capability.KindMarketPrice},
		capability.NewWebSearchSource(hindiSearcher{}),
	)
	advisor := agent.NewAdvisor(router.New(reg), inv, reg, nil)

	stream := newFakeStream()
	stream.reply = replyWith("पंजाब में गेहूं ", "का भाव 2275 रुपये है।")
	m := newTestManager(t, testConfig(), Deps{Backend: &fakeBackend{stream: stream}, Advisor: advisor})

	conn := newFakeConn()
	done := serveAsync(m, conn, farmer, "s1", domain.ModeText)
	conn.sendText("What is the mandi price of wheat in Punjab?")

	text, b := conn.collectTurn(t)
	assert.True(t, b.TurnComplete)
	assert.Equal(t, "पंजाब में गेहूं का भाव 2275 रुपये है।", text)

	sent := stream.sentTexts()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0], "userid: 9876543210  message: What is the mandi price of wheat in Punjab?"))
	assert.Contains(t, sent[0], "answer only in Hindi")
	assert.Contains(t, sent[0], "[get_agriculture_data] state=Punjab commodity=Wheat\nunavailable")
	assert.Contains(t, sent[0], "[farmer_google]")
	assert.Contains(t, sent[0], "गेहूं का मॉडल भाव")

	conn.hangUp()
	require.NoError(t, waitErr(t, done, time.Second))
}

type hangingSource struct{ kind capability.Kind }

func (h hangingSource) Kind() capability.Kind { return h.kind }

func (h hangingSource) Fetch(ctx context.Context, _ capability.Call) (any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type hindiSearcher struct{}

func (hindiSearcher) Search(_ context.Context, _ string, lang domain.Language) (string, error) {
	if lang.Code != "hi" {
		return "", errors.New("expected hindi")
	}
	return "खन्ना मंडी में गेहूं का मॉडल भाव 2275 रुपये प्रति क्विंटल है।", nil
}
