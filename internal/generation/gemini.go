package generation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

// GeminiConfig selects the Gemini backend and models.
type GeminiConfig struct {
	APIKey    string
	UseVertex bool
	Project   string
	Location  string
	LiveModel string
	TextModel string
}

// NewGeminiClient builds a genai client for cfg.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	if cfg.UseVertex {
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.HTTPOptions = genai.HTTPOptions{APIVersion: "v1beta1"}
	} else {
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
		cc.HTTPOptions = genai.HTTPOptions{APIVersion: "v1alpha"}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// Gemini implements Backend over the Gemini Live API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates a live backend.
func NewGemini(client *genai.Client, model string, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{client: client, model: model, logger: logger}
}

// Connect opens a live session with the response modality of opts.Mode.
func (g *Gemini) Connect(ctx context.Context, opts ConnectOptions) (Stream, error) {
	modality := genai.ModalityText
	if opts.Mode == domain.ModeAudio {
		modality = genai.ModalityAudio
	}
	instruction := AdvisorInstruction(opts.Profile, opts.Language)
	if len(opts.Tools) > 0 {
		instruction += "\n\n" + toolDirective
	}
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{modality},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(instruction)},
		},
	}
	if opts.Mode == domain.ModeAudio {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if tool := functionTool(opts.Tools); tool != nil {
		cfg.Tools = []*genai.Tool{tool}
	}

	sess, err := g.client.Live.Connect(ctx, g.model, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect live model %s: %w", g.model, err)
	}
	g.logger.Debug("live model connected", "session_id", opts.SessionID, "model", g.model, "mode", opts.Mode)
	return &liveStream{sess: sess, closed: make(chan struct{})}, nil
}

// liveStream adapts *genai.Session. The genai session is not safe for
// concurrent writes, so sends are serialized.
type liveStream struct {
	sess *genai.Session

	sendMu sync.Mutex
	once   sync.Once
	closed chan struct{}
}

func (s *liveStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *liveStream) send(fn func() error) error {
	if s.isClosed() {
		return ErrStreamClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return fn()
}

func (s *liveStream) SendText(text string) error {
	return s.send(func() error {
		return s.sess.SendClientContent(genai.LiveClientContentInput{
			Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
			TurnComplete: genai.Ptr(true),
		})
	})
}

func (s *liveStream) SendToolResponse(responses []ToolResponse) error {
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Output})
	}
	return s.send(func() error {
		return s.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out})
	})
}

func (s *liveStream) SendAudio(chunk []byte, mimeType string) error {
	return s.send(func() error {
		return s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: chunk, MIMEType: mimeType},
		})
	})
}

func (s *liveStream) Recv() (Event, error) {
	for {
		msg, err := s.sess.Receive()
		if err != nil {
			if s.isClosed() {
				return Event{}, ErrStreamClosed
			}
			return Event{}, fmt.Errorf("receive live message: %w", err)
		}
		ev, ok := translate(msg)
		if ok {
			return ev, nil
		}
	}
}

func (s *liveStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if cerr := s.sess.Close(); cerr != nil {
			err = fmt.Errorf("close live session: %w", cerr)
		}
	})
	return err
}

func functionTool(specs []ToolSpec) *genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tool := &genai.Tool{}
	for _, spec := range specs {
		tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: spec.Parameters,
		})
	}
	return tool
}

// translate converts a server message into an Event. Messages that carry
// nothing the session cares about (setup, usage, VAD) are skipped.
func translate(msg *genai.LiveServerMessage) (Event, bool) {
	if msg == nil {
		return Event{}, false
	}
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		var ev Event
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil || fc.Name == "" {
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		return ev, len(ev.ToolCalls) > 0
	}
	if msg.ServerContent == nil {
		return Event{}, false
	}
	sc := msg.ServerContent
	var ev Event

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.Thought {
				continue
			}
			switch {
			case part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "audio/"):
				ev.Segments = append(ev.Segments, domain.AudioSegment(part.InlineData.Data, part.InlineData.MIMEType))
			case part.Text != "":
				// Live text always arrives as increments of the running turn.
				ev.Segments = append(ev.Segments, domain.TextSegment(part.Text, true))
			}
		}
	}
	if sc.InputTranscription != nil {
		ev.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.OutputTranscript = sc.OutputTranscription.Text
	}
	ev.TurnComplete = sc.TurnComplete
	ev.Interrupted = sc.Interrupted

	empty := len(ev.Segments) == 0 && !ev.IsBoundary() && ev.InputTranscript == "" && ev.OutputTranscript == ""
	return ev, !empty
}
