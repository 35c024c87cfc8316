package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

func TestTranslateModelTurn(t *testing.T) {
	msg := &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking...", Thought: true},
			{Text: "गेहूं का भाव "},
			{InlineData: &genai.Blob{Data: []byte{1, 2, 3}, MIMEType: "audio/pcm;rate=24000"}},
		}},
	}}

	ev, ok := translate(msg)
	require.True(t, ok)
	require.Len(t, ev.Segments, 2)
	assert.Equal(t, domain.SegmentText, ev.Segments[0].Kind)
	assert.True(t, ev.Segments[0].Partial)
	assert.Equal(t, "गेहूं का भाव ", ev.Segments[0].Text)
	assert.Equal(t, domain.SegmentAudio, ev.Segments[1].Kind)
	assert.Equal(t, []byte{1, 2, 3}, ev.Segments[1].Audio)
	assert.False(t, ev.IsBoundary())
}

func TestTranslateBoundaryAndTranscripts(t *testing.T) {
	ev, ok := translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}})
	require.True(t, ok)
	assert.True(t, ev.TurnComplete)
	assert.True(t, ev.IsBoundary())

	ev, ok = translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}})
	require.True(t, ok)
	assert.True(t, ev.Interrupted)

	ev, ok = translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		InputTranscription: &genai.Transcription{Text: "mandi price"},
	}})
	require.True(t, ok)
	assert.Equal(t, "mandi price", ev.InputTranscript)
}

func TestTranslateSkipsControlMessages(t *testing.T) {
	_, ok := translate(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}})
	assert.False(t, ok)
	_, ok = translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{GenerationComplete: true}})
	assert.False(t, ok)
	_, ok = translate(nil)
	assert.False(t, ok)
}

type fakeModels struct {
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
	text     string
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents, f.cfg = contents, cfg
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText(f.text, genai.RoleModel),
	}}}, nil
}

func TestSearchUsesGoogleSearchAndLanguage(t *testing.T) {
	fm := &fakeModels{text: "  answer  "}
	g := &TextGenerator{models: fm, model: "m"}
	hi, _ := domain.ParseLanguage("hi")

	text, err := g.Search(context.Background(), "wheat price Punjab", hi)
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	require.Len(t, fm.cfg.Tools, 1)
	assert.NotNil(t, fm.cfg.Tools[0].GoogleSearch)
	assert.Contains(t, fm.cfg.SystemInstruction.Parts[0].Text, "Respond ENTIRELY in Hindi")
}

func TestAdviseCropIncludesProfile(t *testing.T) {
	fm := &fakeModels{text: "sow mustard"}
	g := &TextGenerator{models: fm, model: "m"}

	profile := domain.UserProfile{Name: "Ramesh", City: "Ludhiana", State: "Punjab", Language: domain.DefaultLanguage}
	_, err := g.AdviseCrop(context.Background(), "what to sow in rabi?", profile)
	require.NoError(t, err)
	sys := fm.cfg.SystemInstruction.Parts[0].Text
	assert.Contains(t, sys, "Ludhiana, Punjab")
	assert.Contains(t, sys, "Kharif")
}

func TestAnalyzeImage(t *testing.T) {
	fm := &fakeModels{text: "leaf rust"}
	g := &TextGenerator{models: fm, model: "m"}

	text, err := g.AnalyzeImage(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "leaf rust", text)
	require.Len(t, fm.contents, 1)
	parts := fm.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
}

func TestGenerateErrors(t *testing.T) {
	g := &TextGenerator{models: &fakeModels{text: ""}, model: "m"}
	_, err := g.Search(context.Background(), "q", domain.DefaultLanguage)
	assert.ErrorIs(t, err, ErrNoText)

	boom := errors.New("quota")
	g = &TextGenerator{models: &fakeModels{err: boom}, model: "m"}
	_, err = g.Search(context.Background(), "q", domain.DefaultLanguage)
	assert.ErrorIs(t, err, boom)
}

func TestAdvisorInstruction(t *testing.T) {
	ta, _ := domain.ParseLanguage("tamil")
	s := AdvisorInstruction(domain.UserProfile{Name: "Lakshmi", State: "Tamil Nadu"}, ta)
	assert.Contains(t, s, "Respond ENTIRELY in Tamil")
	assert.Contains(t, s, "Farmer profile: name: Lakshmi, location: Tamil Nadu.")
	assert.Contains(t, s, "userid: <id>  message: <text>")
}

func TestUnconfiguredBackend(t *testing.T) {
	stream, err := Unconfigured{}.Connect(context.Background(), ConnectOptions{SessionID: "s1"})
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, ErrUnconfigured)
}

func TestTranslateToolCall(t *testing.T) {
	ev, ok := translate(&genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{
		FunctionCalls: []*genai.FunctionCall{
			{ID: "call-1", Name: "get_agriculture_data", Args: map[string]any{"state": "Punjab"}},
			nil,
		},
	}})
	require.True(t, ok)
	require.Len(t, ev.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call-1", Name: "get_agriculture_data", Args: map[string]any{"state": "Punjab"}}, ev.ToolCalls[0])
	assert.False(t, ev.IsBoundary())

	_, ok = translate(&genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{}})
	assert.False(t, ok)
}

func TestFunctionTool(t *testing.T) {
	assert.Nil(t, functionTool(nil))

	schema := map[string]any{"type": "object"}
	tool := functionTool([]ToolSpec{{Name: "fetch_tutorials", Description: "Tutorial videos.", Parameters: schema}})
	require.NotNil(t, tool)
	require.Len(t, tool.FunctionDeclarations, 1)
	decl := tool.FunctionDeclarations[0]
	assert.Equal(t, "fetch_tutorials", decl.Name)
	assert.Equal(t, "Tutorial videos.", decl.Description)
	assert.Equal(t, schema, decl.ParametersJsonSchema)
}
