package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

// ErrNoText is returned when the model answers with no text.
var ErrNoText = errors.New("model returned no text")

// contentGenerator is the slice of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// TextGenerator runs single-shot generations. It backs the web search and
// crop advice capabilities and the image analysis endpoint.
type TextGenerator struct {
	models contentGenerator
	model  string
}

// NewTextGenerator creates a generator on client's models service.
func NewTextGenerator(client *genai.Client, model string) *TextGenerator {
	return &TextGenerator{models: client.Models, model: model}
}

// Search answers query with Google Search grounding.
func (g *TextGenerator) Search(ctx context.Context, query string, lang domain.Language) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: systemContent(withLanguage(searchInstruction, lang)),
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	return g.generate(ctx, []*genai.Content{genai.NewContentFromText(query, genai.RoleUser)}, cfg)
}

// AdviseCrop answers an agronomy question for the farmer in profile.
func (g *TextGenerator) AdviseCrop(ctx context.Context, question string, profile domain.UserProfile) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: systemContent(withLanguage(cropInstruction, profile.Language, profileContext(profile))),
	}
	return g.generate(ctx, []*genai.Content{genai.NewContentFromText(question, genai.RoleUser)}, cfg)
}

// AnalyzeImage describes a farm image and gives advice.
func (g *TextGenerator) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(imageInstruction),
		}, genai.RoleUser),
	}
	return g.generate(ctx, contents, nil)
}

func (g *TextGenerator) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func systemContent(text string) *genai.Content {
	return &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(text)}}
}
