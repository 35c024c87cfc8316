package capability

import (
	"context"
	"strings"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
)

// Searcher answers a question using a search-grounded model.
type Searcher interface {
	Search(ctx context.Context, query string, lang domain.Language) (string, error)
}

// CropAdvisor answers agronomy questions with a crop-expert model.
type CropAdvisor interface {
	AdviseCrop(ctx context.Context, question string, profile domain.UserProfile) (string, error)
}

// WebSearchSource adapts a Searcher.
type WebSearchSource struct {
	searcher Searcher
}

// NewWebSearchSource creates a web search source. A nil searcher yields unconfigured failures.
func NewWebSearchSource(s Searcher) *WebSearchSource {
	return &WebSearchSource{searcher: s}
}

// Kind implements Source.
func (w *WebSearchSource) Kind() Kind { return KindWebSearch }

// Fetch implements Source.
func (w *WebSearchSource) Fetch(ctx context.Context, call Call) (any, error) {
	in, ok := call.(WebSearchInput)
	if !ok {
		return nil, wrongCall(KindWebSearch, call)
	}
	if w.searcher == nil {
		return nil, ErrUnconfigured
	}
	lang, _ := domain.ParseLanguage(in.Language)
	text, err := w.searcher.Search(ctx, in.Query, lang)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	return Answer{Text: text}, nil
}

// CropAdviceSource adapts a CropAdvisor.
type CropAdviceSource struct {
	advisor CropAdvisor
}

// NewCropAdviceSource creates a crop advice source. A nil advisor yields unconfigured failures.
func NewCropAdviceSource(a CropAdvisor) *CropAdviceSource {
	return &CropAdviceSource{advisor: a}
}

// Kind implements Source.
func (c *CropAdviceSource) Kind() Kind { return KindCropAdvice }

// Fetch implements Source.
func (c *CropAdviceSource) Fetch(ctx context.Context, call Call) (any, error) {
	in, ok := call.(CropAdviceInput)
	if !ok {
		return nil, wrongCall(KindCropAdvice, call)
	}
	if c.advisor == nil {
		return nil, ErrUnconfigured
	}
	text, err := c.advisor.AdviseCrop(ctx, in.Question, in.Profile)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmpty
	}
	return Answer{Text: text}, nil
}
