package capability

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/upstream"
)

const watchURL = "https://www.youtube.com/watch?v="

// TutorialSource searches YouTube for farming tutorials.
type TutorialSource struct {
	client   *upstream.Client
	endpoint string
	apiKey   string
	max      int
}

// NewTutorialSource creates a tutorial search source.
func NewTutorialSource(client *upstream.Client, endpoint, apiKey string, max int) *TutorialSource {
	if max <= 0 || max > 5 {
		max = 5
	}
	return &TutorialSource{client: client, endpoint: endpoint, apiKey: apiKey, max: max}
}

// Kind implements Source.
func (t *TutorialSource) Kind() Kind { return KindTutorials }

// TutorialQuery builds the search text and relevance language for a topic.
func TutorialQuery(topic, language string) (query string, langCode string) {
	lang, _ := domain.ParseLanguage(language)
	query = strings.TrimSpace(topic) + " farming agriculture tutorial"
	if !lang.IsDefault() {
		query += " " + lang.Name
	}
	return query, lang.Code
}

// Fetch implements Source.
func (t *TutorialSource) Fetch(ctx context.Context, call Call) (any, error) {
	in, ok := call.(TutorialInput)
	if !ok {
		return nil, wrongCall(KindTutorials, call)
	}
	if t.endpoint == "" || t.apiKey == "" {
		return nil, ErrUnconfigured
	}

	q, code := TutorialQuery(in.Topic, in.Language)
	query := url.Values{
		"part":              {"snippet"},
		"q":                 {q},
		"type":              {"video"},
		"maxResults":        {strconv.Itoa(t.max)},
		"key":               {t.apiKey},
		"relevanceLanguage": {code},
		"safeSearch":        {"strict"},
		"videoDefinition":   {"any"},
		"videoCaption":      {"any"},
		"order":             {"relevance"},
	}

	var resp struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := t.client.GetJSON(ctx, t.endpoint, query, &resp); err != nil {
		return nil, err
	}

	tutorials := make([]Tutorial, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			continue
		}
		tut := Tutorial{
			Title:        item.Snippet.Title,
			ChannelTitle: item.Snippet.ChannelTitle,
			URL:          watchURL + item.ID.VideoID,
			Topic:        in.Topic,
		}
		if tut.Title == "" {
			tut.Title = "No Title"
		}
		if tut.ChannelTitle == "" {
			tut.ChannelTitle = "Unknown Channel"
		}
		tutorials = append(tutorials, tut)
		if len(tutorials) == t.max {
			break
		}
	}
	if len(tutorials) == 0 {
		return nil, ErrEmpty
	}
	return tutorials, nil
}
