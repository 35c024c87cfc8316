// Package profile resolves farmer profiles from the profile service.
package profile

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/SidGoyal2014/gah-final-submission/internal/domain"
	"github.com/SidGoyal2014/gah-final-submission/internal/upstream"
)

// Resolver loads a profile once per session.
type Resolver interface {
	Resolve(ctx context.Context, userID string) domain.UserProfile
}

// HTTPResolver queries GET <endpoint>?phone=<user id>.
type HTTPResolver struct {
	client   *upstream.Client
	endpoint string
	logger   *slog.Logger
}

// NewHTTPResolver creates a resolver. An empty endpoint always yields the default profile.
func NewHTTPResolver(client *upstream.Client, endpoint string, logger *slog.Logger) *HTTPResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPResolver{client: client, endpoint: endpoint, logger: logger}
}

type profileResponse struct {
	User *struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		City     string `json:"city"`
		State    string `json:"state"`
		Language string `json:"language"`
	} `json:"user"`
}

// Resolve never fails: any problem yields the degraded default profile.
func (r *HTTPResolver) Resolve(ctx context.Context, userID string) domain.UserProfile {
	if r.endpoint == "" {
		r.logger.Warn("profile service not configured, using defaults", "user_id", userID)
		return domain.DefaultProfile(userID)
	}

	var resp profileResponse
	if err := r.client.GetJSON(ctx, r.endpoint, url.Values{"phone": {userID}}, &resp); err != nil {
		r.logger.Warn("profile lookup failed, using defaults", "user_id", userID, "error", err)
		return domain.DefaultProfile(userID)
	}
	if resp.User == nil {
		r.logger.Warn("profile response has no user, using defaults", "user_id", userID)
		return domain.DefaultProfile(userID)
	}

	p := domain.UserProfile{
		UserID: userID,
		Name:   strings.TrimSpace(resp.User.Name),
		Phone:  strings.TrimSpace(resp.User.Phone),
		City:   strings.TrimSpace(resp.User.City),
		State:  strings.TrimSpace(resp.User.State),
	}
	if p.Phone == "" {
		p.Phone = userID
	}
	lang, ok := domain.ParseLanguage(resp.User.Language)
	if !ok {
		r.logger.Warn("profile language unsupported, using default",
			"user_id", userID, "language", resp.User.Language)
		p.Degraded = true
	}
	p.Language = lang
	return p
}

// Static always returns the same profile; tests and local runs use it.
type Static struct {
	Profile domain.UserProfile
}

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, userID string) domain.UserProfile {
	p := s.Profile
	p.UserID = userID
	return p
}
