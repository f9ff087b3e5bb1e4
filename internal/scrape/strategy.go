package scrape

import (
	"context"
	"net/url"
	"strings"

	"github.com/example/fortify/internal/models"
)

// Strategy knows one platform: which URLs belong to it and how its profile
// page is laid out. Supporting a new platform means adding a Strategy.
type Strategy interface {
	Platform() models.Platform
	Match(u *url.URL) bool
	Extract(ctx context.Context, f *Fields) models.Payload
}

type Registry struct {
	strategies []Strategy
}

func NewRegistry(s ...Strategy) *Registry {
	return &Registry{strategies: s}
}

// DefaultRegistry holds every built-in platform strategy.
func DefaultRegistry() *Registry {
	return NewRegistry(LinkedIn{})
}

// Resolve parses rawURL and picks the strategy for it. When platform is not
// empty the URL must belong to that platform.
func (r *Registry) Resolve(platform models.Platform, rawURL string) (Strategy, *url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, nil, &ValidationError{Field: "profile url", Reason: "required"}
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, nil, &ValidationError{Field: "profile url", Value: raw, Reason: "malformed URL"}
	}
	for _, s := range r.strategies {
		if platform != "" && s.Platform() != platform {
			continue
		}
		if s.Match(u) {
			return s, u, nil
		}
	}
	reason := "not a supported profile URL"
	if platform != "" {
		reason = "not a " + string(platform) + " profile URL"
	}
	return nil, nil, &ValidationError{Field: "profile url", Value: raw, Reason: reason}
}
