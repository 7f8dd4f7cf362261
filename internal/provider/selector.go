package provider

import (
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
)

// Selector resolves a provider name to a Provider under the configured
// fallback policy.
type Selector struct {
	providers       map[string]Provider
	defaultName     string
	fallbackEnabled bool
	logger          *logger.Logger
}

// NewSelector creates a selector over the closed provider set.
func NewSelector(defaultName string, fallbackEnabled bool, log *logger.Logger) *Selector {
	if defaultName == "" {
		defaultName = DefaultProvider
	}
	return &Selector{
		providers: map[string]Provider{
			"claude":   NewClaude(),
			"opencode": NewOpenCode(),
		},
		defaultName:     defaultName,
		fallbackEnabled: fallbackEnabled,
		logger:          log.WithFields(zap.String("component", "provider-selector")),
	}
}

// Select returns the provider for name. When the requested provider is
// unavailable and fallback is enabled, the default provider is returned
// after a warning; otherwise the requested provider is returned
// unconditionally and errors surface at spawn time.
func (s *Selector) Select(name string) Provider {
	if name == "" {
		name = s.defaultName
	}

	p, ok := s.providers[name]
	if !ok {
		s.logger.Warn("unknown provider requested, using default",
			zap.String("requested", name),
			zap.String("default", s.defaultName))
		return s.providers[s.defaultName]
	}

	if !p.Available() && s.fallbackEnabled && name != s.defaultName {
		fallback := s.providers[s.defaultName]
		s.logger.Warn("provider unavailable, falling back",
			zap.String("requested", name),
			zap.String("fallback", fallback.Name()))
		return fallback
	}

	return p
}

// Available reports whether a named provider's CLI is installed.
func (s *Selector) Available(name string) bool {
	p, ok := s.providers[name]
	if !ok {
		return false
	}
	return p.Available()
}
