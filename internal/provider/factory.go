package provider

import (
	"fmt"
	"strings"

	"github.com/neoclaw-ai/talkclaw/internal/config"
)

func resolveMaxTokens(requestMaxTokens, configuredMaxTokens int) int {
	if requestMaxTokens > 0 {
		return requestMaxTokens
	}
	return configuredMaxTokens
}

// NewProviderFromConfig builds an LLM provider from the selected LLM profile,
// paced by the profile's requests_per_minute.
func NewProviderFromConfig(cfg config.LLMProviderConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case anthropicName:
		p, err = newAnthropicProvider(cfg)
	case openRouterName:
		p, err = newOpenRouterProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRateLimit(p, cfg.RequestsPerMinute), nil
}
