package provider

import (
	"testing"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/config"
)

func TestNewProviderFromConfig_SelectsAnthropic(t *testing.T) {
	p, err := NewProviderFromConfig(config.LLMProviderConfig{
		Provider:       "anthropic",
		APIKey:         "k",
		Model:          "claude-sonnet-4-6",
		RequestTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*anthropicProvider); !ok {
		t.Fatalf("expected anthropic provider, got %T", p)
	}
}

func TestNewProviderFromConfig_WrapsRateLimit(t *testing.T) {
	p, err := NewProviderFromConfig(config.LLMProviderConfig{
		Provider:          "openrouter",
		APIKey:            "k",
		Model:             "deepseek/deepseek-chat",
		RequestsPerMinute: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	limited, ok := p.(*rateLimited)
	if !ok {
		t.Fatalf("expected rate-limited provider, got %T", p)
	}
	if _, ok := limited.next.(*openRouterProvider); !ok {
		t.Fatalf("expected openrouter provider inside limiter, got %T", limited.next)
	}
}

func TestNewProviderFromConfig_UnsupportedProvider(t *testing.T) {
	_, err := NewProviderFromConfig(config.LLMProviderConfig{
		Provider: "nope",
		APIKey:   "k",
		Model:    "m",
	})
	if err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
}
