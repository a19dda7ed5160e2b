package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/neoclaw-ai/talkclaw/internal/config"
	"github.com/neoclaw-ai/talkclaw/internal/provider"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

func createTestHome(t *testing.T) string {
	t.Helper()
	homeDir := filepath.Join(t.TempDir(), ".talkclaw")
	t.Setenv(config.HomeEnv, homeDir)
	return homeDir
}

func writeValidConfig(t *testing.T, homeDir string) {
	t.Helper()
	writeTestConfig(t, homeDir, `
[llm.default]
api_key = "test-key"
provider = "anthropic"
model = "claude-sonnet-4-6"

[channels.telegram]
enabled = true
token = "telegram-token"

[calendar]
timezone = "UTC"
`)
}

func writeTestConfig(t *testing.T, homeDir, body string) {
	t.Helper()
	if err := store.WriteFile(filepath.Join(homeDir, config.ConfigFilePath), []byte(body)); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// useFakeProvider replaces the model for the duration of the test.
func useFakeProvider(t *testing.T, p provider.Provider) {
	t.Helper()
	orig := providerFactory
	providerFactory = func(config.LLMProviderConfig) (provider.Provider, error) {
		return p, nil
	}
	t.Cleanup(func() { providerFactory = orig })
}

// fakeProvider answers extraction requests with one event and chat requests
// with reply.
type fakeProvider struct {
	event string
	reply string
	err   error
}

func (p fakeProvider) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	if req.Response == nil {
		return &provider.ChatResponse{Content: p.reply}, nil
	}
	if req.Response.Name == "calendar_events" {
		return &provider.ChatResponse{
			Structured: json.RawMessage(`{"events":[` + p.event + `],"count":1}`),
		}, nil
	}
	return &provider.ChatResponse{Structured: json.RawMessage(p.event)}, nil
}
