// Package provider adapts hosted language models to a small chat interface
// with optional structured JSON output.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider sends chat requests to an LLM backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Role is the author role for a chat message.
type Role string

const (
	// RoleUser is a user-authored message.
	RoleUser Role = "user"
	// RoleAssistant is an assistant-authored message.
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single message in model conversation history.
type ChatMessage struct {
	Role    Role
	Content string
}

// ResponseFormat asks the model for a single JSON object matching Schema
// instead of free text.
type ResponseFormat struct {
	Name        string
	Description string
	Schema      map[string]any
}

// TokenUsage reports provider token accounting for one response.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	// CostUSD is set when the provider reports its own price.
	CostUSD *float64
}

// ChatRequest is the provider-agnostic request payload.
type ChatRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	MaxTokens    int
	Response     *ResponseFormat
}

// ChatResponse is the provider-agnostic response payload.
type ChatResponse struct {
	Content string
	// Structured holds the JSON object produced for ChatRequest.Response.
	Structured json.RawMessage
	Usage      TokenUsage
}

// ModelError wraps any failure talking to or decoding from a provider.
type ModelError struct {
	Provider string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s model call: %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}
