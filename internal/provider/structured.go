package provider

import (
	"context"
	"encoding/json"
	"errors"
)

// Complete asks for one JSON object shaped by format, answering a single user
// message under system. Failures are returned as *ModelError.
func Complete(ctx context.Context, p Provider, system, user string, format ResponseFormat) (json.RawMessage, error) {
	resp, err := p.Chat(ctx, ChatRequest{
		SystemPrompt: system,
		Messages:     []ChatMessage{{Role: RoleUser, Content: user}},
		Response:     &format,
	})
	if err != nil {
		var modelErr *ModelError
		if errors.As(err, &modelErr) {
			return nil, err
		}
		return nil, &ModelError{Provider: format.Name, Err: err}
	}
	if len(resp.Structured) == 0 {
		return nil, &ModelError{Provider: format.Name, Err: errors.New("empty structured response")}
	}
	return resp.Structured, nil
}
