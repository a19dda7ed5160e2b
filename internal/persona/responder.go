package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/provider"
)

const (
	developmentPrefixRunes = 30
	// Unavailable is shown when the model cannot produce a reply.
	Unavailable = "抱歉，我暫時無法回應。請稍後再試。"
)

// Reply is the outcome of one persona turn.
type Reply struct {
	Text string
	// Development is a note for the character's arc, set only for substantial
	// exchanges.
	Development string
	// Entries are the user and character lines to append to history.
	Entries []Entry
}

// Responder produces in-character replies through a language model.
type Responder struct {
	model     provider.Provider
	composer  *Composer
	maxTokens int
	threshold int
	now       func() time.Time
}

// NewResponder builds a responder. threshold is the rune length both input
// and reply must exceed before a development note is produced.
func NewResponder(model provider.Provider, composer *Composer, maxTokens, threshold int) *Responder {
	return &Responder{
		model:     model,
		composer:  composer,
		maxTokens: maxTokens,
		threshold: threshold,
		now:       time.Now,
	}
}

// Reply asks the model for the character's answer to t.Input.
func (r *Responder) Reply(ctx context.Context, t Turn) (Reply, error) {
	if strings.TrimSpace(t.Input) == "" {
		return Reply{}, errors.New("input is required")
	}
	resp, err := r.model.Chat(ctx, provider.ChatRequest{
		SystemPrompt: r.composer.Compose(t),
		Messages:     []provider.ChatMessage{{Role: provider.RoleUser, Content: t.Input}},
		MaxTokens:    r.maxTokens,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("persona reply: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return Reply{}, errors.New("persona reply: model returned no text")
	}

	now := r.now()
	out := Reply{
		Text: text,
		Entries: []Entry{
			{Role: provider.RoleUser, Content: t.Input, Character: t.Character.Name, Scene: t.Scene.Name, At: now},
			{Role: provider.RoleAssistant, Content: text, Character: t.Character.Name, Scene: t.Scene.Name, At: now},
		},
	}
	if note, ok := DevelopmentNote(t.Input, text, r.threshold); ok {
		out.Development = note
	}
	logging.Logger().Debug(
		"persona reply",
		"character", t.Character.Name,
		"scene", t.Scene.Name,
		"input_runes", len([]rune(t.Input)),
		"reply_runes", len([]rune(text)),
		"development", out.Development != "",
	)
	return out, nil
}

// DevelopmentNote returns a note summarising a substantial exchange: both
// input and reply must be longer than threshold runes.
func DevelopmentNote(input, reply string, threshold int) (string, bool) {
	in := []rune(strings.TrimSpace(input))
	if len(in) <= threshold || len([]rune(strings.TrimSpace(reply))) <= threshold {
		return "", false
	}
	if len(in) > developmentPrefixRunes {
		in = in[:developmentPrefixRunes]
	}
	return fmt.Sprintf("與用戶討論了: %s...", string(in)), true
}
