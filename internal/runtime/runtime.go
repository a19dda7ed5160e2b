package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by a Prompter when no reply arrives in time.
var ErrTimeout = errors.New("timed out waiting for reply")

// Message is an inbound message delivered by a channel transport.
type Message struct {
	Text string
	// Channel names the transport, e.g. "telegram" or "cli".
	Channel string
	// UserID identifies the sender within Channel.
	UserID string
	// Target is where replies and later notifications for this user go.
	Target string
}

// Key identifies the sender across channels.
func (m *Message) Key() string {
	return m.Channel + ":" + m.UserID
}

// ResponseWriter sends handler responses back to the active channel transport.
type ResponseWriter interface {
	WriteMessage(ctx context.Context, text string) error
}

// Handler processes inbound messages and writes responses.
type Handler interface {
	HandleMessage(ctx context.Context, w ResponseWriter, msg *Message) error
}

// Listener receives channel input and dispatches it to a Handler.
type Listener interface {
	Listen(ctx context.Context, handler Handler) error
}

// PromptRequest asks the active user for a follow-up message.
type PromptRequest struct {
	Text    string
	Timeout time.Duration
}

// Prompter suspends a handler until the active user sends their next
// message. Implementations return ErrTimeout when Timeout elapses first.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (string, error)
}
