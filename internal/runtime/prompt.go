package runtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

type messageKey struct{}

// WithMessage returns ctx carrying the message being handled.
func WithMessage(ctx context.Context, msg *Message) context.Context {
	return context.WithValue(ctx, messageKey{}, msg)
}

// MessageFrom returns the message being handled, if any.
func MessageFrom(ctx context.Context) (*Message, bool) {
	msg, ok := ctx.Value(messageKey{}).(*Message)
	return msg, ok && msg != nil
}

// PromptBroker routes a user's next inbound line to a handler waiting on it.
// Listeners call Deliver before enqueueing; a delivered line is consumed.
type PromptBroker struct {
	mu      sync.Mutex
	pending map[string]chan string
}

// NewPromptBroker returns an empty broker.
func NewPromptBroker() *PromptBroker {
	return &PromptBroker{pending: make(map[string]chan string)}
}

// Await blocks until Deliver is called for key, timeout elapses or ctx is
// done. Only one wait per key is allowed at a time.
func (b *PromptBroker) Await(ctx context.Context, key string, timeout time.Duration) (string, error) {
	ch := make(chan string, 1)
	b.mu.Lock()
	if _, busy := b.pending[key]; busy {
		b.mu.Unlock()
		return "", errors.New("another prompt is already pending")
	}
	b.pending[key] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case line := <-ch:
		return line, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", ctx.Err()
	}
}

// Deliver hands text to a waiting Await for key and reports whether one was
// waiting.
func (b *PromptBroker) Deliver(key, text string) bool {
	b.mu.Lock()
	ch, ok := b.pending[key]
	if ok {
		delete(b.pending, key)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- text
	return true
}

// Waiting reports whether a prompt is pending for key.
func (b *PromptBroker) Waiting(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key]
	return ok
}
