package provider

import (
	"context"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"golang.org/x/time/rate"
)

type rateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// WithRateLimit spaces calls to at most perMinute per minute with a burst of
// one. A non-positive perMinute returns p unchanged.
func WithRateLimit(p Provider, perMinute int) Provider {
	if perMinute <= 0 {
		return p
	}
	return &rateLimited{
		next:    p,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Chat(ctx, req)
}

// UsageRecorder receives token usage for every completed model call and may
// refuse new calls, e.g. when a spending limit has been reached.
type UsageRecorder interface {
	Allow(ctx context.Context) error
	RecordUsage(ctx context.Context, providerName, model string, usage TokenUsage) error
}

type metered struct {
	next         Provider
	recorder     UsageRecorder
	providerName string
	model        string
}

// WithUsage reports each call's usage to recorder. Recording failures are
// logged and never fail the call.
func WithUsage(p Provider, recorder UsageRecorder, providerName, model string) Provider {
	if recorder == nil {
		return p
	}
	return &metered{next: p, recorder: recorder, providerName: providerName, model: model}
}

func (m *metered) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := m.recorder.Allow(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := m.next.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	logging.Logger().Debug(
		"model call",
		"provider", m.providerName,
		"model", m.model,
		"latency", time.Since(started),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	if err := m.recorder.RecordUsage(ctx, m.providerName, m.model, resp.Usage); err != nil {
		logging.Logger().Warn("failed to record usage", "err", err)
	}
	return resp, nil
}
