package costs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/provider"
)

var _ provider.UsageRecorder = (*Tracker)(nil)

func TestEstimateUSD(t *testing.T) {
	t.Parallel()

	cases := []struct {
		provider string
		model    string
		want     float64
		ok       bool
	}{
		{provider: "anthropic", model: "claude-haiku-4-5", want: 4.80, ok: true},
		{provider: "anthropic", model: "claude-sonnet-4-6", want: 18, ok: true},
		{provider: "Anthropic", model: " claude-opus-4-1 ", want: 90, ok: true},
		{provider: "anthropic", model: "gpt-4o", ok: false},
		{provider: "openrouter", model: "anthropic/claude-3.5-sonnet", want: 18, ok: true},
		{provider: "openrouter", model: "openai/gpt-4o-mini", want: 0.75, ok: true},
		{provider: "openrouter", model: "openai/gpt-4o", want: 12.50, ok: true},
		{provider: "openrouter", model: "meta-llama/llama-3-70b", ok: false},
		{provider: "ollama", model: "claude-sonnet-4-6", ok: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.provider+"/"+tc.model, func(t *testing.T) {
			t.Parallel()
			usd, ok := EstimateUSD(tc.provider, tc.model, 1_000_000, 1_000_000)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if diff := usd - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("expected %.4f USD, got %.4f", tc.want, usd)
			}
		})
	}
}

func TestTrackerAppendAndSpend(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "logs", "costs.jsonl"), Limits{})
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.Local)

	records := []Record{
		{Timestamp: now.Add(-time.Hour), Provider: "anthropic", Model: "claude-sonnet-4-6", CostUSD: 1.25},
		{Timestamp: now.AddDate(0, 0, -1), Provider: "anthropic", Model: "claude-sonnet-4-6", CostUSD: 0.75},
		{Timestamp: now.AddDate(0, -1, 0), Provider: "anthropic", Model: "claude-sonnet-4-6", CostUSD: 9},
	}
	for _, rec := range records {
		if err := tracker.Append(context.Background(), rec); err != nil {
			t.Fatalf("append record: %v", err)
		}
	}

	spend, err := tracker.Spend(context.Background(), now)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if spend.TodayUSD != 1.25 {
		t.Fatalf("expected today 1.25, got %.4f", spend.TodayUSD)
	}
	if spend.MonthUSD != 2.0 {
		t.Fatalf("expected month 2.0, got %.4f", spend.MonthUSD)
	}
	if spend.Calls != 1 {
		t.Fatalf("expected 1 call today, got %d", spend.Calls)
	}
}

func TestTrackerSpendMissingFile(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "missing.jsonl"), Limits{})
	spend, err := tracker.Spend(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if spend.TodayUSD != 0 || spend.MonthUSD != 0 {
		t.Fatalf("expected zero spend, got %+v", spend)
	}
}

func TestTrackerRecordUsagePrefersReportedCost(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "costs.jsonl"), Limits{})
	reported := 0.5
	if err := tracker.RecordUsage(context.Background(), "openrouter", "deepseek/deepseek-chat", provider.TokenUsage{
		InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: &reported,
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := tracker.RecordUsage(context.Background(), "anthropic", "claude-sonnet-4-6", provider.TokenUsage{
		InputTokens: 1_000_000, OutputTokens: 0, TotalTokens: 1_000_000,
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	spend, err := tracker.Spend(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if spend.TodayUSD != 3.5 {
		t.Fatalf("expected reported 0.5 plus estimated 3.0, got %.4f", spend.TodayUSD)
	}
}

func TestTrackerAllowEnforcesDailyLimit(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "costs.jsonl"), Limits{DailyUSD: 1})
	if err := tracker.Allow(context.Background()); err != nil {
		t.Fatalf("expected allow before spending, got %v", err)
	}
	if err := tracker.Append(context.Background(), Record{CostUSD: 1.5}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tracker.Allow(context.Background()); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
}
