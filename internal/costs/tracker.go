// Package costs tracks language model usage and spend in a JSONL log and
// enforces optional daily and monthly limits.
package costs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/provider"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

// ErrLimitReached is returned by Allow once a configured limit is spent.
var ErrLimitReached = errors.New("model spending limit reached")

// Record is one persisted usage entry.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

// Spend holds aggregated spend totals in USD.
type Spend struct {
	TodayUSD float64
	MonthUSD float64
	Calls    int
}

// Limits caps spend in USD. Zero disables a limit.
type Limits struct {
	DailyUSD   float64
	MonthlyUSD float64
}

// Tracker appends usage records and computes period spend totals.
type Tracker struct {
	path   string
	limits Limits
	now    func() time.Time
}

// New returns a Tracker writing to path.
func New(path string, limits Limits) *Tracker {
	return &Tracker{path: path, limits: limits, now: time.Now}
}

// Append writes one usage record to the JSONL file.
func (t *Tracker) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.path == "" {
		return errors.New("costs path is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal costs record: %w", err)
	}
	return store.AppendFile(t.path, append(encoded, '\n'))
}

// RecordUsage prices one model call and appends it.
func (t *Tracker) RecordUsage(ctx context.Context, providerName, model string, usage provider.TokenUsage) error {
	rec := Record{
		Provider:     providerName,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
	}
	if usage.CostUSD != nil {
		rec.CostUSD = *usage.CostUSD
	} else if usd, ok := EstimateUSD(providerName, model, usage.InputTokens, usage.OutputTokens); ok {
		rec.CostUSD = usd
	}
	return t.Append(ctx, rec)
}

// Allow reports ErrLimitReached when today's or this month's spend is at or
// above its limit.
func (t *Tracker) Allow(ctx context.Context) error {
	if t.limits.DailyUSD <= 0 && t.limits.MonthlyUSD <= 0 {
		return nil
	}
	spend, err := t.Spend(ctx, t.now())
	if err != nil {
		return err
	}
	if t.limits.DailyUSD > 0 && spend.TodayUSD >= t.limits.DailyUSD {
		return fmt.Errorf("%w: today $%.2f of $%.2f", ErrLimitReached, spend.TodayUSD, t.limits.DailyUSD)
	}
	if t.limits.MonthlyUSD > 0 && spend.MonthUSD >= t.limits.MonthlyUSD {
		return fmt.Errorf("%w: this month $%.2f of $%.2f", ErrLimitReached, spend.MonthUSD, t.limits.MonthlyUSD)
	}
	return nil
}

// Spend returns today's and this month's spend totals in USD.
func (t *Tracker) Spend(ctx context.Context, now time.Time) (Spend, error) {
	totals := Spend{}

	if err := ctx.Err(); err != nil {
		return Spend{}, err
	}
	if t.path == "" {
		return Spend{}, errors.New("costs path is required")
	}
	if now.IsZero() {
		now = t.now()
	}

	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return totals, nil
	}
	if err != nil {
		return Spend{}, fmt.Errorf("open costs file: %w", err)
	}
	defer f.Close()

	nowLocal := now.In(time.Local)
	todayYear, todayMonth, todayDay := nowLocal.Date()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		y, m, d := rec.Timestamp.In(time.Local).Date()
		if y == todayYear && m == todayMonth {
			totals.MonthUSD += rec.CostUSD
			if d == todayDay {
				totals.TodayUSD += rec.CostUSD
				totals.Calls++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Spend{}, fmt.Errorf("scan costs file: %w", err)
	}
	return totals, nil
}
