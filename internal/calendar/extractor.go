package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/provider"
)

// Extractor runs the natural-language to event pipeline against a model.
type Extractor struct {
	model      provider.Provider
	validator  *Validator
	classifier Classifier
	loc        *time.Location
	now        func() time.Time
}

// NewExtractor builds an extractor resolving relative dates in loc.
func NewExtractor(model provider.Provider, loc *time.Location) (*Extractor, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if loc == nil {
		loc = time.Local
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Extractor{
		model:     model,
		validator: validator,
		loc:       loc,
		now:       time.Now,
	}, nil
}

// Validator exposes the extractor's event validator.
func (x *Extractor) Validator() *Validator {
	return x.validator
}

// Extract runs one extraction in the given mode. Every failure is returned as
// an *ExtractionError.
func (x *Extractor) Extract(ctx context.Context, text string, mode Mode) ([]Event, error) {
	var (
		events []Event
		err    error
	)
	switch mode {
	case ModeMulti:
		events, err = x.extractMulti(ctx, text)
	default:
		mode = ModeSingle
		events, err = x.extractSingle(ctx, text)
	}
	if err != nil {
		return nil, &ExtractionError{Mode: mode, Err: err}
	}
	return events, nil
}

// ExtractSingle extracts exactly one event.
func (x *Extractor) ExtractSingle(ctx context.Context, text string) ([]Event, error) {
	return x.Extract(ctx, text, ModeSingle)
}

// ExtractMulti extracts an ordered list of events.
func (x *Extractor) ExtractMulti(ctx context.Context, text string) ([]Event, error) {
	return x.Extract(ctx, text, ModeMulti)
}

func (x *Extractor) extractSingle(ctx context.Context, text string) ([]Event, error) {
	raw, err := provider.Complete(ctx, x.model, singleSystemPrompt, requestContext(text, x.now().In(x.loc), ModeSingle), singleFormat())
	if err != nil {
		return nil, err
	}
	event, err := x.validator.ValidateJSON(raw)
	if err != nil {
		return nil, err
	}
	return []Event{event}, nil
}

func (x *Extractor) extractMulti(ctx context.Context, text string) ([]Event, error) {
	raw, err := provider.Complete(ctx, x.model, multiSystemPrompt, requestContext(text, x.now().In(x.loc), ModeMulti), multiFormat())
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Events []json.RawMessage `json:"events"`
		Count  int               `json:"count"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if len(envelope.Events) == 0 {
		return nil, ErrNoEvents
	}

	result := MultipleEventsResult{Events: make([]Event, 0, len(envelope.Events))}
	for i, item := range envelope.Events {
		event, err := x.validator.ValidateJSON(item)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
		result.Events = append(result.Events, event)
	}
	result.Count = len(result.Events)
	if envelope.Count != result.Count {
		logging.Logger().Debug("model event count differs from list length", "count", envelope.Count, "events", result.Count)
	}
	return result.Events, nil
}

// Process extracts events from text. Multi-event extraction is attempted when
// forceMulti is set or the classifier detects several events; if it fails the
// request is retried once in single mode, and when that also fails the
// multi-mode error is reported.
func (x *Extractor) Process(ctx context.Context, text string, forceMulti bool) ProcessResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return failed(ModeSingle, errors.New("empty request"))
	}

	if !forceMulti && !x.classifier.HasMultipleEvents(text) {
		events, err := x.ExtractSingle(ctx, text)
		if err != nil {
			return failed(ModeSingle, err)
		}
		return succeeded(ModeSingle, events, false)
	}

	events, multiErr := x.ExtractMulti(ctx, text)
	if multiErr == nil {
		return succeeded(ModeMulti, events, false)
	}
	logging.Logger().Warn("multi-event extraction failed, retrying as single event", "err", multiErr)

	events, err := x.ExtractSingle(ctx, text)
	if err != nil {
		logging.Logger().Warn("single-event fallback failed", "err", err)
		return failed(ModeMulti, multiErr)
	}
	return succeeded(ModeMulti, events, true)
}

func succeeded(mode Mode, events []Event, fallback bool) ProcessResult {
	indexed := indexEvents(events)
	summary := fmt.Sprintf("成功解析 %d 個事件", len(indexed))
	if len(indexed) == 1 {
		summary = fmt.Sprintf("成功解析事件：%s", indexed[0].Title)
	}
	return ProcessResult{
		Success:  true,
		Mode:     mode,
		Count:    len(indexed),
		Events:   indexed,
		Summary:  summary,
		Fallback: fallback,
	}
}

func failed(mode Mode, err error) ProcessResult {
	return ProcessResult{
		Success: false,
		Mode:    mode,
		Error:   err.Error(),
		Count:   0,
		Events:  []IndexedEvent{},
	}
}
