// Package calendar turns natural-language requests into validated calendar
// events and hands them to a calendar backend.
package calendar

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Event is one titled activity on a date with a start and end time.
type Event struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// TimeRange renders the event's "HH:MM - HH:MM" span.
func (e Event) TimeRange() string {
	return e.Start + " - " + e.End
}

// Times resolves the event's start and end instants in loc.
func (e Event) Times(loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout+" "+timeLayout, e.Date+" "+e.Start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout+" "+timeLayout, e.Date+" "+e.End, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end: %w", err)
	}
	return start, end, nil
}

func (e Event) record() map[string]any {
	return map[string]any{
		"title": e.Title,
		"date":  e.Date,
		"start": e.Start,
		"end":   e.End,
	}
}

// MultipleEventsResult is the shape returned by multi-event extraction.
type MultipleEventsResult struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

// Mode names the extraction strategy.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// IndexedEvent is an extracted event with its 1-based position.
type IndexedEvent struct {
	Event
	Index     int    `json:"index"`
	TimeRange string `json:"time_range"`
}

// ProcessResult is the outcome of Extractor.Process. On failure only
// Success, Mode, Error and Count (zero) are meaningful.
type ProcessResult struct {
	Success bool           `json:"success"`
	Mode    Mode           `json:"mode,omitempty"`
	Count   int            `json:"count"`
	Events  []IndexedEvent `json:"events"`
	Summary string         `json:"summary,omitempty"`
	Error   string         `json:"error,omitempty"`
	// Fallback is set when multi-event extraction failed and the single
	// event retry produced the result.
	Fallback bool `json:"fallback,omitempty"`
}

// Plain returns the bare events without positions.
func (r ProcessResult) Plain() []Event {
	out := make([]Event, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Event)
	}
	return out
}

func indexEvents(events []Event) []IndexedEvent {
	out := make([]IndexedEvent, 0, len(events))
	for i, e := range events {
		out = append(out, IndexedEvent{Event: e, Index: i + 1, TimeRange: e.TimeRange()})
	}
	return out
}
