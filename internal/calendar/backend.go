package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

// Created is an event as stored by a calendar backend.
type Created struct {
	ID      string    `json:"id"`
	Link    string    `json:"link"`
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Backend is the calendar the extracted events are written to.
type Backend interface {
	CreateEvent(ctx context.Context, calendarID string, e Event) (Created, error)
	ListEvents(ctx context.Context, calendarID string, max int) ([]Created, error)
}

// LocalBackend keeps each calendar as a JSON file under a directory.
type LocalBackend struct {
	dir       string
	loc       *time.Location
	validator *Validator
	now       func() time.Time
	mu        sync.Mutex
}

// NewLocalBackend returns a backend storing calendars under dir, interpreting
// event dates in loc.
func NewLocalBackend(dir string, loc *time.Location) (*LocalBackend, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &LocalBackend{dir: dir, loc: loc, validator: validator, now: time.Now}, nil
}

func (b *LocalBackend) path(calendarID string) (string, error) {
	key, err := store.SanitizeName(calendarID)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.dir, key+".json"), nil
}

func (b *LocalBackend) load(path string) ([]Created, error) {
	var events []Created
	if err := store.ReadJSON(path, &events); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return events, nil
}

// CreateEvent validates e and appends it to the calendar.
func (b *LocalBackend) CreateEvent(ctx context.Context, calendarID string, e Event) (Created, error) {
	if err := ctx.Err(); err != nil {
		return Created{}, &CalendarError{Op: "create", Err: err}
	}
	if err := b.validator.ValidateEvent(e); err != nil {
		return Created{}, &CalendarError{Op: "create", Err: err}
	}
	start, end, err := e.Times(b.loc)
	if err != nil {
		return Created{}, &CalendarError{Op: "create", Err: err}
	}
	path, err := b.path(calendarID)
	if err != nil {
		return Created{}, &CalendarError{Op: "create", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	events, err := b.load(path)
	if err != nil {
		return Created{}, &CalendarError{Op: "create", Err: err}
	}
	id := uuid.NewString()[:8]
	created := Created{
		ID:      id,
		Link:    fmt.Sprintf("file://%s#%s", path, id),
		Summary: e.Title,
		Start:   start,
		End:     end,
	}
	events = append(events, created)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	if err := store.WriteJSON(path, events); err != nil {
		return Created{}, &CalendarError{Op: "create", Err: err}
	}
	return created, nil
}

// ListEvents returns up to max events that have not ended yet, earliest first.
func (b *LocalBackend) ListEvents(ctx context.Context, calendarID string, max int) ([]Created, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CalendarError{Op: "list", Err: err}
	}
	path, err := b.path(calendarID)
	if err != nil {
		return nil, &CalendarError{Op: "list", Err: err}
	}

	b.mu.Lock()
	events, err := b.load(path)
	b.mu.Unlock()
	if err != nil {
		return nil, &CalendarError{Op: "list", Err: err}
	}

	now := b.now()
	upcoming := make([]Created, 0, len(events))
	for _, e := range events {
		if e.End.After(now) {
			upcoming = append(upcoming, e)
		}
	}
	if max > 0 && len(upcoming) > max {
		upcoming = upcoming[:max]
	}
	return upcoming, nil
}

// Failure is one event a batch could not create.
type Failure struct {
	Index int
	Event Event
	Err   error
}

// BatchResult reports per-event outcomes of CreateAll.
type BatchResult struct {
	Created  []Created
	Failures []Failure
}

// CreateAll creates every event independently; a failed event is recorded
// and the batch continues.
func CreateAll(ctx context.Context, backend Backend, calendarID string, events []Event) BatchResult {
	var result BatchResult
	for i, e := range events {
		created, err := backend.CreateEvent(ctx, calendarID, e)
		if err != nil {
			result.Failures = append(result.Failures, Failure{Index: i + 1, Event: e, Err: err})
			continue
		}
		result.Created = append(result.Created, created)
	}
	return result
}
