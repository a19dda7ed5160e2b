// Package scheduler persists event reminders and fires them from a cron
// loop ahead of each event's start.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

// Reminder is one persisted notification for a created calendar event.
type Reminder struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	Link      string    `json:"link,omitempty"`
	Channel   string    `json:"channel"`
	Target    string    `json:"target"`
	Fired     bool      `json:"fired"`
	CreatedAt time.Time `json:"created_at"`
}

// AddInput contains the fields required to create a reminder.
type AddInput struct {
	EventID string
	Title   string
	Start   time.Time
	Link    string
	Channel string
	Target  string
}

// Store manages reminders persisted at one reminders.json path.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore creates a reminder store.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// List returns all reminders sorted by start.
func (s *Store) List(ctx context.Context) ([]Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Pending returns reminders that have not fired yet, sorted by start.
func (s *Store) Pending(ctx context.Context) ([]Reminder, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Reminder, 0, len(all))
	for _, r := range all {
		if !r.Fired {
			out = append(out, r)
		}
	}
	return out, nil
}

// Add validates and persists a new reminder.
func (s *Store) Add(ctx context.Context, in AddInput) (Reminder, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.readLocked()
	if err != nil {
		return Reminder{}, err
	}

	now := s.now().UTC()
	rem := Reminder{
		ID:        newReminderID(),
		EventID:   strings.TrimSpace(in.EventID),
		Title:     strings.TrimSpace(in.Title),
		Start:     in.Start,
		Link:      strings.TrimSpace(in.Link),
		Channel:   strings.TrimSpace(in.Channel),
		Target:    strings.TrimSpace(in.Target),
		CreatedAt: now,
	}
	if err := validateReminder(rem); err != nil {
		return Reminder{}, err
	}

	reminders = append(reminders, rem)
	if err := s.writeLocked(reminders); err != nil {
		return Reminder{}, err
	}
	logging.Logger().Info(
		"reminder created",
		"reminder_id", rem.ID,
		"event_id", rem.EventID,
		"start", rem.Start,
		"channel", rem.Channel,
	)
	return rem, nil
}

// MarkFired flags the given reminders as fired. Unknown ids are ignored.
func (s *Store) MarkFired(ctx context.Context, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reminders, err := s.readLocked()
	if err != nil {
		return err
	}
	for i := range reminders {
		if _, ok := want[reminders[i].ID]; ok {
			reminders[i].Fired = true
		}
	}
	return s.writeLocked(reminders)
}

// Clear removes every reminder and reports how many there were.
func (s *Store) Clear(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reminders, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	if err := s.writeLocked([]Reminder{}); err != nil {
		return 0, err
	}
	return len(reminders), nil
}

func (s *Store) readLocked() ([]Reminder, error) {
	if strings.TrimSpace(s.path) == "" {
		return nil, errors.New("reminders store path is required")
	}

	content, err := store.ReadFile(s.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return []Reminder{}, nil
	default:
		return nil, fmt.Errorf("read reminders file %s: %w", s.path, err)
	}

	if len(strings.TrimSpace(content)) == 0 {
		return []Reminder{}, nil
	}

	var reminders []Reminder
	if err := json.Unmarshal([]byte(content), &reminders); err != nil {
		return nil, fmt.Errorf("decode reminders file %s: %w", s.path, err)
	}
	sort.SliceStable(reminders, func(i, j int) bool {
		return reminders[i].Start.Before(reminders[j].Start)
	})
	return reminders, nil
}

func (s *Store) writeLocked(reminders []Reminder) error {
	if strings.TrimSpace(s.path) == "" {
		return errors.New("reminders store path is required")
	}

	encoded, err := json.MarshalIndent(reminders, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reminders: %w", err)
	}
	encoded = append(encoded, '\n')

	if err := store.WriteFile(s.path, encoded); err != nil {
		return fmt.Errorf("replace reminders file: %w", err)
	}
	return nil
}

func validateReminder(r Reminder) error {
	if r.ID == "" {
		return errors.New("reminder id is required")
	}
	if r.Title == "" {
		return errors.New("reminder title is required")
	}
	if r.Start.IsZero() {
		return errors.New("reminder start is required")
	}
	if r.Channel == "" || r.Target == "" {
		return errors.New("reminder channel and target are required")
	}
	return nil
}

func newReminderID() string {
	return "rem_" + uuid.NewString()[:8]
}
