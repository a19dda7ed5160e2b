// Package binding keeps the in-memory narrative material attached to
// characters: background stories, personal events, development notes,
// secrets and motivations. Characters are referenced by display name only,
// so an entry can outlive the character it was bound to.
//
// Store is not safe for concurrent use. Callers serialise access.
package binding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/talkclaw/internal/character"
)

const summaryContentRunes = 50

// ErrNoCharacter is returned when a bind call names no character.
var ErrNoCharacter = errors.New("character name is required")

// Story is one background story bound to a character.
type Story struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	BoundAt time.Time `json:"bound_at"`
}

// PersonalEvent is a story event bound to a character.
type PersonalEvent struct {
	Event   character.StoryEvent `json:"event"`
	AddedAt time.Time            `json:"added_at"`
}

// Development is a timestamped note in a character's arc.
type Development struct {
	Note string    `json:"development"`
	At   time.Time `json:"timestamp"`
}

// CharacterBackground accumulates everything bound to one character.
type CharacterBackground struct {
	Character   string          `json:"character_name"`
	Stories     []Story         `json:"stories"`
	Events      []PersonalEvent `json:"personal_events"`
	Arc         []Development   `json:"character_arc"`
	Secrets     []string        `json:"secrets"`
	Motivations []string        `json:"motivations"`
}

func (b *CharacterBackground) empty() bool {
	return len(b.Stories) == 0 && len(b.Events) == 0 && len(b.Arc) == 0 &&
		len(b.Secrets) == 0 && len(b.Motivations) == 0
}

func (b *CharacterBackground) clone() CharacterBackground {
	return CharacterBackground{
		Character:   b.Character,
		Stories:     append([]Story(nil), b.Stories...),
		Events:      append([]PersonalEvent(nil), b.Events...),
		Arc:         append([]Development(nil), b.Arc...),
		Secrets:     append([]string(nil), b.Secrets...),
		Motivations: append([]string(nil), b.Motivations...),
	}
}

// Counts reports how many entries a clear removed, per field.
type Counts struct {
	Characters  int `json:"characters"`
	Stories     int `json:"stories"`
	Events      int `json:"events"`
	Arc         int `json:"arc"`
	Secrets     int `json:"secrets"`
	Motivations int `json:"motivations"`
}

func (c *Counts) add(b *CharacterBackground) {
	c.Stories += len(b.Stories)
	c.Events += len(b.Events)
	c.Arc += len(b.Arc)
	c.Secrets += len(b.Secrets)
	c.Motivations += len(b.Motivations)
}

// Store maps character display names to their accumulated background.
type Store struct {
	backgrounds map[string]*CharacterBackground
	now         func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		backgrounds: make(map[string]*CharacterBackground),
		now:         time.Now,
	}
}

func (s *Store) ensure(name string) (*CharacterBackground, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNoCharacter
	}
	bg, ok := s.backgrounds[name]
	if !ok {
		bg = &CharacterBackground{Character: name}
		s.backgrounds[name] = bg
	}
	return bg, nil
}

// BindBackground appends a story built from rec. rec.ID is reused when set,
// otherwise a fresh id is allocated. It returns the story id.
func (s *Store) BindBackground(name string, rec character.BackgroundRecord) (string, error) {
	bg, err := s.ensure(name)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = uuid.NewString()[:8]
	}
	bg.Stories = append(bg.Stories, Story{
		ID:      id,
		Title:   rec.Title,
		Content: rec.Content,
		BoundAt: s.now(),
	})
	return id, nil
}

// BindEvent appends a personal event.
func (s *Store) BindEvent(name string, ev character.StoryEvent) error {
	bg, err := s.ensure(name)
	if err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()[:8]
	}
	bg.Events = append(bg.Events, PersonalEvent{Event: ev, AddedAt: s.now()})
	return nil
}

// RecordDevelopment appends a development note to the character's arc.
func (s *Store) RecordDevelopment(name, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return errors.New("development note is required")
	}
	bg, err := s.ensure(name)
	if err != nil {
		return err
	}
	bg.Arc = append(bg.Arc, Development{Note: note, At: s.now()})
	return nil
}

// AddSecret records a secret known only to the character.
func (s *Store) AddSecret(name, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("secret is required")
	}
	bg, err := s.ensure(name)
	if err != nil {
		return err
	}
	bg.Secrets = append(bg.Secrets, secret)
	return nil
}

// AddMotivation records something that drives the character.
func (s *Store) AddMotivation(name, motivation string) error {
	motivation = strings.TrimSpace(motivation)
	if motivation == "" {
		return errors.New("motivation is required")
	}
	bg, err := s.ensure(name)
	if err != nil {
		return err
	}
	bg.Motivations = append(bg.Motivations, motivation)
	return nil
}

// RemoveStory drops one story by id and reports whether it existed.
func (s *Store) RemoveStory(name, storyID string) bool {
	bg, ok := s.backgrounds[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	for i, story := range bg.Stories {
		if story.ID == storyID {
			bg.Stories = append(bg.Stories[:i], bg.Stories[i+1:]...)
			return true
		}
	}
	return false
}

// Background returns a copy of the character's accumulated background.
func (s *Store) Background(name string) (CharacterBackground, bool) {
	bg, ok := s.backgrounds[strings.TrimSpace(name)]
	if !ok {
		return CharacterBackground{}, false
	}
	return bg.clone(), true
}

// Characters lists the names that have a background, sorted.
func (s *Store) Characters() []string {
	names := make([]string, 0, len(s.backgrounds))
	for name := range s.backgrounds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary renders a display digest: the last 3 stories, the last 2 personal
// events and the last 2 development notes, with content cut to 50 runes.
func (s *Store) Summary(name string) string {
	bg, ok := s.backgrounds[strings.TrimSpace(name)]
	if !ok {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "角色: %s\n", bg.Character)
	if len(bg.Stories) > 0 {
		fmt.Fprintf(&b, "\n背景故事 (%d個):\n", len(bg.Stories))
		for _, story := range lastN(bg.Stories, 3) {
			fmt.Fprintf(&b, "  • [%s] %s: %s\n", story.ID, story.Title, truncate(story.Content, summaryContentRunes))
		}
	}
	if len(bg.Events) > 0 {
		fmt.Fprintf(&b, "\n個人事件 (%d個):\n", len(bg.Events))
		for _, rec := range lastN(bg.Events, 2) {
			fmt.Fprintf(&b, "  • %s: %s\n", rec.Event.Title, truncate(rec.Event.Description, summaryContentRunes))
		}
	}
	if len(bg.Arc) > 0 {
		b.WriteString("\n角色發展:\n")
		for _, dev := range lastN(bg.Arc, 2) {
			fmt.Fprintf(&b, "  • %s\n", dev.Note)
		}
	}
	return b.String()
}

// EnhancedPrompt renders everything bound to the character, untruncated,
// for injection into a persona system prompt.
func (s *Store) EnhancedPrompt(name string) string {
	bg, ok := s.backgrounds[strings.TrimSpace(name)]
	if !ok || bg.empty() {
		return ""
	}

	var b strings.Builder
	if len(bg.Stories) > 0 {
		b.WriteString("\n\n角色背景故事:\n")
		for _, story := range bg.Stories {
			fmt.Fprintf(&b, "• %s: %s\n", story.Title, story.Content)
		}
	}
	if len(bg.Arc) > 0 {
		b.WriteString("\n角色發展歷程:\n")
		for _, dev := range bg.Arc {
			fmt.Fprintf(&b, "• %s\n", dev.Note)
		}
	}
	if len(bg.Secrets) > 0 {
		b.WriteString("\n角色秘密:\n")
		for _, secret := range bg.Secrets {
			fmt.Fprintf(&b, "• %s\n", secret)
		}
	}
	if len(bg.Motivations) > 0 {
		b.WriteString("\n角色動機:\n")
		for _, motivation := range bg.Motivations {
			fmt.Fprintf(&b, "• %s\n", motivation)
		}
	}
	return b.String()
}

// ClearAll empties every character's background. Entries stay present but
// empty.
func (s *Store) ClearAll() Counts {
	var counts Counts
	for _, bg := range s.backgrounds {
		counts.Characters++
		counts.add(bg)
		bg.reset()
	}
	return counts
}

// ClearOne empties a single character's background.
func (s *Store) ClearOne(name string) Counts {
	var counts Counts
	bg, ok := s.backgrounds[strings.TrimSpace(name)]
	if !ok {
		return counts
	}
	counts.Characters = 1
	counts.add(bg)
	bg.reset()
	return counts
}

func (b *CharacterBackground) reset() {
	b.Stories = nil
	b.Events = nil
	b.Arc = nil
	b.Secrets = nil
	b.Motivations = nil
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
