package app

import (
	"fmt"
	"strings"

	"github.com/neoclaw-ai/talkclaw/internal/binding"
	"github.com/neoclaw-ai/talkclaw/internal/character"
)

// NoteKind selects which free-text list a direct bind appends to.
type NoteKind string

const (
	NoteDevelopment NoteKind = "note"
	NoteSecret      NoteKind = "secret"
	NoteMotivation  NoteKind = "motivation"
)

// ParseNoteKind accepts the English kinds and their Chinese names.
func ParseNoteKind(s string) (NoteKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "note", "development", "發展":
		return NoteDevelopment, nil
	case "secret", "秘密":
		return NoteSecret, nil
	case "motivation", "動機":
		return NoteMotivation, nil
	default:
		return "", fmt.Errorf("unknown note kind %q", s)
	}
}

// bindingName resolves ref to a display name. Unknown references bind under
// the raw text; the store's link to characters is by name only.
func (a *App) bindingName(ref string) string {
	if _, c, ok := a.registry.Character(ref); ok {
		return c.Name
	}
	return strings.TrimSpace(ref)
}

// BindBackground binds a new story to the referenced character and returns
// the story id and the display name it was bound under.
func (a *App) BindBackground(ref string, rec character.BackgroundRecord) (string, string, error) {
	name := a.bindingName(ref)
	a.mu.Lock()
	defer a.mu.Unlock()
	id, err := a.bindings.BindBackground(name, rec)
	return id, name, err
}

// BindEvent binds a story event to the referenced character.
func (a *App) BindEvent(ref string, ev character.StoryEvent) (string, error) {
	name := a.bindingName(ref)
	a.mu.Lock()
	defer a.mu.Unlock()
	return name, a.bindings.BindEvent(name, ev)
}

// BindNote appends a development note, secret or motivation.
func (a *App) BindNote(ref string, kind NoteKind, text string) (string, error) {
	name := a.bindingName(ref)
	a.mu.Lock()
	defer a.mu.Unlock()
	switch kind {
	case NoteDevelopment:
		return name, a.bindings.RecordDevelopment(name, text)
	case NoteSecret:
		return name, a.bindings.AddSecret(name, text)
	case NoteMotivation:
		return name, a.bindings.AddMotivation(name, text)
	default:
		return name, fmt.Errorf("unknown note kind %q", kind)
	}
}

// Unbind removes one story from the referenced character.
func (a *App) Unbind(ref, storyID string) bool {
	name := a.bindingName(ref)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bindings.RemoveStory(name, strings.TrimSpace(storyID))
}

// BackgroundSummary renders the display digest for the referenced character.
func (a *App) BackgroundSummary(ref string) (string, bool) {
	name := a.bindingName(ref)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bindings.Background(name); !ok {
		return "", false
	}
	return a.bindings.Summary(name), true
}

// Background returns a copy of everything bound to the referenced character.
func (a *App) Background(ref string) (binding.CharacterBackground, bool) {
	name := a.bindingName(ref)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bindings.Background(name)
}
