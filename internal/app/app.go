// Package app owns all process state shared between chat users: the
// character registry, the binding store, staged calendar events, persona
// conversations and the current scene.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/neoclaw-ai/talkclaw/internal/binding"
	"github.com/neoclaw-ai/talkclaw/internal/calendar"
	"github.com/neoclaw-ai/talkclaw/internal/character"
	"github.com/neoclaw-ai/talkclaw/internal/costs"
	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/persona"
	"github.com/neoclaw-ai/talkclaw/internal/scheduler"
	"github.com/neoclaw-ai/talkclaw/internal/session"
)

// ErrNoCharacter is returned when a character reference cannot be resolved.
var ErrNoCharacter = errors.New("character not found")

// ErrNoScene is returned when a scene name cannot be resolved.
var ErrNoScene = errors.New("scene not found")

// User identifies a chat user and where to reach them later.
type User struct {
	// Key is unique across channels, e.g. "telegram:42".
	Key     string
	Channel string
	Target  string
}

// Options tunes App behaviour.
type Options struct {
	CalendarID    string
	ListLimit     int
	HistoryLimit  int
	HistoryWindow int
	// SessionsDir holds per-user transcripts. Empty disables persistence.
	SessionsDir string
	// DefaultScene is the starting scene, and the one used when the current
	// scene disappears. Unknown names fall back to the built-in default.
	DefaultScene string
}

// Deps are the collaborators App coordinates. Reminders may be nil.
type Deps struct {
	Registry  *character.Registry
	Bindings  *binding.Store
	Extractor *calendar.Extractor
	Backend   calendar.Backend
	Responder *persona.Responder
	Reminders *scheduler.Store
}

type conversation struct {
	characterKey string
	talking      bool
	history      *persona.History
	transcript   *session.Store
}

// App is the single owner of shared state. Every access goes through mu;
// model and calendar calls run outside it.
type App struct {
	registry  *character.Registry
	extractor *calendar.Extractor
	backend   calendar.Backend
	responder *persona.Responder
	reminders *scheduler.Store
	opts      Options

	mu            sync.Mutex
	bindings      *binding.Store
	pending       map[string][]calendar.Event
	conversations map[string]*conversation
	scene         character.SceneSetting
}

// New builds an App starting in the default scene.
func New(deps Deps, opts Options) (*App, error) {
	if deps.Registry == nil || deps.Bindings == nil {
		return nil, errors.New("registry and binding store are required")
	}
	if deps.Extractor == nil || deps.Backend == nil {
		return nil, errors.New("extractor and calendar backend are required")
	}
	if deps.Responder == nil {
		return nil, errors.New("persona responder is required")
	}
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = 10
	}
	if opts.DefaultScene == "" {
		opts.DefaultScene = character.DefaultSceneName
	}
	if _, ok := deps.Registry.Scene(opts.DefaultScene); !ok {
		logging.Logger().Warn("configured default scene not found", "scene", opts.DefaultScene)
	}
	return &App{
		registry:      deps.Registry,
		bindings:      deps.Bindings,
		extractor:     deps.Extractor,
		backend:       deps.Backend,
		responder:     deps.Responder,
		reminders:     deps.Reminders,
		opts:          opts,
		pending:       make(map[string][]calendar.Event),
		conversations: make(map[string]*conversation),
		scene:         defaultScene(deps.Registry, opts.DefaultScene),
	}, nil
}

// defaultScene resolves name in the registry, falling back to the built-in
// default scene.
func defaultScene(reg *character.Registry, name string) character.SceneSetting {
	if scene, ok := reg.Scene(name); ok {
		return scene
	}
	if scene, ok := reg.Scene(character.DefaultSceneName); ok {
		return scene
	}
	return character.DefaultScenes()[character.DefaultSceneName]
}

// Registry exposes the character registry, which carries its own lock.
func (a *App) Registry() *character.Registry {
	return a.registry
}

// Process extracts events from text without staging or creating them.
func (a *App) Process(ctx context.Context, text string, forceMulti bool) calendar.ProcessResult {
	return a.extractor.Process(ctx, text, forceMulti)
}

// StagePending replaces the user's staged events.
func (a *App) StagePending(user User, events []calendar.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[user.Key] = append([]calendar.Event(nil), events...)
}

// Pending returns the user's staged events.
func (a *App) Pending(user User) []calendar.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]calendar.Event(nil), a.pending[user.Key]...)
}

// Cancel discards the user's staged events and reports how many there were.
func (a *App) Cancel(user User) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.pending[user.Key])
	delete(a.pending, user.Key)
	return n
}

// Confirm creates the user's staged events. Staged state is cleared before
// the calendar is called, so a concurrent Confirm finds nothing to create.
func (a *App) Confirm(ctx context.Context, user User) (calendar.BatchResult, bool) {
	a.mu.Lock()
	events, ok := a.pending[user.Key]
	delete(a.pending, user.Key)
	a.mu.Unlock()
	if !ok || len(events) == 0 {
		return calendar.BatchResult{}, false
	}
	return a.CreateEvents(ctx, user, events), true
}

// CreateEvents writes events to the calendar and schedules reminders for the
// ones created.
func (a *App) CreateEvents(ctx context.Context, user User, events []calendar.Event) calendar.BatchResult {
	result := calendar.CreateAll(ctx, a.backend, a.opts.CalendarID, events)
	for _, f := range result.Failures {
		logging.Logger().Warn("calendar event creation failed", "index", f.Index, "title", f.Event.Title, "err", f.Err)
	}
	if a.reminders == nil || user.Channel == "" || user.Target == "" {
		return result
	}
	for _, created := range result.Created {
		if _, err := a.reminders.Add(ctx, scheduler.AddInput{
			EventID: created.ID,
			Title:   created.Summary,
			Start:   created.Start,
			Link:    created.Link,
			Channel: user.Channel,
			Target:  user.Target,
		}); err != nil {
			logging.Logger().Warn("reminder registration failed", "event_id", created.ID, "err", err)
		}
	}
	return result
}

// ListEvents returns up to n upcoming events. n <= 0 uses the configured
// default.
func (a *App) ListEvents(ctx context.Context, n int) ([]calendar.Created, error) {
	if n <= 0 {
		n = a.opts.ListLimit
	}
	return a.backend.ListEvents(ctx, a.opts.CalendarID, n)
}

// Scene returns the current scene.
func (a *App) Scene() character.SceneSetting {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scene
}

// ChangeScene switches the shared current scene.
func (a *App) ChangeScene(name string) (character.SceneSetting, error) {
	scene, ok := a.registry.Scene(name)
	if !ok {
		return character.SceneSetting{}, fmt.Errorf("%w: %s", ErrNoScene, strings.TrimSpace(name))
	}
	a.mu.Lock()
	a.scene = scene
	a.mu.Unlock()
	return scene, nil
}

// DeleteScene removes a custom scene. When it was the current scene the
// conversation moves to whatever now answers to that name, or the default.
func (a *App) DeleteScene(name string) (bool, error) {
	deleted, err := a.registry.DeleteScene(name)
	if err != nil || !deleted {
		return deleted, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scene.Name == strings.TrimSpace(name) {
		if restored, ok := a.registry.Scene(name); ok {
			a.scene = restored
		} else {
			a.scene = defaultScene(a.registry, a.opts.DefaultScene)
		}
	}
	return true, nil
}

// StartTalk puts the user in persona chat with the referenced character.
func (a *App) StartTalk(user User, ref string) (string, character.CharacterTrait, error) {
	key, c, ok := a.registry.Character(ref)
	if !ok {
		return "", character.CharacterTrait{}, fmt.Errorf("%w: %s", ErrNoCharacter, ref)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, err := a.conversationLocked(user)
	if err != nil {
		return "", character.CharacterTrait{}, err
	}
	conv.characterKey = key
	conv.talking = true
	return key, c, nil
}

// StopTalk leaves persona chat and reports whether the user was in it.
func (a *App) StopTalk(user User) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[user.Key]
	if !ok || !conv.talking {
		return false
	}
	conv.talking = false
	return true
}

// Talking reports whether the user is in persona chat, and with whom.
func (a *App) Talking(user User) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[user.Key]
	if !ok || !conv.talking {
		return "", false
	}
	return conv.characterKey, true
}

// History returns the user's persona conversation.
func (a *App) History(user User) []persona.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[user.Key]
	if !ok {
		return nil
	}
	return conv.history.Entries()
}

// Talk sends one persona turn. Model failures become the fixed apology;
// exhausted spend limits are reported as such.
func (a *App) Talk(ctx context.Context, user User, input string) (string, error) {
	a.mu.Lock()
	conv, ok := a.conversations[user.Key]
	if !ok || !conv.talking {
		a.mu.Unlock()
		return "", errors.New("not in a persona conversation")
	}
	_, c, found := a.registry.Character(conv.characterKey)
	if !found {
		a.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNoCharacter, conv.characterKey)
	}
	turn := persona.Turn{
		Character:  c,
		Scene:      a.scene,
		Background: a.bindings.EnhancedPrompt(c.Name),
		History:    conv.history.Entries(),
		Input:      input,
	}
	a.mu.Unlock()

	reply, err := a.responder.Reply(ctx, turn)
	if err != nil {
		if errors.Is(err, costs.ErrLimitReached) {
			return "已達到模型使用上限，請稍後再試。", nil
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		logging.Logger().Warn("persona reply failed", "character", c.Name, "err", err)
		return persona.Unavailable, nil
	}

	a.mu.Lock()
	conv.history.Append(reply.Entries...)
	if reply.Development != "" {
		if err := a.bindings.RecordDevelopment(c.Name, reply.Development); err != nil {
			logging.Logger().Warn("record development failed", "character", c.Name, "err", err)
		}
	}
	transcript := conv.transcript
	a.mu.Unlock()

	if transcript != nil {
		if err := transcript.Append(ctx, reply.Entries); err != nil {
			logging.Logger().Warn("persist transcript failed", "user", user.Key, "err", err)
		}
	}
	return reply.Text, nil
}

// conversationLocked returns the user's conversation, creating it and
// loading any saved transcript on first use.
func (a *App) conversationLocked(user User) (*conversation, error) {
	if conv, ok := a.conversations[user.Key]; ok {
		return conv, nil
	}
	conv := &conversation{history: persona.NewHistory(a.opts.HistoryLimit)}
	if a.opts.SessionsDir != "" {
		transcript, err := session.ForUser(a.opts.SessionsDir, user.Key)
		if err != nil {
			return nil, err
		}
		saved, err := transcript.Load(context.Background())
		if err != nil {
			logging.Logger().Warn("load transcript failed", "user", user.Key, "err", err)
		}
		conv.history.Append(saved...)
		conv.transcript = transcript
	}
	a.conversations[user.Key] = conv
	return conv, nil
}
