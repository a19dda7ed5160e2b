package character

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/neoclaw-ai/talkclaw/internal/logging"
	"github.com/neoclaw-ai/talkclaw/internal/store"
)

// CustomPrefix prefixes the registry key of every user-created character.
const CustomPrefix = "custom_"

// ClearCounts reports how much custom content a clear removed.
type ClearCounts struct {
	Characters  int `json:"characters"`
	Scenes      int `json:"scenes"`
	Backgrounds int `json:"backgrounds"`
}

// Registry is the merged namespace of built-in and custom characters and
// scenes, plus in-memory background drafts.
type Registry struct {
	records  *store.Records
	validate *validator.Validate
	now      func() time.Time

	mu           sync.Mutex
	characters   map[string]CharacterTrait
	scenes       map[string]SceneSetting
	customScenes map[string]struct{}
	backgrounds  []BackgroundRecord
}

// NewRegistry loads custom content from records and merges it over the
// built-in set.
func NewRegistry(records *store.Records) (*Registry, error) {
	r := &Registry{
		records:  records,
		validate: validator.New(),
		now:      time.Now,
	}
	if _, err := r.MergeCharacters(); err != nil {
		return nil, err
	}
	if _, err := r.MergeScenes(); err != nil {
		return nil, err
	}
	return r, nil
}

// MergeCharacters rebuilds the character map: built-ins under their fixed
// keys, then every stored custom character under custom_<name>.
func (r *Registry) MergeCharacters() (map[string]CharacterTrait, error) {
	merged := DefaultCharacters()
	keys, err := r.records.List(store.Characters)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		var c CharacterTrait
		if err := r.records.Get(store.Characters, key, &c); err != nil {
			logging.Logger().Warn("skipping unreadable custom character", "key", key, "err", err)
			continue
		}
		if c.Name == "" {
			logging.Logger().Warn("skipping custom character without name", "key", key)
			continue
		}
		merged[CustomPrefix+c.Name] = c.withDefaults()
	}

	r.mu.Lock()
	r.characters = merged
	r.mu.Unlock()
	return copyCharacters(merged), nil
}

// MergeScenes rebuilds the scene map. A custom scene replaces a built-in
// scene of the same name.
func (r *Registry) MergeScenes() (map[string]SceneSetting, error) {
	merged := DefaultScenes()
	custom := map[string]struct{}{}
	keys, err := r.records.List(store.Scenes)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		var s SceneSetting
		if err := r.records.Get(store.Scenes, key, &s); err != nil {
			logging.Logger().Warn("skipping unreadable custom scene", "key", key, "err", err)
			continue
		}
		if s.Name == "" {
			logging.Logger().Warn("skipping custom scene without name", "key", key)
			continue
		}
		merged[s.Name] = s.withDefaults()
		custom[s.Name] = struct{}{}
	}

	r.mu.Lock()
	r.scenes = merged
	r.customScenes = custom
	r.mu.Unlock()
	return copyScenes(merged), nil
}

// Characters returns a copy of the merged character map.
func (r *Registry) Characters() map[string]CharacterTrait {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyCharacters(r.characters)
}

// CharacterKeys returns the merged keys, built-ins first then custom, each
// group sorted.
func (r *Registry) CharacterKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.characters))
	for key := range r.characters {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := strings.HasPrefix(keys[i], CustomPrefix), strings.HasPrefix(keys[j], CustomPrefix)
		if ci != cj {
			return !ci
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Character resolves a registry key, a custom display name or a built-in
// display name.
func (r *Registry) Character(ref string) (string, CharacterTrait, bool) {
	ref = strings.TrimSpace(ref)
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.characters[ref]; ok {
		return ref, c, true
	}
	if c, ok := r.characters[CustomPrefix+ref]; ok {
		return CustomPrefix + ref, c, true
	}
	for key, c := range r.characters {
		if c.Name == ref {
			return key, c, true
		}
	}
	return "", CharacterTrait{}, false
}

// Scenes returns a copy of the merged scene map.
func (r *Registry) Scenes() map[string]SceneSetting {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyScenes(r.scenes)
}

// SceneNames returns the merged scene names, sorted.
func (r *Registry) SceneNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.scenes))
	for name := range r.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scene looks a scene up by name.
func (r *Registry) Scene(name string) (SceneSetting, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scenes[strings.TrimSpace(name)]
	return s, ok
}

// IsCustomScene reports whether name refers to a user-created scene.
func (r *Registry) IsCustomScene(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.customScenes[strings.TrimSpace(name)]
	return ok
}

// CreateCharacter validates, persists and registers a custom character under
// custom_<name>. Re-creating an existing custom name replaces it; a name used
// by a built-in character, or one whose record file another custom character
// already owns, is rejected.
func (r *Registry) CreateCharacter(c CharacterTrait) (CharacterTrait, error) {
	c = c.withDefaults()
	if err := r.check(c); err != nil {
		return CharacterTrait{}, err
	}
	for _, builtin := range DefaultCharacters() {
		if builtin.Name == c.Name {
			return CharacterTrait{}, &RegistryError{Field: "name", Reason: fmt.Sprintf("%q is a built-in character", c.Name), Err: ErrBuiltin}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, existing := range r.characters {
		if !strings.HasPrefix(key, CustomPrefix) {
			continue
		}
		if err := recordConflict(c.Name, existing.Name); err != nil {
			return CharacterTrait{}, err
		}
	}
	if err := r.records.Put(store.Characters, c.Name, c); err != nil {
		return CharacterTrait{}, r.storeError(err)
	}
	r.characters[CustomPrefix+c.Name] = c
	logging.Logger().Info("custom character created", "character", c.Name)
	return c, nil
}

// CreateScene validates, persists and registers a custom scene. It may
// shadow a built-in scene of the same name.
func (r *Registry) CreateScene(s SceneSetting) (SceneSetting, error) {
	s = s.withDefaults()
	if err := r.check(s); err != nil {
		return SceneSetting{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.customScenes {
		if err := recordConflict(s.Name, name); err != nil {
			return SceneSetting{}, err
		}
	}
	if err := r.records.Put(store.Scenes, s.Name, s); err != nil {
		return SceneSetting{}, r.storeError(err)
	}
	r.scenes[s.Name] = s
	r.customScenes[s.Name] = struct{}{}
	logging.Logger().Info("custom scene created", "scene", s.Name)
	return s, nil
}

// recordConflict reports whether name would overwrite the record of a
// different custom entry whose name sanitizes to the same key.
func recordConflict(name, existing string) error {
	if name == existing {
		return nil
	}
	key, err := store.SanitizeName(name)
	if err != nil {
		return &RegistryError{Field: "name", Reason: err.Error()}
	}
	other, err := store.SanitizeName(existing)
	if err != nil || other != key {
		return nil
	}
	return &RegistryError{Field: "name", Reason: fmt.Sprintf("%q is stored under the same key as %q", name, existing)}
}

// DeleteCharacter removes a custom character by display name or registry
// key. It returns false for unknown names and for built-in characters.
func (r *Registry) DeleteCharacter(ref string) (bool, error) {
	key, c, ok := r.Character(ref)
	if !ok || !strings.HasPrefix(key, CustomPrefix) {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.records.Delete(store.Characters, c.Name); err != nil {
		return false, r.storeError(err)
	}
	delete(r.characters, key)
	return true, nil
}

// DeleteScene removes a custom scene. A built-in scene it shadowed becomes
// visible again. Built-in scenes themselves are never deleted.
func (r *Registry) DeleteScene(name string) (bool, error) {
	name = strings.TrimSpace(name)
	if !r.IsCustomScene(name) {
		return false, nil
	}
	if _, err := r.records.Delete(store.Scenes, name); err != nil {
		return false, r.storeError(err)
	}

	r.mu.Lock()
	delete(r.customScenes, name)
	if builtin, ok := DefaultScenes()[name]; ok {
		r.scenes[name] = builtin
	} else {
		delete(r.scenes, name)
	}
	r.mu.Unlock()
	return true, nil
}

// CreateBackground stores a background draft in memory under a short id.
func (r *Registry) CreateBackground(title, content, characterName string) (BackgroundRecord, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" {
		return BackgroundRecord{}, &RegistryError{Field: "title", Reason: "is required"}
	}
	if content == "" {
		return BackgroundRecord{}, &RegistryError{Field: "content", Reason: "is required"}
	}
	rec := BackgroundRecord{
		ID:        uuid.NewString()[:8],
		Title:     title,
		Content:   content,
		Character: strings.TrimSpace(characterName),
		CreatedAt: r.now(),
	}

	r.mu.Lock()
	r.backgrounds = append(r.backgrounds, rec)
	r.mu.Unlock()
	return rec, nil
}

// Backgrounds returns the background drafts in creation order.
func (r *Registry) Backgrounds() []BackgroundRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BackgroundRecord, len(r.backgrounds))
	copy(out, r.backgrounds)
	return out
}

// Background returns the draft with the given id.
func (r *Registry) Background(id string) (BackgroundRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.backgrounds {
		if rec.ID == id {
			return rec, true
		}
	}
	return BackgroundRecord{}, false
}

// ClearAllCustom deletes every stored custom character and scene, drops the
// background drafts and re-merges, leaving only built-ins.
func (r *Registry) ClearAllCustom() (ClearCounts, error) {
	var counts ClearCounts
	var err error
	if counts.Characters, err = r.records.Clear(store.Characters); err != nil {
		return counts, r.storeError(err)
	}
	if counts.Scenes, err = r.records.Clear(store.Scenes); err != nil {
		return counts, r.storeError(err)
	}

	r.mu.Lock()
	counts.Backgrounds = len(r.backgrounds)
	r.backgrounds = nil
	r.mu.Unlock()

	if _, err := r.MergeCharacters(); err != nil {
		return counts, err
	}
	if _, err := r.MergeScenes(); err != nil {
		return counts, err
	}
	return counts, nil
}

// ResetToFactory wipes the custom storage area, recreates it empty and
// installs the built-in literals without consulting storage.
func (r *Registry) ResetToFactory() (ClearCounts, error) {
	r.mu.Lock()
	counts := ClearCounts{Backgrounds: len(r.backgrounds)}
	for key := range r.characters {
		if strings.HasPrefix(key, CustomPrefix) {
			counts.Characters++
		}
	}
	counts.Scenes = len(r.customScenes)
	r.mu.Unlock()

	if err := r.records.Wipe(); err != nil {
		return counts, r.storeError(err)
	}

	r.mu.Lock()
	r.characters = DefaultCharacters()
	r.scenes = DefaultScenes()
	r.customScenes = map[string]struct{}{}
	r.backgrounds = nil
	r.mu.Unlock()
	return counts, nil
}

func (r *Registry) check(v any) error {
	if err := r.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &RegistryError{Field: strings.ToLower(fe.Field()), Reason: fmt.Sprintf("fails %q", fe.Tag())}
		}
		return &RegistryError{Reason: err.Error()}
	}
	if _, err := store.SanitizeName(nameOf(v)); err != nil {
		return &RegistryError{Field: "name", Reason: err.Error()}
	}
	return nil
}

func (r *Registry) storeError(err error) error {
	if errors.Is(err, store.ErrInvalidName) {
		return &RegistryError{Field: "name", Reason: err.Error()}
	}
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return fmt.Errorf("custom storage: %w", err)
}

func nameOf(v any) string {
	switch t := v.(type) {
	case CharacterTrait:
		return t.Name
	case SceneSetting:
		return t.Name
	default:
		return ""
	}
}

func copyCharacters(in map[string]CharacterTrait) map[string]CharacterTrait {
	out := make(map[string]CharacterTrait, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyScenes(in map[string]SceneSetting) map[string]SceneSetting {
	out := make(map[string]SceneSetting, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
