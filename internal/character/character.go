// Package character holds persona profiles, scenes and background drafts,
// merging the built-in set with user-created content stored on disk.
package character

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultAge is used when a character is created without an age.
	DefaultAge = 25
	// DefaultGender is used when a character is created without a gender.
	DefaultGender = "未指定"
	// DefaultWeather is used when a scene is created without weather.
	DefaultWeather = "晴朗"
)

// CharacterTrait is a persona profile. Name is its identity.
type CharacterTrait struct {
	Name          string            `json:"name" validate:"required,max=64"`
	Personality   string            `json:"personality"`
	Values        []string          `json:"values"`
	SpeechStyle   string            `json:"speech_style"`
	Background    string            `json:"background"`
	Profession    string            `json:"profession"`
	Interests     []string          `json:"interests"`
	Age           int               `json:"age" validate:"gte=0,lte=150"`
	Gender        string            `json:"gender"`
	Relationships map[string]string `json:"relationships"`
}

// withDefaults fills unset fields and collapses duplicate set members.
func (c CharacterTrait) withDefaults() CharacterTrait {
	c.Name = strings.TrimSpace(c.Name)
	if c.Age == 0 {
		c.Age = DefaultAge
	}
	if strings.TrimSpace(c.Gender) == "" {
		c.Gender = DefaultGender
	}
	c.Values = uniqueStrings(c.Values)
	c.Interests = uniqueStrings(c.Interests)
	if c.Relationships == nil {
		c.Relationships = map[string]string{}
	}
	return c
}

// Prompt renders the profile for a model system prompt.
func (c CharacterTrait) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "角色名稱: %s\n", c.Name)
	fmt.Fprintf(&b, "年齡: %d歲\n", c.Age)
	fmt.Fprintf(&b, "性別: %s\n", c.Gender)
	fmt.Fprintf(&b, "職業/身份: %s\n", c.Profession)
	fmt.Fprintf(&b, "性格特徵: %s\n", c.Personality)
	fmt.Fprintf(&b, "價值觀: %s\n", strings.Join(c.Values, ", "))
	fmt.Fprintf(&b, "說話風格: %s\n", c.SpeechStyle)
	fmt.Fprintf(&b, "背景故事: %s\n", c.Background)
	fmt.Fprintf(&b, "興趣愛好: %s", strings.Join(c.Interests, ", "))
	if len(c.Relationships) > 0 {
		names := make([]string, 0, len(c.Relationships))
		for name := range c.Relationships {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+": "+c.Relationships[name])
		}
		fmt.Fprintf(&b, "\n關係: %s", strings.Join(parts, ", "))
	}
	return b.String()
}

// SceneSetting is an environment that frames a conversation. Name is its
// identity.
type SceneSetting struct {
	Name             string   `json:"name" validate:"required,max=64"`
	Location         string   `json:"location"`
	Atmosphere       string   `json:"atmosphere"`
	TimePeriod       string   `json:"time_period"`
	Description      string   `json:"description"`
	Weather          string   `json:"weather"`
	Objects          []string `json:"objects"`
	BackgroundSounds []string `json:"background_sounds"`
}

func (s SceneSetting) withDefaults() SceneSetting {
	s.Name = strings.TrimSpace(s.Name)
	if strings.TrimSpace(s.Weather) == "" {
		s.Weather = DefaultWeather
	}
	return s
}

// Prompt renders the scene for a model system prompt.
func (s SceneSetting) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "場景名稱: %s\n", s.Name)
	fmt.Fprintf(&b, "地點: %s\n", s.Location)
	fmt.Fprintf(&b, "時間: %s\n", s.TimePeriod)
	fmt.Fprintf(&b, "天氣: %s\n", s.Weather)
	fmt.Fprintf(&b, "氛圍: %s\n", s.Atmosphere)
	fmt.Fprintf(&b, "描述: %s", s.Description)
	if len(s.Objects) > 0 {
		fmt.Fprintf(&b, ", 周圍有: %s", strings.Join(s.Objects, ", "))
	}
	if len(s.BackgroundSounds) > 0 {
		fmt.Fprintf(&b, ", 背景聲音: %s", strings.Join(s.BackgroundSounds, ", "))
	}
	return b.String()
}

// EventType classifies a StoryEvent.
type EventType string

const (
	EventDialogue  EventType = "dialogue"
	EventConflict  EventType = "conflict"
	EventDiscovery EventType = "discovery"
	EventDecision  EventType = "decision"
	EventCustom    EventType = "custom"
)

// ParseEventType accepts the canonical names; anything else is an error.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(strings.ToLower(strings.TrimSpace(s))); t {
	case EventDialogue, EventConflict, EventDiscovery, EventDecision, EventCustom:
		return t, nil
	case "":
		return EventCustom, nil
	default:
		return "", &RegistryError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", s)}
	}
}

// Choice is one option offered by a StoryEvent.
type Choice struct {
	Action      string `json:"action"`
	Description string `json:"description"`
}

// StoryEvent is a narrative event that can be bound to a character.
type StoryEvent struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	EventType          EventType      `json:"event_type"`
	TriggerConditions  []string       `json:"trigger_conditions"`
	InvolvedCharacters []string       `json:"involved_characters"`
	Location           string         `json:"location"`
	Choices            []Choice       `json:"choices"`
	Outcomes           []string       `json:"outcomes"`
	CustomData         map[string]any `json:"custom_data"`
}

// BackgroundRecord is a freeform background draft. Character is a plain
// label; binding it to a character happens in the binding store.
type BackgroundRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Character string    `json:"character,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
