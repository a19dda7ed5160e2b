package character

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Drafts are the line-oriented forms users type for /create. Each line is
// "key: value" (ASCII or full-width colon). Lines that start with
// whitespace continue the previous value. Keys accept English and Chinese
// aliases.

var characterAliases = aliasIndex(map[string][]string{
	"name":          {"名稱", "名字", "角色名稱"},
	"personality":   {"性格", "性格特徵"},
	"values":        {"價值觀"},
	"speech_style":  {"speech", "說話風格"},
	"background":    {"背景", "背景故事"},
	"profession":    {"職業", "身份"},
	"interests":     {"興趣", "興趣愛好"},
	"age":           {"年齡"},
	"gender":        {"性別"},
	"relationships": {"關係"},
})

var sceneAliases = aliasIndex(map[string][]string{
	"name":              {"名稱", "場景名稱"},
	"location":          {"地點"},
	"atmosphere":        {"氛圍"},
	"time_period":       {"time", "時間"},
	"description":       {"描述"},
	"weather":           {"天氣"},
	"objects":           {"物件", "物品"},
	"background_sounds": {"sounds", "聲音", "背景聲音"},
})

var backgroundAliases = aliasIndex(map[string][]string{
	"title":     {"標題"},
	"content":   {"內容"},
	"character": {"角色"},
})

func aliasIndex(fields map[string][]string) map[string]string {
	out := make(map[string]string)
	for canonical, aliases := range fields {
		out[canonical] = canonical
		for _, alias := range aliases {
			out[alias] = canonical
		}
	}
	return out
}

// ParseCharacterDraft parses a character form. Only name is required.
func ParseCharacterDraft(text string) (CharacterTrait, error) {
	fields, err := parseDraft(text, characterAliases)
	if err != nil {
		return CharacterTrait{}, err
	}
	if err := require(fields, "name"); err != nil {
		return CharacterTrait{}, err
	}

	c := CharacterTrait{
		Name:        fields["name"],
		Personality: fields["personality"],
		Values:      splitList(fields["values"]),
		SpeechStyle: fields["speech_style"],
		Background:  fields["background"],
		Profession:  fields["profession"],
		Interests:   splitList(fields["interests"]),
		Gender:      fields["gender"],
	}
	if raw, ok := fields["age"]; ok && raw != "" {
		age, err := strconv.Atoi(strings.TrimSuffix(raw, "歲"))
		if err != nil {
			return CharacterTrait{}, &RegistryError{Field: "age", Reason: fmt.Sprintf("must be an integer, got %q", raw)}
		}
		c.Age = age
	}
	if raw, ok := fields["relationships"]; ok && raw != "" {
		rel, err := parseRelationships(raw)
		if err != nil {
			return CharacterTrait{}, err
		}
		c.Relationships = rel
	}
	return c, nil
}

// ParseSceneDraft parses a scene form. Only name is required.
func ParseSceneDraft(text string) (SceneSetting, error) {
	fields, err := parseDraft(text, sceneAliases)
	if err != nil {
		return SceneSetting{}, err
	}
	if err := require(fields, "name"); err != nil {
		return SceneSetting{}, err
	}
	return SceneSetting{
		Name:             fields["name"],
		Location:         fields["location"],
		Atmosphere:       fields["atmosphere"],
		TimePeriod:       fields["time_period"],
		Description:      fields["description"],
		Weather:          fields["weather"],
		Objects:          splitList(fields["objects"]),
		BackgroundSounds: splitList(fields["background_sounds"]),
	}, nil
}

// BackgroundDraft is a parsed background form.
type BackgroundDraft struct {
	Title     string
	Content   string
	Character string
}

// ParseBackgroundDraft parses a background form. title and content are
// required.
func ParseBackgroundDraft(text string) (BackgroundDraft, error) {
	fields, err := parseDraft(text, backgroundAliases)
	if err != nil {
		return BackgroundDraft{}, err
	}
	if err := require(fields, "title", "content"); err != nil {
		return BackgroundDraft{}, err
	}
	return BackgroundDraft{
		Title:     fields["title"],
		Content:   fields["content"],
		Character: fields["character"],
	}, nil
}

func parseDraft(text string, aliases map[string]string) (map[string]string, error) {
	fields := map[string]string{}
	var current string

	scanner := bufio.NewScanner(strings.NewReader(text))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if current == "" {
				return nil, &RegistryError{Reason: fmt.Sprintf("line %d: continuation without a field", lineNo)}
			}
			fields[current] = strings.TrimSpace(fields[current] + "\n" + strings.TrimSpace(line))
			continue
		}

		key, value, ok := cutColon(line)
		if !ok {
			return nil, &RegistryError{Reason: fmt.Sprintf("line %d: expected \"key: value\"", lineNo)}
		}
		canonical, known := aliases[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			return nil, &RegistryError{Field: strings.TrimSpace(key), Reason: fmt.Sprintf("line %d: unknown field", lineNo)}
		}
		if _, dup := fields[canonical]; dup {
			return nil, &RegistryError{Field: canonical, Reason: fmt.Sprintf("line %d: duplicate field", lineNo)}
		}
		fields[canonical] = strings.TrimSpace(value)
		current = canonical
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	return fields, nil
}

// cutColon splits at the first ASCII or full-width colon, whichever is
// earlier.
func cutColon(line string) (string, string, bool) {
	ascii := strings.Index(line, ":")
	wide := strings.Index(line, "：")
	switch {
	case ascii < 0 && wide < 0:
		return "", "", false
	case wide < 0 || (ascii >= 0 && ascii < wide):
		return line[:ascii], line[ascii+1:], true
	default:
		return line[:wide], line[wide+len("："):], true
	}
}

func require(fields map[string]string, names ...string) error {
	for _, name := range names {
		if strings.TrimSpace(fields[name]) == "" {
			return &RegistryError{Field: name, Reason: "is required"}
		}
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '，' || r == '、' || r == '\n'
	})
	return uniqueStrings(parts)
}

// parseRelationships reads "name=relation" pairs separated like a list.
func parseRelationships(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, item := range splitList(raw) {
		name, rel, ok := strings.Cut(item, "=")
		if !ok {
			return nil, &RegistryError{Field: "relationships", Reason: fmt.Sprintf("expected name=relation, got %q", item)}
		}
		name, rel = strings.TrimSpace(name), strings.TrimSpace(rel)
		if name == "" || rel == "" {
			return nil, &RegistryError{Field: "relationships", Reason: fmt.Sprintf("expected name=relation, got %q", item)}
		}
		out[name] = rel
	}
	return out, nil
}
